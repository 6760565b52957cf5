package security

import (
	"net/http"
	"strconv"
	"strings"
)

// apiPolicy forbids the JSON responses from loading or being framed by anything.
const apiPolicy = "default-src 'none'; frame-ancestors 'none'"

// Headers sets the response headers every checkout endpoint shares. Session state is
// personal, so nothing is cacheable.
type Headers struct {
	Enable     bool
	EnableHSTS bool
	HSTSMaxAge int
	// HSTSIncludeSubdomains extends HSTS to every storefront subdomain.
	HSTSIncludeSubdomains bool
	// TrustForwardedProto treats X-Forwarded-Proto: https as TLS, for deployments where
	// the load balancer terminates it.
	TrustForwardedProto bool
}

func (h Headers) hsts() string {
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if h.HSTSIncludeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}

func (h Headers) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.TrustForwardedProto && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Middleware attaches the headers before the handler writes.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("Content-Security-Policy", apiPolicy)
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=(), payment=()")
		headers.Set("Cache-Control", "no-store")
		if h.EnableHSTS && h.secure(r) {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
