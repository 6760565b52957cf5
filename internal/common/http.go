package common

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ClientIP returns the client address of r. Forwarded headers are not consulted here:
// middleware.RealIP rewrites RemoteAddr before any handler runs. IPv6 clients are
// folded to their /64 so one host cannot rotate through its prefix.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String()
}

// SessionClientKey keys throttling on the session in the URL and the client address,
// so every open checkout gets its own keystroke budget. Requests outside a session
// route fall back to the address alone.
func SessionClientKey(r *http.Request) string {
	ip := ClientIP(r)
	if id := chi.URLParam(r, "sessionID"); id != "" {
		return "session:" + id + ":" + ip
	}
	return "ip:" + ip
}
