// Package security holds the HTTP hardening middlewares of the storefront API.
package security

import (
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// DefaultMaxBody fits every checkout payload with room to spare.
const DefaultMaxBody int64 = 64 << 10

// BodyLimit enforces a maximum request payload size.
type BodyLimit struct {
	Max int64
}

// Middleware rejects declared oversized payloads with 413 and caps the rest, so a
// handler decoding a body that is too long sees a read error.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	limit := b.Max
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
