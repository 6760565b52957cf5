package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem rejects replays of a write request carrying the same Idempotency-Key, so a
// double-clicked "pay" button cannot open two payments.
type Idem struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (i Idem) key(header string) string {
	sum := sha256.Sum256([]byte(header))
	prefix := i.Prefix
	if prefix == "" {
		prefix = "idem"
	}
	return prefix + ":" + hex.EncodeToString(sum[:])
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 10 * time.Minute
	}
	return i.TTL
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := i.key(header)
		ok, err := i.R.SetNX(r.Context(), key, "locked", i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		defer func() {
			_ = i.R.Expire(context.Background(), key, i.ttl()).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
