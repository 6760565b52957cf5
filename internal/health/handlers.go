package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the readiness flag; the server clears it when shutdown begins.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	// Checker is nil when the service runs without Redis.
	Checker      Checker
	Breakers     []*resilience.Breaker
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness. Redis is required when configured; an open provider
// breaker only marks the service degraded since adapters fall back.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disabled"
	if h.Checker != nil {
		redisStatus = "ok"
		if err := h.Checker.PingRedis(r.Context(), h.redisTimeout()); err != nil {
			redisStatus = err.Error()
		}
	}
	providers := make(map[string]string, len(h.Breakers))
	degraded := false
	for _, b := range h.Breakers {
		if b == nil {
			continue
		}
		state := b.State()
		providers[b.Target()] = state.String()
		if state == resilience.Open {
			degraded = true
		}
	}
	status := map[string]any{
		"redis":     redisStatus,
		"providers": providers,
		"degraded":  degraded,
		"accepting": ready.Load(),
	}
	code := http.StatusOK
	if !ready.Load() || (redisStatus != "ok" && redisStatus != "disabled") {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
