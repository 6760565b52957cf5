package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen lets a single probe through to sample the provider.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when a breaker opens and for how long.
type BreakerConfig struct {
	Target       string
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
	Logger       *zerolog.Logger
}

// Breaker guards one upstream provider with a failure-ratio circuit.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewBreaker applies defaults to cfg and returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.FailureRatio > 1 {
		cfg.FailureRatio = 1
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	b := &Breaker{cfg: cfg, state: Closed, now: time.Now}
	b.recordStateLocked()
	return b
}

// Target is the provider label used in metrics and logs.
func (b *Breaker) Target() string { return b.cfg.Target }

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may go out. After the cool-off an open breaker
// moves to half-open and lets the next request probe the provider.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
		return false
	}
	b.changeStateLocked(ctx, HalfOpen)
	return true
}

// Report records the outcome of a request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.changeStateLocked(ctx, Closed)
		} else {
			b.changeStateLocked(ctx, Open)
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.failures + b.successes
	if total < b.cfg.MinRequests {
		return
	}
	if float64(b.failures)/float64(total) >= b.cfg.FailureRatio {
		b.changeStateLocked(ctx, Open)
		return
	}
	if total > b.cfg.MinRequests*2 {
		// decay so old successes do not mask a fresh outage
		b.successes = int(math.Ceil(float64(b.successes) * 0.5))
		b.failures = int(math.Ceil(float64(b.failures) * 0.5))
	}
}

// Backoff returns an exponential backoff duration for the provided attempt.
// Jitter is expressed as a fraction (e.g. 0.2 == 20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	jitter := float64(d) * jitterPct
	delta := (rand.Float64()*2 - 1) * jitter
	return d + time.Duration(delta)
}

func (b *Breaker) changeStateLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.failures = 0
	b.successes = 0
	b.recordStateLocked()
	if prev == next {
		return
	}
	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	}
	evt := b.logger(ctx).Info().
		Str("target", b.cfg.Target).
		Str("from_state", prev.String()).
		Str("to_state", next.String())
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) recordStateLocked() {
	BreakerState.WithLabelValues(b.cfg.Target).Set(float64(b.state))
}

func (b *Breaker) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if b.cfg.Logger != nil {
		return b.cfg.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
