package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidID is returned for session ids that are not UUIDs.
var ErrInvalidID = errors.New("session: invalid session id")

// DefaultIdleTTL is how long an untouched session stays in memory.
const DefaultIdleTTL = 30 * time.Minute

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Registry keeps the live sessions of this process. Carts survive eviction through
// their storage; delivery and city state do not.
type Registry struct {
	deps Deps
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Registry{deps: deps, ttl: ttl, now: time.Now, sessions: make(map[string]*entry)}
}

// Create starts a session with a fresh id.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	return r.Get(ctx, uuid.NewString())
}

// Get returns the session for id, creating it and restoring its cart on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrInvalidID
	}
	id = parsed.String()

	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.session, nil
	}
	r.mu.Unlock()

	fresh := New(id, r.deps)
	fresh.Restore(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		// lost a creation race
		fresh.Close()
		e.lastSeen = r.now()
		return e.session, nil
	}
	r.sessions[id] = &entry{session: fresh, lastSeen: r.now()}
	return fresh, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the ttl and returns how many went.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	var evicted []*Session
	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			evicted = append(evicted, e.session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range evicted {
		s.Close()
	}
	return len(evicted)
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger().Info().Int("evicted", n).Int("live", r.Len()).Msg("session sweep")
			}
		}
	}
}

func (r *Registry) logger() *zerolog.Logger {
	if r.deps.Logger != nil {
		return r.deps.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
