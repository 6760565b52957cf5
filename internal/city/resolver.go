// Package city turns free-text city queries into a destination the carrier knows:
// debounced suggestions first, then a lookup of the carrier's own city code.
package city

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/debounce"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/geocode"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

// State is the resolver step.
type State string

const (
	StateIdle             State = "IDLE"
	StateSuggesting       State = "SUGGESTING"
	StateSuggested        State = "SUGGESTED"
	StateResolving        State = "RESOLVING"
	StateResolved         State = "RESOLVED"
	StateResolutionFailed State = "RESOLUTION_FAILED"
)

const (
	// DefaultDebounce is the quiet period after the last keystroke.
	DefaultDebounce = 300 * time.Millisecond
	// MinQueryLength is the shortest query that is looked up.
	MinQueryLength = 2
)

// CarrierDirectory maps a human city name to the carrier's city code.
type CarrierDirectory interface {
	ResolveCarrierCity(ctx context.Context, name string) (string, error)
}

// Listener receives the resolver's render and workflow signals. Calls happen outside
// the resolver state lock and may come from timer goroutines, but never concurrently:
// a result is delivered before any later Type or Select takes effect.
type Listener interface {
	SuggestionsRendered(query string, suggestions []geocode.Suggestion)
	CitySelected(name string)
	CityResolved(city delivery.City)
	CityResolutionFailed(name string, err error)
}

// Config wires a Resolver.
type Config struct {
	Suggester geocode.Suggester
	Directory CarrierDirectory
	Listener  Listener
	Debounce  time.Duration
	Logger    *zerolog.Logger
}

// Snapshot is the renderable resolver state.
type Snapshot struct {
	State       State                `json:"state"`
	Query       string               `json:"query"`
	Suggestions []geocode.Suggestion `json:"suggestions"`
	Selected    string               `json:"selected,omitempty"`
	City        *delivery.City       `json:"city,omitempty"`
}

// Resolver is the per-session city resolution state machine.
type Resolver struct {
	cfg       Config
	debouncer *debounce.Debouncer

	// dispatch is held from a ticket check until the listener returns, and by every
	// transition that can supersede tickets. Order: dispatch, then mu.
	dispatch sync.Mutex

	mu          sync.Mutex
	suggestSeq  debounce.Sequence
	resolveSeq  debounce.Sequence
	state       State
	query       string
	suggestions []geocode.Suggestion
	selected    string
	city        *delivery.City
}

// New constructs an idle resolver.
func New(cfg Config) *Resolver {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return &Resolver{cfg: cfg, debouncer: debounce.New(cfg.Debounce), state: StateIdle}
}

// Type handles a keystroke. Any in-flight resolution becomes stale. Queries shorter
// than MinQueryLength runes clear the suggestions; longer ones are looked up once the
// input settles.
func (r *Resolver) Type(ctx context.Context, text string) Snapshot {
	query := strings.TrimSpace(text)

	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveSeq.Invalidate()
	ticket := r.suggestSeq.Next()
	r.query = query
	if utf8.RuneCountInString(query) < MinQueryLength {
		r.debouncer.Stop()
		r.state = StateIdle
		r.suggestions = nil
		return r.snapshotLocked()
	}
	r.state = StateSuggesting
	bg := context.WithoutCancel(ctx)
	r.debouncer.Trigger(func() { r.suggest(bg, ticket, query) })
	return r.snapshotLocked()
}

func (r *Resolver) suggest(ctx context.Context, ticket uint64, query string) {
	list, err := r.cfg.Suggester.SuggestCities(ctx, query)
	if err != nil {
		obs.Count(obs.SuggestionsTotal, "error")
		r.cfg.Logger.Warn().Err(err).Str("query", query).Msg("city suggestions unavailable")
		list = []geocode.Suggestion{}
	}
	if list == nil {
		list = []geocode.Suggestion{}
	}

	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	r.mu.Lock()
	if !r.suggestSeq.Current(ticket) {
		r.mu.Unlock()
		obs.Count(obs.SuggestionsTotal, "stale")
		return
	}
	r.state = StateSuggested
	r.suggestions = list
	r.mu.Unlock()

	if err == nil {
		obs.Count(obs.SuggestionsTotal, "ok")
	}
	if r.cfg.Listener != nil {
		r.cfg.Listener.SuggestionsRendered(query, list)
	}
}

// Select picks a suggestion: downstream state is reset through the listener and the
// carrier code is looked up in the background. The returned channel closes once the
// lookup finished, whether its result was applied or discarded.
func (r *Resolver) Select(ctx context.Context, name string) (Snapshot, <-chan struct{}) {
	name = strings.TrimSpace(name)
	done := make(chan struct{})

	r.dispatch.Lock()
	r.mu.Lock()
	r.debouncer.Stop()
	r.suggestSeq.Invalidate()
	ticket := r.resolveSeq.Next()
	r.state = StateResolving
	r.selected = name
	r.query = name
	r.suggestions = nil
	r.city = nil
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.cfg.Listener != nil {
		r.cfg.Listener.CitySelected(name)
	}
	r.dispatch.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		r.resolve(bg, ticket, name)
	}()
	return snap, done
}

func (r *Resolver) resolve(ctx context.Context, ticket uint64, name string) {
	code, err := r.cfg.Directory.ResolveCarrierCity(ctx, name)

	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	r.mu.Lock()
	if !r.resolveSeq.Current(ticket) {
		r.mu.Unlock()
		obs.Count(obs.CityResolutionTotal, "stale")
		r.cfg.Logger.Debug().Str("city", name).Msg("discard stale city resolution")
		return
	}
	if err != nil || code == "" {
		r.state = StateResolutionFailed
		r.city = nil
		r.mu.Unlock()
		obs.Count(obs.CityResolutionTotal, "failed")
		r.cfg.Logger.Warn().Err(err).Str("city", name).Msg("resolve carrier city")
		if r.cfg.Listener != nil {
			r.cfg.Listener.CityResolutionFailed(name, err)
		}
		return
	}
	city := delivery.City{Name: name, Code: code}
	r.state = StateResolved
	r.city = &city
	r.mu.Unlock()

	obs.Count(obs.CityResolutionTotal, "resolved")
	if r.cfg.Listener != nil {
		r.cfg.Listener.CityResolved(city)
	}
}

// Snapshot returns the current state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close drops any pending keystroke lookup.
func (r *Resolver) Close() {
	r.debouncer.Stop()
}

func (r *Resolver) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       r.state,
		Query:       r.query,
		Suggestions: append([]geocode.Suggestion{}, r.suggestions...),
		Selected:    r.selected,
	}
	if r.city != nil {
		c := *r.city
		snap.City = &c
	}
	return snap
}
