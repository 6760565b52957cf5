package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// ErrInvalidCode is wrapped by the validation error returned for unknown promo codes.
var ErrInvalidCode = errors.New("cart: invalid promo code")

// ErrInvalidQuantity is returned when a quantity would become negative.
var ErrInvalidQuantity = errors.New("cart: quantity must not be negative")

// promoCodes is the closed set of accepted codes and their discount percent.
var promoCodes = map[string]int{
	"PROMO7":  7,
	"PROMO20": 20,
}

// Counts is the persisted cart shape. It must round-trip exactly.
type Counts struct {
	CameraCount int `json:"cameraCount"`
	MemoryCount int `json:"memoryCount"`
}

// Get returns the quantity for kind.
func (c Counts) Get(kind pricing.ItemKind) int {
	switch kind {
	case pricing.Camera:
		return c.CameraCount
	case pricing.Memory:
		return c.MemoryCount
	}
	return 0
}

func (c Counts) with(kind pricing.ItemKind, qty int) Counts {
	switch kind {
	case pricing.Camera:
		c.CameraCount = qty
	case pricing.Memory:
		c.MemoryCount = qty
	}
	return c
}

// Map converts the counts for the pricing engine.
func (c Counts) Map() map[pricing.ItemKind]int {
	return map[pricing.ItemKind]int{
		pricing.Camera: c.CameraCount,
		pricing.Memory: c.MemoryCount,
	}
}

// Items is the badge count.
func (c Counts) Items() int { return c.CameraCount + c.MemoryCount }

func (c Counts) normalized() Counts {
	if c.CameraCount < 0 {
		c.CameraCount = 0
	}
	if c.MemoryCount < 0 {
		c.MemoryCount = 0
	}
	return c
}

// View is the refresh signal sent after every mutation: badge count, line totals and
// the grand total including the current shipping cost.
type View struct {
	Counts    Counts          `json:"counts"`
	PromoCode string          `json:"promoCode,omitempty"`
	Badge     int             `json:"badge"`
	Summary   pricing.Summary `json:"summary"`
}

// Options configures a Store.
type Options struct {
	SessionID string
	Storage   Storage
	Events    *events.Bus
	// Shipping reports the shipping cost currently committed by the delivery flow.
	Shipping func() pricing.Money
	// OnRefresh receives the refresh signal after every mutation.
	OnRefresh func(View)
	Logger    *zerolog.Logger
}

// Store owns the item counts and discount state of one session.
type Store struct {
	opts Options

	mu       sync.Mutex
	counts   Counts
	promo    string
	discount int
}

// NewStore constructs an empty store; call Restore once to load persisted counts.
func NewStore(opts Options) *Store {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Store{opts: opts}
}

// Restore loads the persisted counts. A missing cart leaves the store empty.
func (s *Store) Restore(ctx context.Context) error {
	counts, ok, err := s.opts.Storage.Load(ctx, s.opts.SessionID)
	if err != nil {
		return fmt.Errorf("cart: load: %w", err)
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.counts = counts
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current view without mutating anything.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Counts returns the current item counts.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// DiscountPercent returns the active discount.
func (s *Store) DiscountPercent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discount
}

// Increment adds one item of kind.
func (s *Store) Increment(ctx context.Context, kind pricing.ItemKind) (View, error) {
	return s.mutate(ctx, "increment", kind, func(qty int) int { return qty + 1 })
}

// Decrement removes one item of kind, never going below zero.
func (s *Store) Decrement(ctx context.Context, kind pricing.ItemKind) (View, error) {
	return s.mutate(ctx, "decrement", kind, func(qty int) int {
		if qty <= 0 {
			return 0
		}
		return qty - 1
	})
}

// Remove drops every item of kind.
func (s *Store) Remove(ctx context.Context, kind pricing.ItemKind) (View, error) {
	return s.mutate(ctx, "remove", kind, func(int) int { return 0 })
}

// Set overwrites the quantity of kind.
func (s *Store) Set(ctx context.Context, kind pricing.ItemKind, qty int) (View, error) {
	if qty < 0 {
		return s.Snapshot(), common.ValidationError(common.CodeValidation, "quantity must not be negative", ErrInvalidQuantity)
	}
	return s.mutate(ctx, "set", kind, func(int) int { return qty })
}

// ApplyPromo validates code against the closed set of promo codes. An invalid code
// leaves the discount untouched; a different valid code replaces the current one.
func (s *Store) ApplyPromo(ctx context.Context, code string) (View, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	percent, ok := promoCodes[normalized]
	if !ok {
		obs.Count(obs.CartMutationsTotal, "promo", "invalid")
		return s.Snapshot(), common.ValidationError(common.CodeInvalidPromo, "promo code is not valid", fmt.Errorf("%w: %q", ErrInvalidCode, code))
	}
	s.mu.Lock()
	if s.promo == normalized {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, nil
	}
	s.promo = normalized
	s.discount = percent
	counts := s.counts
	view := s.viewLocked()
	s.mu.Unlock()
	return view, s.commit(ctx, "promo", counts, view)
}

// ClearPromo removes any applied discount.
func (s *Store) ClearPromo(ctx context.Context) (View, error) {
	s.mu.Lock()
	s.promo = ""
	s.discount = 0
	counts := s.counts
	view := s.viewLocked()
	s.mu.Unlock()
	return view, s.commit(ctx, "clear_promo", counts, view)
}

// Refresh re-sends the refresh signal, e.g. after the shipping cost changed.
func (s *Store) Refresh(ctx context.Context) View {
	view := s.Snapshot()
	s.signal(ctx, view)
	return view
}

func (s *Store) mutate(ctx context.Context, op string, kind pricing.ItemKind, fn func(int) int) (View, error) {
	if _, ok := pricing.Lookup(kind); !ok {
		obs.Count(obs.CartMutationsTotal, op, "invalid")
		return s.Snapshot(), common.ValidationError(common.CodeValidation, "unknown item kind", fmt.Errorf("%w: %q", pricing.ErrUnknownKind, kind))
	}
	s.mu.Lock()
	next := fn(s.counts.Get(kind))
	if next < 0 {
		next = 0
	}
	s.counts = s.counts.with(kind, next)
	counts := s.counts
	view := s.viewLocked()
	s.mu.Unlock()
	return view, s.commit(ctx, op, counts, view)
}

// commit persists, then signals the local view, then broadcasts to the other views.
// A failed write is reported but the in-memory state stands.
func (s *Store) commit(ctx context.Context, op string, counts Counts, view View) error {
	var saveErr error
	result := "ok"
	if err := s.opts.Storage.Save(ctx, s.opts.SessionID, counts); err != nil {
		s.opts.Logger.Warn().Err(err).Str("session_id", s.opts.SessionID).Msg("persist cart")
		saveErr = fmt.Errorf("cart: save: %w", err)
		result = "save_failed"
	}
	obs.Count(obs.CartMutationsTotal, op, result)
	s.signal(ctx, view)
	return saveErr
}

func (s *Store) signal(ctx context.Context, view View) {
	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh(view)
	}
	if s.opts.Events != nil {
		if _, err := s.opts.Events.Emit(ctx, events.TopicCartChanged, s.opts.SessionID, view); err != nil {
			s.opts.Logger.Warn().Err(err).Str("session_id", s.opts.SessionID).Msg("broadcast cart change")
		}
	}
}

func (s *Store) viewLocked() View {
	var shipping pricing.Money
	if s.opts.Shipping != nil {
		shipping = s.opts.Shipping()
	}
	return View{
		Counts:    s.counts,
		PromoCode: s.promo,
		Badge:     s.counts.Items(),
		Summary:   pricing.Compute(s.counts.Map(), s.discount, shipping),
	}
}
