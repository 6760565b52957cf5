// Package session owns the explicit per-browser-session checkout state: the cart,
// the city resolver and the delivery workflow, wired so that each step invalidates
// what depends on it.
package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/city"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/geocode"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Storage    cart.Storage
	Events     *events.Bus
	Suggester  geocode.Suggester
	Directory  city.CarrierDirectory
	Lister     delivery.PointLister
	PointCache *delivery.SnapshotCache
	Quoter     delivery.Quoter
	Checkout   *checkout.Service
	// Origin is the carrier city code parcels ship from.
	Origin   string
	Debounce time.Duration
	Logger   *zerolog.Logger
}

// View is the full renderable state of a session.
type View struct {
	ID       string            `json:"id"`
	Cart     cart.View         `json:"cart"`
	City     city.Snapshot     `json:"city"`
	Delivery delivery.Snapshot `json:"delivery"`
}

// Session is one shopper's checkout context.
type Session struct {
	ID       string
	Cart     *cart.Store
	City     *city.Resolver
	Quotes   *delivery.QuoteCache
	Delivery *delivery.FSM

	deps   Deps
	logger zerolog.Logger
}

// New wires a session. Call Restore once before serving it.
func New(id string, deps Deps) *Session {
	base := zerolog.Nop()
	if deps.Logger != nil {
		base = *deps.Logger
	}
	s := &Session{ID: id, deps: deps, logger: base.With().Str("session_id", id).Logger()}

	s.Quotes = delivery.NewQuoteCache(deps.Quoter, deps.Origin, &s.logger)
	s.Delivery = delivery.NewFSM(delivery.FSMConfig{
		Catalog: &delivery.Catalog{Lister: deps.Lister, Cache: deps.PointCache, Logger: &s.logger},
		Quotes:  s.Quotes,
		Package: s.pkg,
		Logger:  &s.logger,
	})
	s.Cart = cart.NewStore(cart.Options{
		SessionID: id,
		Storage:   deps.Storage,
		Events:    deps.Events,
		Shipping:  s.Delivery.Shipping,
		Logger:    &s.logger,
	})
	s.City = city.New(city.Config{
		Suggester: deps.Suggester,
		Directory: deps.Directory,
		Listener:  s,
		Debounce:  deps.Debounce,
		Logger:    &s.logger,
	})
	return s
}

// Restore loads the persisted cart. A storage failure leaves the cart empty.
func (s *Session) Restore(ctx context.Context) {
	if err := s.Cart.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("restore cart")
	}
}

func (s *Session) pkg() pricing.Package {
	return pricing.PackageFor(s.Cart.Counts().Map())
}

// View snapshots every component.
func (s *Session) View() View {
	return View{
		ID:       s.ID,
		Cart:     s.Cart.Snapshot(),
		City:     s.City.Snapshot(),
		Delivery: s.Delivery.Snapshot(),
	}
}

// Close stops background work of the session.
func (s *Session) Close() {
	s.City.Close()
}

// SuggestionsRendered implements city.Listener.
func (s *Session) SuggestionsRendered(query string, suggestions []geocode.Suggestion) {
	s.emit(context.Background(), events.TopicCitySuggested, map[string]any{
		"query":       query,
		"suggestions": suggestions,
	})
}

// CitySelected implements city.Listener. Choosing a suggestion drops every point,
// quote, tariff and the shipping cost before the carrier code is even known.
func (s *Session) CitySelected(name string) {
	ctx := context.Background()
	snap := s.Delivery.Reset()
	s.Cart.Refresh(ctx)
	s.emit(ctx, events.TopicDeliveryReset, map[string]any{"city": name, "delivery": snap})
}

// CityResolved implements city.Listener.
func (s *Session) CityResolved(c delivery.City) {
	ctx := context.Background()
	snap, err := s.Delivery.ChooseCity(c)
	if err != nil {
		s.logger.Warn().Err(err).Str("city", c.Name).Msg("enter resolved city")
		return
	}
	s.emit(ctx, events.TopicCityResolved, map[string]any{"city": c, "delivery": snap})
}

// CityResolutionFailed implements city.Listener. The workflow stays at NO_CITY so
// no delivery method can be chosen.
func (s *Session) CityResolutionFailed(name string, err error) {
	msg := "city is not served by the carrier"
	if err != nil {
		s.logger.Debug().Err(err).Str("city", name).Msg("city resolution failed")
	}
	s.emit(context.Background(), events.TopicCityFailed, map[string]any{"city": name, "message": msg})
}

// ChooseMethod picks the delivery method and loads pickup points when needed.
func (s *Session) ChooseMethod(ctx context.Context, method delivery.Method) (delivery.Snapshot, error) {
	snap, err := s.Delivery.ChooseMethod(ctx, method)
	if err != nil {
		return snap, err
	}
	s.Cart.Refresh(ctx)
	if method.PointBased() {
		s.emit(ctx, events.TopicPointsLoaded, map[string]any{
			"method": method,
			"points": s.Delivery.Points(),
		})
	}
	return snap, nil
}

// SelectPoint handles a marker click. Once both quotes landed in the cache the
// refreshed tariff offers are broadcast; done is closed after that.
func (s *Session) SelectPoint(ctx context.Context, code string) (delivery.Snapshot, <-chan struct{}, error) {
	snap, loaded, err := s.Delivery.SelectPoint(ctx, code)
	if err != nil {
		return snap, nil, err
	}
	s.Cart.Refresh(ctx)
	done := make(chan struct{})
	bg := context.WithoutCancel(ctx)
	kind := snap.Point.Kind
	go func() {
		defer close(done)
		<-loaded
		s.emit(bg, events.TopicQuotesUpdated, map[string]any{
			"point":  snap.Point.Code,
			"offers": s.Quotes.Offers(kind),
		})
	}()
	return snap, done, nil
}

// SelectTariff commits a tariff and reprices the cart with its shipping cost.
func (s *Session) SelectTariff(ctx context.Context, code int) (delivery.Snapshot, cart.View, error) {
	snap, err := s.Delivery.SelectTariff(code)
	if err != nil {
		return snap, s.Cart.Snapshot(), err
	}
	view := s.Cart.Refresh(ctx)
	s.emit(ctx, events.TopicTariffSelected, map[string]any{"delivery": snap})
	return snap, view, nil
}

// Checkout submits the session.
func (s *Session) Checkout(ctx context.Context, in checkout.Input) (checkout.Output, error) {
	return s.deps.Checkout.Submit(ctx, checkout.Submission{
		SessionID: s.ID,
		Cart:      s.Cart.Snapshot(),
		Delivery:  s.Delivery,
		Input:     in,
	})
}

func (s *Session) emit(ctx context.Context, topic string, payload any) {
	if s.deps.Events == nil {
		return
	}
	if _, err := s.deps.Events.Emit(ctx, topic, s.ID, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("broadcast session event")
	}
}

// ConfirmPoint renders the tariff offers for the selected point.
func (s *Session) ConfirmPoint() (delivery.Snapshot, error) {
	return s.Delivery.ConfirmPoint()
}

// SetAddress stores the courier address.
func (s *Session) SetAddress(address string) (delivery.Snapshot, error) {
	return s.Delivery.SetAddress(address)
}
