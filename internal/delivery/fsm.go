package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// CourierTariffCode is the door delivery tariff used when registering courier orders.
const CourierTariffCode = 137

// ErrInvalidState is wrapped by every rejected transition.
var ErrInvalidState = errors.New("delivery: invalid state transition")

// State is a step of the delivery selection workflow.
type State string

const (
	StateNoCity         State = "NO_CITY"
	StateCityChosen     State = "CITY_CHOSEN"
	StateMethodChosen   State = "METHOD_CHOSEN"
	StatePointChosen    State = "POINT_CHOSEN"
	StateTariffsOffered State = "TARIFFS_OFFERED"
	StateTariffSelected State = "TARIFF_SELECTED"
)

// City is the resolved destination.
type City struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Selection is the committed delivery choice and the single source of the shipping cost.
// Shipping is what the buyer pays; QuotedPrice is the carrier's unrounded quote for the
// same tariff, kept for reconciliation.
type Selection struct {
	TariffCode  int           `json:"tariffCode"`
	Method      Method        `json:"method"`
	PointCode   string        `json:"pointCode,omitempty"`
	Address     string        `json:"address,omitempty"`
	City        City          `json:"city"`
	Shipping    pricing.Money `json:"shipping"`
	QuotedPrice pricing.Money `json:"quotedPrice"`
}

// Snapshot is the renderable state of the workflow.
type Snapshot struct {
	State    State         `json:"state"`
	City     *City         `json:"city,omitempty"`
	Method   Method        `json:"method,omitempty"`
	Point    *Point        `json:"point,omitempty"`
	Address  string        `json:"address,omitempty"`
	Offers   []Offer       `json:"offers,omitempty"`
	Tariff   *Tariff       `json:"tariff,omitempty"`
	Shipping pricing.Money `json:"shipping"`
	Ready    bool          `json:"ready"`
}

// FSMConfig wires the collaborators of the workflow.
type FSMConfig struct {
	Catalog *Catalog
	Quotes  *QuoteCache
	// Package reports the parcel the quotes are requested for.
	Package func() pricing.Package
	Logger  *zerolog.Logger
}

// FSM drives city → method → point → tariff selection for one session.
type FSM struct {
	cfg FSMConfig

	mu         sync.Mutex
	generation uint64
	state      State
	city       *City
	method     Method
	points     *Points
	point      *Point
	address    string
	tariff     *Tariff
	shipping   pricing.Money
	quoted     pricing.Money
}

// NewFSM returns a workflow in NO_CITY.
func NewFSM(cfg FSMConfig) *FSM {
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	if cfg.Package == nil {
		cfg.Package = func() pricing.Package { return pricing.Package{} }
	}
	return &FSM{cfg: cfg, state: StateNoCity}
}

func invalidState(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return common.ValidationError(common.CodeInvalidState, msg, fmt.Errorf("%w: %s", ErrInvalidState, msg))
}

// Reset invalidates everything downstream of the city: points, quotes, the chosen
// point, the tariff and the shipping cost.
func (f *FSM) Reset() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
	return f.snapshotLocked()
}

func (f *FSM) resetLocked() {
	f.generation++
	f.state = StateNoCity
	f.city = nil
	f.method = ""
	f.points = nil
	f.point = nil
	f.address = ""
	f.tariff = nil
	f.shipping = 0
	f.quoted = 0
	if f.cfg.Quotes != nil {
		f.cfg.Quotes.Reset("")
	}
}

// ChooseCity enters CITY_CHOSEN. It always performs the full downstream reset, even
// for the same city, and requires a carrier city code.
func (f *FSM) ChooseCity(city City) (Snapshot, error) {
	city.Code = strings.TrimSpace(city.Code)
	if city.Code == "" {
		return f.Snapshot(), invalidState("city %q has no carrier city code", city.Name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
	f.city = &city
	f.state = StateCityChosen
	if f.cfg.Quotes != nil {
		f.cfg.Quotes.Reset(city.Code)
	}
	return f.snapshotLocked(), nil
}

// ChooseMethod enters METHOD_CHOSEN. Courier zeroes the shipping cost and needs no
// point; point-based methods load the city's pickup points, once per city.
func (f *FSM) ChooseMethod(ctx context.Context, method Method) (Snapshot, error) {
	f.mu.Lock()
	if f.city == nil {
		f.mu.Unlock()
		return f.Snapshot(), invalidState("choose a city first")
	}
	switch method {
	case MethodCourier, MethodPVZ, MethodPostamat:
	default:
		f.mu.Unlock()
		return f.Snapshot(), invalidState("unknown delivery method %q", method)
	}
	f.generation++
	gen := f.generation
	f.state = StateMethodChosen
	f.method = method
	f.point = nil
	f.tariff = nil
	f.shipping = 0
	f.quoted = 0
	if method != MethodCourier {
		f.address = ""
	}
	needPoints := method.PointBased() && f.points == nil
	cityCode := f.city.Code
	f.mu.Unlock()

	if !needPoints {
		return f.Snapshot(), nil
	}

	var points Points
	if f.cfg.Catalog != nil {
		var err error
		points, err = f.cfg.Catalog.FetchAll(ctx, cityCode)
		if err != nil {
			return f.Snapshot(), err
		}
	}
	if obs.PointsFetched != nil {
		obs.PointsFetched.Observe(float64(len(points.All)))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.city == nil || f.city.Code != cityCode {
		f.cfg.Logger.Debug().Str("city_code", cityCode).Msg("discard points of a replaced city")
		return f.snapshotLocked(), nil
	}
	if f.points == nil {
		f.points = &points
	}
	if gen != f.generation {
		f.cfg.Logger.Debug().Str("city_code", cityCode).Msg("method changed while points were loading")
	}
	return f.snapshotLocked(), nil
}

// Points lists the loaded pickup points matching the chosen method.
func (f *FSM) Points() []Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points == nil || !f.method.PointBased() {
		return nil
	}
	return f.points.OfKind(PointKind(f.method))
}

// SelectPoint handles a map marker click: it enters POINT_CHOSEN and preloads the
// standard and express tariff quotes for the point's kind. The returned channel is
// closed when both quotes are cached.
func (f *FSM) SelectPoint(ctx context.Context, code string) (Snapshot, <-chan struct{}, error) {
	f.mu.Lock()
	if !f.method.PointBased() || f.state == StateNoCity || f.state == StateCityChosen {
		f.mu.Unlock()
		return f.Snapshot(), nil, invalidState("choose a pickup delivery method first")
	}
	if f.points == nil {
		f.mu.Unlock()
		return f.Snapshot(), nil, invalidState("pickup points are not loaded yet")
	}
	point, ok := f.points.Lookup(strings.TrimSpace(code))
	if !ok || point.Kind != PointKind(f.method) {
		f.mu.Unlock()
		return f.Snapshot(), nil, common.ValidationError(common.CodeValidation, fmt.Sprintf("unknown %s point %q", f.method, code), ErrInvalidState)
	}
	f.state = StatePointChosen
	f.point = &point
	f.tariff = nil
	f.shipping = 0
	f.quoted = 0
	destination := f.city.Code
	snap := f.snapshotLocked()
	f.mu.Unlock()

	var done <-chan struct{}
	if f.cfg.Quotes != nil {
		done = f.cfg.Quotes.Preload(ctx, TariffCodesFor(point.Kind), destination, f.cfg.Package())
	} else {
		closed := make(chan struct{})
		close(closed)
		done = closed
	}
	return snap, done, nil
}

// ConfirmPoint enters TARIFFS_OFFERED and renders the tariff buttons from the cache.
func (f *FSM) ConfirmPoint() (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.point == nil || (f.state != StatePointChosen && f.state != StateTariffsOffered) {
		return f.snapshotLocked(), invalidState("select a pickup point first")
	}
	f.state = StateTariffsOffered
	return f.snapshotLocked(), nil
}

// SelectTariff commits a tariff; the shipping cost becomes its displayed price.
func (f *FSM) SelectTariff(code int) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.point == nil || (f.state != StateTariffsOffered && f.state != StateTariffSelected) {
		return f.snapshotLocked(), invalidState("tariffs are not offered yet")
	}
	tariff, ok := LookupTariff(f.point.Kind, code)
	if !ok {
		return f.snapshotLocked(), invalidState("tariff %d is not served at %s points", code, f.point.Kind)
	}
	var quote Quote
	if f.cfg.Quotes != nil {
		quote, ok = f.cfg.Quotes.Get(code)
		if !ok {
			return f.snapshotLocked(), invalidState("tariff %d price is still loading", code)
		}
		// A failed quote has no price to charge, so the buyer has to pick the other
		// tariff. This is a VALIDATION error, unlike the INVALID_STATE above.
		if quote.Failed {
			return f.snapshotLocked(), common.ValidationError(common.CodeValidation, fmt.Sprintf("tariff %d is unavailable", code), ErrInvalidState)
		}
	}
	f.tariff = &tariff
	f.shipping = quote.DisplayPrice()
	f.quoted = quote.Price
	f.state = StateTariffSelected
	return f.snapshotLocked(), nil
}

// SetAddress stores the courier street address.
func (f *FSM) SetAddress(address string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.method != MethodCourier {
		return f.snapshotLocked(), invalidState("an address is only used for courier delivery")
	}
	f.address = strings.TrimSpace(address)
	return f.snapshotLocked(), nil
}

// Shipping is the committed shipping cost, zero until a tariff is selected.
func (f *FSM) Shipping() pricing.Money {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shipping
}

// Selection returns the committed choice when checkout may proceed.
func (f *FSM) Selection() (Selection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.readyLocked() {
		if f.method == MethodCourier {
			return Selection{}, common.ValidationError(common.CodeValidation, "a delivery address is required", ErrInvalidState)
		}
		return Selection{}, common.ValidationError(common.CodeValidation, "select a delivery tariff first", ErrInvalidState)
	}
	sel := Selection{Method: f.method, City: *f.city, Shipping: f.shipping, QuotedPrice: f.quoted}
	if f.method == MethodCourier {
		sel.TariffCode = CourierTariffCode
		sel.Address = f.address
		return sel, nil
	}
	sel.TariffCode = f.tariff.Code
	sel.PointCode = f.point.Code
	return sel, nil
}

// Snapshot returns the current renderable state.
func (f *FSM) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *FSM) readyLocked() bool {
	if f.city == nil {
		return false
	}
	if f.method == MethodCourier {
		return f.state == StateMethodChosen && f.address != ""
	}
	return f.state == StateTariffSelected && f.tariff != nil && f.point != nil
}

func (f *FSM) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    f.state,
		Method:   f.method,
		Address:  f.address,
		Shipping: f.shipping,
		Ready:    f.readyLocked(),
	}
	if f.city != nil {
		c := *f.city
		snap.City = &c
	}
	if f.point != nil {
		p := *f.point
		snap.Point = &p
		if f.cfg.Quotes != nil && (f.state == StateTariffsOffered || f.state == StateTariffSelected) {
			snap.Offers = f.cfg.Quotes.Offers(p.Kind)
		}
	}
	if f.tariff != nil {
		t := *f.tariff
		snap.Tariff = &t
	}
	return snap
}
