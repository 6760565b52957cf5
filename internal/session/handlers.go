package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Handler exposes checkout sessions over HTTP.
type Handler struct {
	Registry  *Registry
	History   order.History
	Validator *validator.Validate
	// QueryLimiter guards the keystroke endpoint; nil disables it.
	QueryLimiter func(http.Handler) http.Handler
	// CheckoutGuard wraps the submission endpoint, e.g. with idempotency.
	CheckoutGuard func(http.Handler) http.Handler
}

// Routes registers the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Get)

		r.Get("/cart", h.Cart)
		r.Post("/cart/items/{kind}/increment", h.Increment)
		r.Post("/cart/items/{kind}/decrement", h.Decrement)
		r.Put("/cart/items/{kind}", h.SetQuantity)
		r.Delete("/cart/items/{kind}", h.RemoveItem)
		r.Post("/cart/promo", h.ApplyPromo)
		r.Delete("/cart/promo", h.ClearPromo)

		r.With(optional(h.QueryLimiter)).Post("/city/query", h.TypeCity)
		r.Post("/city/select", h.SelectCity)

		r.Get("/delivery", h.Delivery)
		r.Post("/delivery/method", h.ChooseMethod)
		r.Get("/delivery/points", h.Points)
		r.Post("/delivery/point", h.SelectPoint)
		r.Post("/delivery/point/confirm", h.ConfirmPoint)
		r.Post("/delivery/tariff", h.SelectTariff)
		r.Put("/delivery/address", h.SetAddress)

		r.With(optional(h.CheckoutGuard)).Post("/checkout", h.Checkout)
		r.Get("/orders", h.Orders)
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// Create opens a new session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.Registry.Create(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, s.View())
}

// Get returns the whole session state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, s.View())
}

// Cart returns the cart view.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, s.Cart.Snapshot())
}

// Increment adds one item.
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	s, kind, ok := h.sessionAndKind(w, r)
	if !ok {
		return
	}
	view, err := s.Cart.Increment(r.Context(), kind)
	h.writeCart(w, view, err)
}

// Decrement removes one item.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	s, kind, ok := h.sessionAndKind(w, r)
	if !ok {
		return
	}
	view, err := s.Cart.Decrement(r.Context(), kind)
	h.writeCart(w, view, err)
}

// RemoveItem drops every item of a kind.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, kind, ok := h.sessionAndKind(w, r)
	if !ok {
		return
	}
	view, err := s.Cart.Remove(r.Context(), kind)
	h.writeCart(w, view, err)
}

// SetQuantity overwrites the quantity of a kind.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	s, kind, ok := h.sessionAndKind(w, r)
	if !ok {
		return
	}
	var payload struct {
		Quantity *int `json:"quantity" validate:"required"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	view, err := s.Cart.Set(r.Context(), kind, *payload.Quantity)
	h.writeCart(w, view, err)
}

// ApplyPromo applies a promo code.
func (h *Handler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Code string `json:"code" validate:"required,max=64"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	view, err := s.Cart.ApplyPromo(r.Context(), payload.Code)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// ClearPromo removes the discount.
func (h *Handler) ClearPromo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Cart.ClearPromo(r.Context())
	h.writeCart(w, view, err)
}

// TypeCity feeds a keystroke to the city resolver.
func (h *Handler) TypeCity(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text string `json:"text" validate:"max=128"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	common.Data(w, http.StatusAccepted, s.City.Type(r.Context(), payload.Text))
}

// SelectCity picks a suggestion. With ?wait=true the response is delayed until the
// carrier city lookup finished.
func (h *Handler) SelectCity(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name" validate:"required,max=128"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	snap, done := s.City.Select(r.Context(), payload.Name)
	if wait(r) {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		}
		snap = s.City.Snapshot()
	}
	common.Data(w, http.StatusAccepted, map[string]any{
		"city":     snap,
		"delivery": s.Delivery.Snapshot(),
	})
}

// Delivery returns the delivery workflow state.
func (h *Handler) Delivery(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, s.Delivery.Snapshot())
}

// ChooseMethod selects courier, PVZ or postamat delivery.
func (h *Handler) ChooseMethod(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Method string `json:"method" validate:"required"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	method, valid := delivery.ParseMethod(payload.Method)
	if !valid {
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidation, "unknown delivery method", nil)
		return
	}
	snap, err := s.ChooseMethod(r.Context(), method)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, snap)
}

// Points lists the pickup points of the chosen method.
func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	points := s.Delivery.Points()
	if points == nil {
		points = []delivery.Point{}
	}
	common.Data(w, http.StatusOK, points)
}

// SelectPoint handles a marker click. With ?wait=true the response carries the
// loaded quotes.
func (h *Handler) SelectPoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Code string `json:"code" validate:"required,max=64"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	snap, done, err := s.SelectPoint(r.Context(), payload.Code)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if wait(r) {
		select {
		case <-done:
		case <-r.Context().Done():
			return
		}
		snap = s.Delivery.Snapshot()
		if snap.Point != nil {
			snap.Offers = s.Quotes.Offers(snap.Point.Kind)
		}
	}
	common.Data(w, http.StatusOK, snap)
}

// ConfirmPoint offers the tariffs of the selected point.
func (h *Handler) ConfirmPoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.ConfirmPoint()
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, snap)
}

// SelectTariff commits a tariff and returns the repriced cart.
func (h *Handler) SelectTariff(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		TariffCode int `json:"tariffCode" validate:"required,gt=0"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	snap, view, err := s.SelectTariff(r.Context(), payload.TariffCode)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"delivery": snap, "cart": view})
}

// SetAddress stores the courier address.
func (h *Handler) SetAddress(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Address string `json:"address" validate:"required,max=512"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	snap, err := s.SetAddress(payload.Address)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, snap)
}

// Checkout submits the session.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in checkout.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	out, err := s.Checkout(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

// Orders lists the orders placed from this session.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.History == nil {
		common.Data(w, http.StatusOK, []order.Entry{})
		return
	}
	entries, err := h.History.List(r.Context(), s.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to load orders", nil)
		return
	}
	if entries == nil {
		entries = []order.Entry{}
	}
	common.Data(w, http.StatusOK, entries)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, err := h.Registry.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, ErrInvalidID) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
			return nil, false
		}
		common.WriteError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) sessionAndKind(w http.ResponseWriter, r *http.Request) (*Session, pricing.ItemKind, bool) {
	kind, err := pricing.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "unknown item", nil)
		return nil, "", false
	}
	s, ok := h.session(w, r)
	return s, kind, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validator == nil {
		return true
	}
	if err := common.ValidateStruct(h.Validator, payload); err != nil {
		common.WriteError(w, err)
		return false
	}
	return true
}

// writeCart reports a failed write alongside the view that still stands in memory.
func (h *Handler) writeCart(w http.ResponseWriter, view any, err error) {
	if err != nil && common.IsAppError(err) {
		common.WriteError(w, err)
		return
	}
	body := map[string]any{"data": view}
	if err != nil {
		body["warning"] = "cart could not be saved"
	}
	common.JSON(w, http.StatusOK, body)
}

func wait(r *http.Request) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("wait")))
	return err == nil && v
}
