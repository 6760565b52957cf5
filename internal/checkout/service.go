// Package checkout turns a finished cart and delivery selection into a payment and a
// registered carrier order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// ErrEmptyTotal is wrapped when the computed total is not positive.
var ErrEmptyTotal = errors.New("checkout: total must be positive")

// Locker serializes submissions of one session.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Selector exposes the committed delivery choice.
type Selector interface {
	Selection() (delivery.Selection, error)
}

// Input is the buyer-provided part of the submission.
type Input struct {
	Recipient order.Contact `json:"recipient"`
}

// Submission is everything needed to check out one session.
type Submission struct {
	SessionID string
	Cart      cart.View
	Delivery  Selector
	Input     Input
}

// Output describes a completed checkout.
type Output struct {
	Number  string          `json:"number"`
	OrderID string          `json:"orderId"`
	Summary pricing.Summary `json:"summary"`
	Payment payment.Result  `json:"payment"`
}

// Service runs checkout submissions.
type Service struct {
	Payments  payment.Provider
	Orders    order.Registrar
	History   order.History
	Locker    Locker
	Events    *events.Bus
	Validator *validator.Validate
	Logger    *zerolog.Logger
	// Origin is the carrier city code parcels ship from.
	Origin   string
	Currency string
	LockTTL  time.Duration
	// NewNumber generates the store's order number.
	NewNumber func() string
}

// Submit validates the submission, then creates the payment and registers the
// order. Nothing is sent to any provider unless every precondition holds. A payment
// followed by a refused order is reported as a partial failure; the payment is not
// rolled back.
func (s *Service) Submit(ctx context.Context, sub Submission) (Output, error) {
	summary, sel, err := s.precheck(sub)
	if err != nil {
		obs.Count(obs.CheckoutTotal, "invalid")
		return Output{}, err
	}
	if s.Locker == nil {
		return s.submit(ctx, sub, summary, sel)
	}
	var out Output
	err = s.Locker.WithLock(ctx, "checkout:"+sub.SessionID, s.lockTTL(), func(ctx context.Context) error {
		var err error
		out, err = s.submit(ctx, sub, summary, sel)
		return err
	})
	if errors.Is(err, lock.ErrHeld) {
		obs.Count(obs.CheckoutTotal, "duplicate")
		return Output{}, common.NewAppError("CHECKOUT_IN_PROGRESS", "a checkout for this session is already running", http.StatusConflict, err)
	}
	return out, err
}

func (s *Service) precheck(sub Submission) (pricing.Summary, delivery.Selection, error) {
	if err := common.ValidateStruct(s.Validator, sub.Input); err != nil {
		return pricing.Summary{}, delivery.Selection{}, err
	}
	if sub.Delivery == nil {
		return pricing.Summary{}, delivery.Selection{}, common.ValidationError(common.CodeValidation, "select a delivery tariff first", delivery.ErrInvalidState)
	}
	sel, err := sub.Delivery.Selection()
	if err != nil {
		return pricing.Summary{}, delivery.Selection{}, err
	}
	summary := pricing.Compute(sub.Cart.Counts.Map(), sub.Cart.Summary.DiscountPercent, sel.Shipping)
	if summary.Total <= 0 || summary.ItemCount == 0 {
		return pricing.Summary{}, delivery.Selection{}, common.ValidationError(common.CodeValidation, "the cart is empty", ErrEmptyTotal)
	}
	return summary, sel, nil
}

func (s *Service) submit(ctx context.Context, sub Submission, summary pricing.Summary, sel delivery.Selection) (Output, error) {
	number := s.number()
	log := s.logger(ctx).With().Str("session_id", sub.SessionID).Str("order_number", number).Logger()

	pay, err := s.Payments.CreatePayment(ctx, payment.Request{
		Amount:      summary.Total,
		Currency:    s.Currency,
		Description: fmt.Sprintf("Заказ %s", number),
		Reference:   number,
	})
	if err != nil {
		obs.Count(obs.CheckoutTotal, "payment_failed")
		log.Error().Err(err).Msg("create payment")
		return Output{}, common.ProviderError("payment could not be created, please retry", err)
	}

	counts := sub.Cart.Counts.Map()
	req := order.Build(number, s.Origin, sel, sub.Input.Recipient, pricing.PackageFor(counts))
	result, err := s.Orders.RegisterOrder(ctx, req)
	if err != nil {
		obs.Count(obs.CheckoutTotal, "partial")
		log.Error().Err(err).Str("payment_id", pay.PaymentID).Interface("issues", result.Issues).Msg("register order after payment")
		details := map[string]any{
			"errors":          result.Issues,
			"confirmationUrl": pay.ConfirmationURL,
			"paymentId":       pay.PaymentID,
		}
		s.emit(ctx, events.TopicCheckoutPartialFailure, sub.SessionID, details)
		return Output{}, common.PartialCheckoutFailure("payment was created but the order could not be registered", err, details)
	}

	out := Output{Number: number, OrderID: result.OrderID, Summary: summary, Payment: pay}
	if s.History != nil {
		entry := order.Entry{
			OrderID:     result.OrderID,
			Number:      number,
			SessionID:   sub.SessionID,
			TariffCode:  sel.TariffCode,
			Total:       summary.Total,
			Shipping:    sel.Shipping,
			QuotedPrice: sel.QuotedPrice,
			PaymentURL:  pay.ConfirmationURL,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.History.Record(ctx, entry); err != nil {
			log.Warn().Err(err).Msg("record order history")
		}
	}
	obs.Count(obs.CheckoutTotal, "ok")
	log.Info().
		Str("order_id", result.OrderID).
		Int("tariff_code", sel.TariffCode).
		Int64("total", int64(summary.Total)).
		Int64("shipping", int64(sel.Shipping)).
		Int64("quoted_price", int64(sel.QuotedPrice)).
		Msg("checkout completed")
	s.emit(ctx, events.TopicCheckoutCompleted, sub.SessionID, out)
	return out, nil
}

func (s *Service) emit(ctx context.Context, topic, sessionID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, sessionID, payload); err != nil {
		s.logger(ctx).Warn().Err(err).Str("topic", topic).Msg("broadcast checkout event")
	}
}

func (s *Service) number() string {
	if s.NewNumber != nil {
		return s.NewNumber()
	}
	return "TK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return time.Minute
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
