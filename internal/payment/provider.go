// Package payment creates payments with the acquiring provider and hands back the
// confirmation URL the buyer is redirected to.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// DefaultCurrency is the only currency the store charges in.
const DefaultCurrency = "RUB"

// ErrInvalidAmount is returned for non-positive amounts.
var ErrInvalidAmount = errors.New("payment: amount must be positive")

// Request describes one payment to create.
type Request struct {
	Amount      pricing.Money
	Currency    string
	Description string
	// Reference ties the payment to the order number in provider metadata.
	Reference string
}

// Result is what the provider returned for a created payment.
type Result struct {
	Provider        string `json:"provider"`
	PaymentID       string `json:"paymentId"`
	Status          string `json:"status"`
	ConfirmationURL string `json:"confirmationUrl"`
}

// Provider abstracts the payment creation call.
type Provider interface {
	CreatePayment(ctx context.Context, req Request) (Result, error)
}

// FormatAmount renders minor units as a decimal string with two fraction digits.
func FormatAmount(amount pricing.Money) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func normalise(req Request) (Request, error) {
	if req.Amount <= 0 {
		return req, ErrInvalidAmount
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	req.Description = strings.TrimSpace(req.Description)
	if len([]rune(req.Description)) > 128 {
		req.Description = string([]rune(req.Description)[:128])
	}
	return req, nil
}
