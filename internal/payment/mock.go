package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Mock synthesises a deterministic confirmation URL without a network call. It drives
// local runs when no shop credentials are configured.
type Mock struct {
	BaseURL string
}

// CreatePayment validates the request and returns a fake pending payment.
func (m Mock) CreatePayment(_ context.Context, req Request) (Result, error) {
	req, err := normalise(req)
	if err != nil {
		return Result{}, err
	}
	id := uuid.NewString()
	host := strings.TrimRight(m.BaseURL, "/")
	if host == "" {
		host = "https://yoomoney.ru"
	}
	return Result{
		Provider:        "mock",
		PaymentID:       id,
		Status:          "pending",
		ConfirmationURL: fmt.Sprintf("%s/checkout/payments/v2/contract?orderId=%s", host, id),
	}, nil
}
