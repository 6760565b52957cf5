package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// YooKassa creates redirect payments through the YooKassa v3 API.
type YooKassa struct {
	HTTP      resilience.HTTPClient
	BaseURL   string
	ShopID    string
	SecretKey string
	ReturnURL string
	Logger    *zerolog.Logger
	// NewKey produces the Idempotence-Key header; defaults to a random UUID.
	NewKey func() string
}

type amountField struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type createPaymentRequest struct {
	Amount       amountField       `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation confirmationField `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type confirmationField struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentResponse struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Confirmation confirmationField `json:"confirmation"`
}

// CreatePayment posts a redirect payment. Every call carries a fresh idempotence key
// so retries of the same HTTP request cannot charge twice.
func (y *YooKassa) CreatePayment(ctx context.Context, req Request) (Result, error) {
	req, err := normalise(req)
	if err != nil {
		return Result{}, err
	}
	body := createPaymentRequest{
		Amount:       amountField{Value: FormatAmount(req.Amount), Currency: req.Currency},
		Capture:      true,
		Confirmation: confirmationField{Type: "redirect", ReturnURL: y.ReturnURL},
		Description:  req.Description,
	}
	if req.Reference != "" {
		body.Metadata = map[string]string{"order_number": req.Reference}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(y.BaseURL, "/")+"/v3/payments", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpReq.SetBasicAuth(y.ShopID, y.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", y.idempotenceKey())

	resp, err := y.HTTP.Fetch(ctx, httpReq)
	if err != nil {
		obs.Count(obs.PaymentCreateTotal, "error")
		y.logger().Error().Err(err).Int64("amount", int64(req.Amount)).Msg("create payment")
		return Result{}, fmt.Errorf("payment: create: %w", err)
	}
	var decoded createPaymentResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		obs.Count(obs.PaymentCreateTotal, "error")
		return Result{}, fmt.Errorf("payment: decode: %w", err)
	}
	if decoded.Confirmation.ConfirmationURL == "" {
		obs.Count(obs.PaymentCreateTotal, "error")
		return Result{}, fmt.Errorf("payment: provider returned no confirmation url for %s", decoded.ID)
	}
	obs.Count(obs.PaymentCreateTotal, "ok")
	return Result{
		Provider:        "yookassa",
		PaymentID:       decoded.ID,
		Status:          decoded.Status,
		ConfirmationURL: decoded.Confirmation.ConfirmationURL,
	}, nil
}

func (y *YooKassa) idempotenceKey() string {
	if y.NewKey != nil {
		return y.NewKey()
	}
	return uuid.NewString()
}

func (y *YooKassa) logger() *zerolog.Logger {
	if y.Logger != nil {
		return y.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
