// Package notify forwards checkout outcomes to a back-office webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Webhook is an events.Notifier posting signed checkout events to URL. Deliveries run
// in the background so a slow receiver never delays the buyer's response.
type Webhook struct {
	HTTP   resilience.HTTPClient
	URL    string
	Secret string
	// Topics limits which events are forwarded; empty means the checkout outcomes.
	Topics    []string
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Logger    *zerolog.Logger
	Now       func() time.Time

	wg sync.WaitGroup
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type envelope struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	SessionID  string          `json:"sessionId"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Notify implements events.Notifier.
func (w *Webhook) Notify(ctx context.Context, ev events.Event) error {
	if w == nil || w.URL == "" || !w.forwards(ev.Topic) {
		return nil
	}
	if err := ValidateURL(w.URL); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if _, err := w.Deliver(ctx, ev); err != nil {
			w.logger().Warn().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("webhook delivery failed")
		}
	}()
	return nil
}

// Wait blocks until background deliveries finish.
func (w *Webhook) Wait() { w.wg.Wait() }

// Deliver posts ev synchronously and returns the receiver's status code. A replayed
// event id is suppressed and reported as delivered.
func (w *Webhook) Deliver(ctx context.Context, ev events.Event) (int, error) {
	ctx, span := obs.Tracer("notify").Start(ctx, "Webhook.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
	)

	key := "wh:" + ev.ID
	if w.Replay != nil && w.ReplayTTL > 0 {
		ok, err := w.Replay.Acquire(ctx, key, w.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			obs.Count(obs.WebhookDeliveriesTotal, "replay")
			return http.StatusOK, nil
		}
	}

	body, err := json.Marshal(envelope{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		SessionID:  ev.SessionID,
		Data:       ev.Payload,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	ts := w.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toko-checkout-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(w.Secret, ts, ev.ID, body))

	resp, err := w.HTTP.Fetch(ctx, req)
	if err != nil {
		span.RecordError(err)
		obs.Count(obs.WebhookDeliveriesTotal, "failed")
		if w.Replay != nil && w.ReplayTTL > 0 {
			// let a later replay of the same event try again
			_ = w.Replay.Release(ctx, key)
		}
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) {
			return statusErr.Status, err
		}
		return 0, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	obs.Count(obs.WebhookDeliveriesTotal, "delivered")
	return resp.Status, nil
}

func (w *Webhook) forwards(topic string) bool {
	topics := w.Topics
	if len(topics) == 0 {
		topics = []string{events.TopicCheckoutCompleted, events.TopicCheckoutPartialFailure}
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (w *Webhook) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Webhook) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// ValidateURL accepts https receivers, and plain http only on loopback hosts.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the shared secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
