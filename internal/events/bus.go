package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a single signal scoped to one checkout session.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	SessionID  string          `json:"sessionId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Publisher broadcasts events to every view of a session, possibly served by another
// process.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber yields the events of one session until the returned stop func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
}

// Notifier reacts to emitted events in-process (metrics, logs, etc.).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus encodes events and fans them out to the publisher and local notifiers.
type Bus struct {
	Publisher Publisher
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit builds the event and dispatches it. Delivery failures are joined and returned;
// the event itself is always returned so callers can log it.
func (b *Bus) Emit(ctx context.Context, topic, sessionID string, payload any) (Event, error) {
	if b == nil {
		return Event{}, nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return Event{}, errors.New("events: session id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		SessionID:  sessionID,
		Payload:    encoded,
		OccurredAt: now().UTC(),
	}
	var joined error
	if b.Publisher != nil {
		if pubErr := b.Publisher.Publish(ctx, ev); pubErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: publish: %w", pubErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
