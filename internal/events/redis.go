package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPubSub publishes events on one Redis channel per session so that every
// instance holding a stream for that session receives them.
type RedisPubSub struct {
	Client *redis.Client
	Prefix string
	Logger *zerolog.Logger
}

func (r RedisPubSub) channel(sessionID string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "checkout:events"
	}
	return prefix + ":" + sessionID
}

// Publish implements Publisher.
func (r RedisPubSub) Publish(ctx context.Context, event Event) error {
	if r.Client == nil {
		return errors.New("events: redis client not configured")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, r.channel(event.SessionID), raw).Err()
}

// Subscribe implements Subscriber.
func (r RedisPubSub) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	if r.Client == nil {
		return nil, nil, errors.New("events: redis client not configured")
	}
	sub := r.Client.Subscribe(ctx, r.channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					if r.Logger != nil {
						r.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("drop malformed event")
					}
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, stop, nil
}

// MemoryHub is an in-process Publisher and Subscriber used when Redis is not configured.
type MemoryHub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewMemoryHub constructs an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[chan Event]struct{})}
}

// Publish implements Publisher. Slow subscribers miss events rather than block emitters.
func (h *MemoryHub) Publish(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (h *MemoryHub) Subscribe(_ context.Context, sessionID string) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop, nil
}
