package order

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Entry is one registered order as remembered for the profile page.
type Entry struct {
	OrderID     string        `json:"orderId"`
	Number      string        `json:"number"`
	SessionID   string        `json:"sessionId"`
	TariffCode  int           `json:"tariffCode"`
	Total       pricing.Money `json:"total"`
	Shipping    pricing.Money `json:"shipping"`
	QuotedPrice pricing.Money `json:"quotedPrice"`
	PaymentURL  string        `json:"paymentUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// History stores registered orders per session.
type History interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, sessionID string) ([]Entry, error)
}

// RedisHistory keeps the newest entries of each session in a capped Redis list.
type RedisHistory struct {
	client *redis.Client
	prefix string
	limit  int64
	ttl    time.Duration
}

// NewRedisHistory constructs the Redis-backed history.
func NewRedisHistory(client *redis.Client, prefix string, limit int64, ttl time.Duration) *RedisHistory {
	if prefix == "" {
		prefix = "orders"
	}
	if limit <= 0 {
		limit = 50
	}
	return &RedisHistory{client: client, prefix: prefix, limit: limit, ttl: ttl}
}

func (h *RedisHistory) key(sessionID string) string { return h.prefix + ":" + sessionID }

// Record prepends entry and trims the list.
func (h *RedisHistory) Record(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := h.key(entry.SessionID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, h.limit-1)
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// List returns the entries newest first. Undecodable entries are skipped.
func (h *RedisHistory) List(ctx context.Context, sessionID string) ([]Entry, error) {
	raw, err := h.client.LRange(ctx, h.key(sessionID), 0, h.limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// MemoryHistory is an in-process History for tests and local runs.
type MemoryHistory struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryHistory returns an empty history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{entries: make(map[string][]Entry)}
}

// Record prepends entry.
func (h *MemoryHistory) Record(_ context.Context, entry Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[entry.SessionID] = append([]Entry{entry}, h.entries[entry.SessionID]...)
	return nil
}

// List returns a copy of the entries newest first.
func (h *MemoryHistory) List(_ context.Context, sessionID string) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries[sessionID]...), nil
}
