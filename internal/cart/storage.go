package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage persists the cart counts of a session. It is the key-value collaborator
// the cart is restored from at session start and written to after every mutation.
type Storage interface {
	Load(ctx context.Context, sessionID string) (Counts, bool, error)
	Save(ctx context.Context, sessionID string, counts Counts) error
}

// RedisStorage keeps carts as JSON values with a sliding TTL.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStorage constructs a Redis backed cart storage.
func NewRedisStorage(client *redis.Client, prefix string, ttl time.Duration) *RedisStorage {
	if prefix == "" {
		prefix = "cart"
	}
	return &RedisStorage{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStorage) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Load reports whether a cart was stored for the session.
func (s *RedisStorage) Load(ctx context.Context, sessionID string) (Counts, bool, error) {
	if s == nil || s.client == nil || sessionID == "" {
		return Counts{}, false, nil
	}
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Counts{}, false, nil
		}
		return Counts{}, false, err
	}
	var counts Counts
	if err := json.Unmarshal(data, &counts); err != nil {
		return Counts{}, false, err
	}
	return counts.normalized(), true, nil
}

// Save overwrites the stored cart. Concurrent writers race and the last one wins.
func (s *RedisStorage) Save(ctx context.Context, sessionID string, counts Counts) error {
	if s == nil || s.client == nil || sessionID == "" {
		return nil
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err()
}

// MemoryStorage is a process-local Storage for development and tests.
type MemoryStorage struct {
	mu    sync.Mutex
	carts map[string][]byte
}

// NewMemoryStorage constructs an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{carts: make(map[string][]byte)}
}

// Load implements Storage.
func (m *MemoryStorage) Load(_ context.Context, sessionID string) (Counts, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.carts[sessionID]
	if !ok {
		return Counts{}, false, nil
	}
	var counts Counts
	if err := json.Unmarshal(raw, &counts); err != nil {
		return Counts{}, false, err
	}
	return counts.normalized(), true, nil
}

// Save implements Storage.
func (m *MemoryStorage) Save(_ context.Context, sessionID string, counts Counts) error {
	raw, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.carts[sessionID] = raw
	m.mu.Unlock()
	return nil
}
