// Package alert fans detected events out to tenants: filter, classify,
// dedup, rate-cap, deliver.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getools/gesniper/internal/domain"
)

// DeliveryKey identifies one delivered alert for dedup purposes. Bucket is
// the event timestamp quantized to the ingest period, so a re-detection
// within the same window never double-fires.
type DeliveryKey struct {
	Tenant string
	Item   domain.ItemID
	Kind   domain.EventKind
	Bucket int64
}

// DeliveryStore remembers which alerts went out. Seen is checked before
// delivery; Mark is written only after a successful post, so transient
// failures stay retryable.
type DeliveryStore interface {
	Seen(ctx context.Context, k DeliveryKey) (bool, error)
	Mark(ctx context.Context, k DeliveryKey, ttl time.Duration) error
}

// memoryDeliveryStore is the single-process default.
type memoryDeliveryStore struct {
	mu      sync.Mutex
	entries map[DeliveryKey]time.Time
	now     func() time.Time
}

// sweep threshold keeps the map bounded even with pathological churn.
const sweepAt = 65536

// NewMemoryDeliveryStore returns an in-memory delivery record store.
func NewMemoryDeliveryStore() DeliveryStore {
	return &memoryDeliveryStore{
		entries: make(map[DeliveryKey]time.Time),
		now:     time.Now,
	}
}

func (m *memoryDeliveryStore) Seen(ctx context.Context, k DeliveryKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[k]
	if !ok {
		return false, nil
	}
	if m.now().After(exp) {
		delete(m.entries, k)
		return false, nil
	}
	return true, nil
}

func (m *memoryDeliveryStore) Mark(ctx context.Context, k DeliveryKey, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= sweepAt {
		now := m.now()
		for key, exp := range m.entries {
			if now.After(exp) {
				delete(m.entries, key)
			}
		}
	}
	m.entries[k] = m.now().Add(ttl)
	return nil
}

// redisDeliveryStore shares records across processes.
type redisDeliveryStore struct {
	client redis.UniversalClient
}

// NewRedisDeliveryStore returns a Redis-backed delivery record store for
// multi-process deployments.
func NewRedisDeliveryStore(client redis.UniversalClient) DeliveryStore {
	return &redisDeliveryStore{client: client}
}

func (r *redisDeliveryStore) key(k DeliveryKey) string {
	return fmt.Sprintf("gesniper:delivery:%s:%d:%s:%d", k.Tenant, k.Item, k.Kind, k.Bucket)
}

func (r *redisDeliveryStore) Seen(ctx context.Context, k DeliveryKey) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(k)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery record: %w", err)
	}
	return n > 0, nil
}

func (r *redisDeliveryStore) Mark(ctx context.Context, k DeliveryKey, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(k), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write delivery record: %w", err)
	}
	return nil
}
