package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getools/gesniper/internal/domain"
)

func TestMemoryDeliveryStoreRoundtrip(t *testing.T) {
	s := NewMemoryDeliveryStore()
	ctx := context.Background()
	key := DeliveryKey{Tenant: "100000000000000001", Item: 42, Kind: domain.KindDump, Bucket: 283333}

	seen, err := s.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, key, time.Minute))
	seen, err = s.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	// A different bucket is a different record.
	other := key
	other.Bucket++
	seen, err = s.Seen(ctx, other)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryDeliveryStoreExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := &memoryDeliveryStore{
		entries: make(map[DeliveryKey]time.Time),
		now:     func() time.Time { return now },
	}
	ctx := context.Background()
	key := DeliveryKey{Tenant: "100000000000000001", Item: 42, Kind: domain.KindDump, Bucket: 1}

	require.NoError(t, s.Mark(ctx, key, time.Minute))
	seen, _ := s.Seen(ctx, key)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = s.Seen(ctx, key)
	assert.False(t, seen, "expired records are forgotten")
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, int64(28333333), bucketFor(1_700_000_000, time.Minute))
	assert.Equal(t, int64(1700000000/300), bucketFor(1_700_000_000, 5*time.Minute))
	// Zero period falls back to one minute instead of dividing by zero.
	assert.Equal(t, int64(28333333), bucketFor(1_700_000_000, 0))
}
