package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotCache(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(NewMemoryStore(), nil, zap.NewNop())
	cache := NewSnapshotCache(ledger, 100, time.Minute)

	_, err := ledger.Increment(ctx, "acct_a", "2025-03", 1, 2)
	require.NoError(t, err)

	rec, err := cache.Get(ctx, "acct_a", "2025-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.RendersUsed)

	t.Run("serves stale values until invalidated", func(t *testing.T) {
		_, err := ledger.Increment(ctx, "acct_a", "2025-03", 1, 0)
		require.NoError(t, err)

		stale, err := cache.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stale.RendersUsed)

		cache.Invalidate("acct_a", "2025-03")
		fresh, err := cache.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, int64(2), fresh.RendersUsed)
	})

	t.Run("store replaces the cached value", func(t *testing.T) {
		cache.Store(Record{AccountID: "acct_a", PeriodKey: "2025-03", RendersUsed: 7})
		rec, err := cache.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, int64(7), rec.RendersUsed)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		_, err := cache.Get(ctx, "", "2025-03")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestSnapshotCacheExpires(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(NewMemoryStore(), nil, zap.NewNop())
	cache := NewSnapshotCache(ledger, 0, 20*time.Millisecond)

	_, err := cache.Get(ctx, "acct_a", "2025-03")
	require.NoError(t, err)
	_, err = ledger.Increment(ctx, "acct_a", "2025-03", 3, 0)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec, err := cache.Get(ctx, "acct_a", "2025-03")
		return err == nil && rec.RendersUsed == 3
	}, time.Second, 10*time.Millisecond)
}
