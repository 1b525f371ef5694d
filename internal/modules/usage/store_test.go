package usage

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract runs the behaviour every Store must share
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing record is zero", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, Record{AccountID: "acct_a", PeriodKey: "2025-03"}, rec)
	})

	t.Run("increment accumulates", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "acct_a", "2025-03", Delta{Renders: 2, Minutes: 1.5})
		require.NoError(t, err)
		rec, err := s.Increment(ctx, "acct_a", "2025-03", Delta{Renders: 1, Minutes: 0.25})
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.RendersUsed)
		assert.InDelta(t, 1.75, rec.MinutesUsed, 1e-9)

		got, err := s.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, rec.RendersUsed, got.RendersUsed)
		assert.InDelta(t, rec.MinutesUsed, got.MinutesUsed, 1e-9)
	})

	t.Run("accounts and periods are isolated", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "acct_a", "2025-03", Delta{Renders: 5})
		require.NoError(t, err)

		other, err := s.Get(ctx, "acct_b", "2025-03")
		require.NoError(t, err)
		assert.Zero(t, other.RendersUsed)

		next, err := s.Get(ctx, "acct_a", "2025-04")
		require.NoError(t, err)
		assert.Zero(t, next.RendersUsed)
	})

	t.Run("reserve applies all charges when they fit", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "acct_a", "2025-03", Delta{Renders: 10, Minutes: 20})
		require.NoError(t, err)

		res, err := s.Reserve(ctx, "acct_a", []Charge{
			{PeriodKey: "2025-03", Delta: Delta{Renders: 2, Minutes: 10}, RenderLimit: 12, MinuteLimit: 30},
			{PeriodKey: "2025-03-15", Delta: Delta{Renders: 2}, RenderLimit: 3, MinuteLimit: NoLimit},
		})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		require.Len(t, res.Records, 2)
		assert.Equal(t, int64(12), res.Records[0].RendersUsed)
		assert.InDelta(t, 30.0, res.Records[0].MinutesUsed, 1e-9)
		assert.Equal(t, "2025-03-15", res.Records[1].PeriodKey)
		assert.Equal(t, int64(2), res.Records[1].RendersUsed)
	})

	t.Run("reserve applies nothing when one charge does not fit", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "acct_a", "2025-03-15", Delta{Renders: 3})
		require.NoError(t, err)

		res, err := s.Reserve(ctx, "acct_a", []Charge{
			{PeriodKey: "2025-03", Delta: Delta{Renders: 1, Minutes: 2}, RenderLimit: 12, MinuteLimit: 30},
			{PeriodKey: "2025-03-15", Delta: Delta{Renders: 1}, RenderLimit: 3, MinuteLimit: NoLimit},
		})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		require.Len(t, res.Records, 2)
		assert.Zero(t, res.Records[0].RendersUsed, "records report pre-charge counters")
		assert.Equal(t, int64(3), res.Records[1].RendersUsed)

		monthly, err := s.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Zero(t, monthly.RendersUsed)
		assert.Zero(t, monthly.MinutesUsed)
	})

	t.Run("reserve checks minute limits", func(t *testing.T) {
		s := newStore(t)
		res, err := s.Reserve(ctx, "acct_a", []Charge{
			{PeriodKey: "2025-03", Delta: Delta{Renders: 1, Minutes: 30.5}, RenderLimit: NoLimit, MinuteLimit: 30},
		})
		require.NoError(t, err)
		assert.False(t, res.Applied)
	})

	t.Run("reserve allows exactly reaching the limit", func(t *testing.T) {
		s := newStore(t)
		res, err := s.Reserve(ctx, "acct_a", []Charge{
			{PeriodKey: "2025-03", Delta: Delta{Renders: 12, Minutes: 30}, RenderLimit: 12, MinuteLimit: 30},
		})
		require.NoError(t, err)
		assert.True(t, res.Applied)

		res, err = s.Reserve(ctx, "acct_a", []Charge{
			{PeriodKey: "2025-03", Delta: Delta{Renders: 1}, RenderLimit: 12, MinuteLimit: 30},
		})
		require.NoError(t, err)
		assert.False(t, res.Applied)
	})

	t.Run("reserve rejects a delta that would overflow the counter", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, "acct_a", "2025-03", Delta{Renders: 1})
		require.NoError(t, err)

		for _, limit := range []int64{60, NoLimit} {
			res, err := s.Reserve(ctx, "acct_a", []Charge{
				{PeriodKey: "2025-03", Delta: Delta{Renders: math.MaxInt64}, RenderLimit: limit, MinuteLimit: NoLimit},
			})
			require.NoError(t, err)
			assert.False(t, res.Applied, "limit %d", limit)

			rec, err := s.Get(ctx, "acct_a", "2025-03")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.RendersUsed)
		}
	})

	t.Run("concurrent reservations never exceed the limit", func(t *testing.T) {
		s := newStore(t)
		const workers = 25
		const limit = 10

		var wg sync.WaitGroup
		var applied atomic.Int64
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.Reserve(ctx, "acct_a", []Charge{
					{PeriodKey: "2025-03", Delta: Delta{Renders: 1, Minutes: 1}, RenderLimit: limit, MinuteLimit: NoLimit},
					{PeriodKey: "2025-03-15", Delta: Delta{Renders: 1}, RenderLimit: NoLimit, MinuteLimit: NoLimit},
				})
				if err == nil && res.Applied {
					applied.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(limit), applied.Load())
		monthly, err := s.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, int64(limit), monthly.RendersUsed)
		daily, err := s.Get(ctx, "acct_a", "2025-03-15")
		require.NoError(t, err)
		assert.Equal(t, int64(limit), daily.RendersUsed, "daily and monthly move together")
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.Increment(ctx, "acct_a", "2025-03", Delta{Renders: 1, Minutes: 0.5})
			}()
		}
		wg.Wait()

		rec, err := s.Get(ctx, "acct_a", "2025-03")
		require.NoError(t, err)
		assert.Equal(t, int64(40), rec.RendersUsed)
		assert.InDelta(t, 20.0, rec.MinutesUsed, 1e-9)
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreIncrementOverflow(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Increment(context.Background(), "acct_a", "2025-03", Delta{Renders: 1})
	require.NoError(t, err)

	_, err = s.Increment(context.Background(), "acct_a", "2025-03", Delta{Renders: math.MaxInt64})
	assert.ErrorIs(t, err, ErrInvalidDelta)

	rec, err := s.Get(context.Background(), "acct_a", "2025-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.RendersUsed)
}
