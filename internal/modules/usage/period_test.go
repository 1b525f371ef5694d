package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentPeriodKey(t *testing.T) {
	tests := []struct {
		name     string
		kind     PeriodKind
		now      time.Time
		expected string
	}{
		{
			name:     "monthly",
			kind:     PeriodMonthly,
			now:      time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC),
			expected: "2025-03",
		},
		{
			name:     "daily",
			kind:     PeriodDaily,
			now:      time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC),
			expected: "2025-03-15",
		},
		{
			name:     "last instant of the month",
			kind:     PeriodMonthly,
			now:      time.Date(2025, time.January, 31, 23, 59, 59, 999999999, time.UTC),
			expected: "2025-01",
		},
		{
			name:     "non-UTC input is converted",
			kind:     PeriodDaily,
			now:      time.Date(2025, time.March, 31, 22, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			expected: "2025-04-01",
		},
		{
			name:     "non-UTC input crosses the month",
			kind:     PeriodMonthly,
			now:      time.Date(2025, time.March, 31, 22, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)),
			expected: "2025-04",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CurrentPeriodKey(tt.kind, tt.now))
		})
	}
}

func TestPeriodEnd(t *testing.T) {
	now := time.Date(2025, time.December, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(PeriodMonthly, now))
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(PeriodDaily, now))

	feb := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(PeriodMonthly, feb))
}

func TestParsePeriodKey(t *testing.T) {
	kind, err := ParsePeriodKey("2025-03")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonthly, kind)

	kind, err = ParsePeriodKey("2025-03-15")
	require.NoError(t, err)
	assert.Equal(t, PeriodDaily, kind)

	for _, bad := range []string{"", "2025", "2025-13", "2025-03-32", "03-2025", "2025-03-15T00"} {
		_, err := ParsePeriodKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(2 * time.Hour)
	assert.Equal(t, "2025-04", CurrentPeriodKey(PeriodMonthly, c.Now()))

	c.Set(start)
	assert.Equal(t, "2025-03-31", CurrentPeriodKey(PeriodDaily, c.Now()))
}
