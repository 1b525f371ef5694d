package usage

import (
	"fmt"
	"sync"
	"time"
)

// PeriodKind selects the usage window a counter belongs to
type PeriodKind string

const (
	PeriodMonthly PeriodKind = "monthly"
	PeriodDaily   PeriodKind = "daily"
)

const (
	monthlyLayout = "2006-01"
	dailyLayout   = "2006-01-02"
)

// CurrentPeriodKey formats the period containing now. Keys are computed in UTC
// so every replica agrees on where a period boundary falls.
func CurrentPeriodKey(kind PeriodKind, now time.Time) string {
	now = now.UTC()
	switch kind {
	case PeriodDaily:
		return now.Format(dailyLayout)
	default:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.Format(monthlyLayout)
	}
}

// PeriodEnd returns the first instant after the period containing now
func PeriodEnd(kind PeriodKind, now time.Time) time.Time {
	now = now.UTC()
	switch kind {
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// ParsePeriodKey validates a period key and reports its kind
func ParsePeriodKey(key string) (PeriodKind, error) {
	if _, err := time.Parse(dailyLayout, key); err == nil {
		return PeriodDaily, nil
	}
	if _, err := time.Parse(monthlyLayout, key); err == nil {
		return PeriodMonthly, nil
	}
	return "", fmt.Errorf("invalid period key %q", key)
}

// Clock is the single time source for period computations
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock is a settable clock for tests and replays
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now returns the frozen time
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
