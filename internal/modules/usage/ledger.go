package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrInvalidDelta is a caller bug: usage deltas must be finite and non-negative
	ErrInvalidDelta = errors.New("invalid usage delta")

	// ErrInvalidKey is returned for a missing account id or malformed period key
	ErrInvalidKey = errors.New("invalid usage key")

	// ErrStorageUnavailable wraps transient ledger backend failures
	ErrStorageUnavailable = errors.New("usage storage unavailable")
)

// NoLimit disables a charge limit
const NoLimit int64 = -1

// Record is the accumulated usage of one account in one period
type Record struct {
	AccountID   string  `json:"accountId"`
	PeriodKey   string  `json:"periodKey"`
	RendersUsed int64   `json:"rendersUsed"`
	MinutesUsed float64 `json:"minutesUsed"`
}

// Delta is an amount of usage to add
type Delta struct {
	Renders int64
	Minutes float64
}

// IsZero reports whether the delta adds nothing
func (d Delta) IsZero() bool {
	return d.Renders == 0 && d.Minutes == 0
}

// Validate rejects negative or non-finite deltas
func (d Delta) Validate() error {
	if d.Renders < 0 {
		return fmt.Errorf("%w: renders %d is negative", ErrInvalidDelta, d.Renders)
	}
	if math.IsNaN(d.Minutes) || math.IsInf(d.Minutes, 0) {
		return fmt.Errorf("%w: minutes %v is not finite", ErrInvalidDelta, d.Minutes)
	}
	if d.Minutes < 0 {
		return fmt.Errorf("%w: minutes %v is negative", ErrInvalidDelta, d.Minutes)
	}
	return nil
}

// Charge is one conditional increment inside a reservation
type Charge struct {
	PeriodKey   string
	Delta       Delta
	RenderLimit int64 // NoLimit for no ceiling
	MinuteLimit int64 // NoLimit for no ceiling
}

// Fits reports whether applying the charge to r keeps it within limits.
// Render counts are compared against the remaining headroom so a huge delta
// cannot wrap the sum.
func (c Charge) Fits(r Record) bool {
	if !rendersFit(r.RendersUsed, c.Delta.Renders, math.MaxInt64) {
		return false
	}
	if c.RenderLimit >= 0 && !rendersFit(r.RendersUsed, c.Delta.Renders, c.RenderLimit) {
		return false
	}
	if c.MinuteLimit >= 0 && r.MinutesUsed+c.Delta.Minutes > float64(c.MinuteLimit) {
		return false
	}
	return true
}

// rendersFit reports whether used+delta <= limit without overflowing.
// used and delta are non-negative.
func rendersFit(used, delta, limit int64) bool {
	return used <= limit && delta <= limit-used
}

// Reservation is the outcome of an atomic multi-period reservation. Records
// hold the counters observed inside the atomic section: after the increment
// when Applied, before it otherwise.
type Reservation struct {
	Applied bool
	Records []Record
}

// Store is a usage backend. Implementations serialize mutations per
// (account, period) and apply Reserve as one atomic unit.
type Store interface {
	Get(ctx context.Context, accountID, periodKey string) (Record, error)
	Increment(ctx context.Context, accountID, periodKey string, delta Delta) (Record, error)
	Reserve(ctx context.Context, accountID string, charges []Charge) (Reservation, error)
}

// Ledger is the usage ledger over a pluggable store and a single clock
type Ledger struct {
	store  Store
	clock  Clock
	logger *zap.Logger
}

// NewLedger creates a new usage ledger
func NewLedger(store Store, clock Clock, logger *zap.Logger) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, clock: clock, logger: logger}
}

// Clock returns the ledger's time source
func (l *Ledger) Clock() Clock {
	return l.clock
}

// CurrentPeriodKey returns the key of the period containing the clock's now
func (l *Ledger) CurrentPeriodKey(kind PeriodKind) string {
	return CurrentPeriodKey(kind, l.clock.Now())
}

// Get returns usage for a period, zeroed when nothing was recorded yet
func (l *Ledger) Get(ctx context.Context, accountID, periodKey string) (Record, error) {
	if err := validateKey(accountID, periodKey); err != nil {
		return Record{}, err
	}
	rec, err := l.store.Get(ctx, accountID, periodKey)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Increment adds usage to a period unconditionally
func (l *Ledger) Increment(ctx context.Context, accountID, periodKey string, renders int64, minutes float64) (Record, error) {
	if err := validateKey(accountID, periodKey); err != nil {
		return Record{}, err
	}
	delta := Delta{Renders: renders, Minutes: minutes}
	if err := delta.Validate(); err != nil {
		return Record{}, err
	}
	rec, err := l.store.Increment(ctx, accountID, periodKey, delta)
	if err != nil {
		l.logger.Error("Failed to increment usage",
			zap.String("account_id", accountID),
			zap.String("period", periodKey),
			zap.Error(err),
		)
		return Record{}, err
	}
	return rec, nil
}

// Reserve applies every charge or none. Limits are checked against the
// counters read inside the same atomic section, so concurrent reservations
// cannot both spend the last unit of a quota.
func (l *Ledger) Reserve(ctx context.Context, accountID string, charges []Charge) (Reservation, error) {
	if len(charges) == 0 {
		return Reservation{Applied: true}, nil
	}
	seen := make(map[string]bool, len(charges))
	for _, c := range charges {
		if err := validateKey(accountID, c.PeriodKey); err != nil {
			return Reservation{}, err
		}
		if seen[c.PeriodKey] {
			return Reservation{}, fmt.Errorf("%w: period %s charged twice", ErrInvalidKey, c.PeriodKey)
		}
		seen[c.PeriodKey] = true
		if err := c.Delta.Validate(); err != nil {
			return Reservation{}, err
		}
	}
	res, err := l.store.Reserve(ctx, accountID, charges)
	if err != nil {
		l.logger.Error("Failed to reserve usage",
			zap.String("account_id", accountID),
			zap.Int("charges", len(charges)),
			zap.Error(err),
		)
		return Reservation{}, err
	}
	return res, nil
}

func validateKey(accountID, periodKey string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidKey)
	}
	if _, err := ParsePeriodKey(periodKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
