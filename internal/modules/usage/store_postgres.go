package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps usage in the usage_records table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed usage store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the record or a zeroed one
func (s *PostgresStore) Get(ctx context.Context, accountID, periodKey string) (Record, error) {
	rec := Record{AccountID: accountID, PeriodKey: periodKey}
	err := s.pool.QueryRow(ctx, `
		SELECT renders_used, minutes_used
		FROM usage_records
		WHERE account_id = $1 AND period_key = $2
	`, accountID, periodKey).Scan(&rec.RendersUsed, &rec.MinutesUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rec, nil
}

// Increment upserts the row and adds delta in one statement
func (s *PostgresStore) Increment(ctx context.Context, accountID, periodKey string, delta Delta) (Record, error) {
	rec := Record{AccountID: accountID, PeriodKey: periodKey}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO usage_records (account_id, period_key, renders_used, minutes_used, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id, period_key) DO UPDATE SET
			renders_used = usage_records.renders_used + EXCLUDED.renders_used,
			minutes_used = usage_records.minutes_used + EXCLUDED.minutes_used,
			updated_at = NOW()
		RETURNING renders_used, minutes_used
	`, accountID, periodKey, delta.Renders, delta.Minutes).Scan(&rec.RendersUsed, &rec.MinutesUsed)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rec, nil
}

// Reserve locks the charged rows with SELECT ... FOR UPDATE inside one
// transaction, checks every limit, and commits the increments only if all fit
func (s *PostgresStore) Reserve(ctx context.Context, accountID string, charges []Charge) (Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	// lock rows in a stable order so concurrent reservations cannot deadlock
	order := make([]int, len(charges))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return charges[order[a]].PeriodKey < charges[order[b]].PeriodKey
	})

	records := make([]Record, len(charges))
	applied := true
	for _, i := range order {
		c := charges[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO usage_records (account_id, period_key)
			VALUES ($1, $2)
			ON CONFLICT (account_id, period_key) DO NOTHING
		`, accountID, c.PeriodKey); err != nil {
			return Reservation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		rec := Record{AccountID: accountID, PeriodKey: c.PeriodKey}
		if err := tx.QueryRow(ctx, `
			SELECT renders_used, minutes_used
			FROM usage_records
			WHERE account_id = $1 AND period_key = $2
			FOR UPDATE
		`, accountID, c.PeriodKey).Scan(&rec.RendersUsed, &rec.MinutesUsed); err != nil {
			return Reservation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		records[i] = rec
		if !c.Fits(rec) {
			applied = false
		}
	}
	if !applied {
		// rollback discards the placeholder rows; readers see zero either way
		return Reservation{Applied: false, Records: records}, nil
	}

	for _, i := range order {
		c := charges[i]
		if c.Delta.IsZero() {
			continue
		}
		if err := tx.QueryRow(ctx, `
			UPDATE usage_records
			SET renders_used = renders_used + $3,
			    minutes_used = minutes_used + $4,
			    updated_at = NOW()
			WHERE account_id = $1 AND period_key = $2
			RETURNING renders_used, minutes_used
		`, accountID, c.PeriodKey, c.Delta.Renders, c.Delta.Minutes).Scan(&records[i].RendersUsed, &records[i].MinutesUsed); err != nil {
			return Reservation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return Reservation{Applied: true, Records: records}, nil
}
