package usage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotCache serves dashboard reads from a short-lived cache. Values may be
// stale by up to the TTL; never use it on the enforcement path.
type SnapshotCache struct {
	ledger *Ledger
	cache  *lru.LRU[string, Record]
}

// NewSnapshotCache wraps a ledger with an expiring LRU of display reads
func NewSnapshotCache(ledger *Ledger, size int, ttl time.Duration) *SnapshotCache {
	if size <= 0 {
		size = 10000
	}
	return &SnapshotCache{
		ledger: ledger,
		cache:  lru.NewLRU[string, Record](size, nil, ttl),
	}
}

// Get returns a possibly stale usage record
func (c *SnapshotCache) Get(ctx context.Context, accountID, periodKey string) (Record, error) {
	key := memoryKey(accountID, periodKey)
	if rec, ok := c.cache.Get(key); ok {
		return rec, nil
	}
	rec, err := c.ledger.Get(ctx, accountID, periodKey)
	if err != nil {
		return Record{}, err
	}
	c.cache.Add(key, rec)
	return rec, nil
}

// Store replaces the cached value, e.g. with the record returned by a reservation
func (c *SnapshotCache) Store(rec Record) {
	c.cache.Add(memoryKey(rec.AccountID, rec.PeriodKey), rec)
}

// Invalidate drops a cached period
func (c *SnapshotCache) Invalidate(accountID, periodKey string) {
	c.cache.Remove(memoryKey(accountID, periodKey))
}
