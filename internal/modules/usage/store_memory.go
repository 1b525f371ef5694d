package usage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps usage in process memory. Suitable for a single replica
// and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   make(map[string]*sync.Mutex),
		records: make(map[string]Record),
	}
}

func memoryKey(accountID, periodKey string) string {
	return accountID + "|" + periodKey
}

// keyLock returns the mutex serializing one (account, period) pair
func (s *MemoryStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *MemoryStore) load(accountID, periodKey string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[memoryKey(accountID, periodKey)]; ok {
		return rec
	}
	return Record{AccountID: accountID, PeriodKey: periodKey}
}

func (s *MemoryStore) save(rec Record) {
	s.mu.Lock()
	s.records[memoryKey(rec.AccountID, rec.PeriodKey)] = rec
	s.mu.Unlock()
}

// Get returns the record or a zeroed one
func (s *MemoryStore) Get(ctx context.Context, accountID, periodKey string) (Record, error) {
	return s.load(accountID, periodKey), nil
}

// Increment adds delta under the pair's lock
func (s *MemoryStore) Increment(ctx context.Context, accountID, periodKey string, delta Delta) (Record, error) {
	l := s.keyLock(memoryKey(accountID, periodKey))
	l.Lock()
	defer l.Unlock()

	rec := s.load(accountID, periodKey)
	if !rendersFit(rec.RendersUsed, delta.Renders, math.MaxInt64) {
		return Record{}, fmt.Errorf("%w: renders counter would overflow", ErrInvalidDelta)
	}
	rec.RendersUsed += delta.Renders
	rec.MinutesUsed += delta.Minutes
	s.save(rec)
	return rec, nil
}

// Reserve locks every charged pair in key order, checks all limits, then
// applies all charges or none
func (s *MemoryStore) Reserve(ctx context.Context, accountID string, charges []Charge) (Reservation, error) {
	keys := make([]string, len(charges))
	for i, c := range charges {
		keys[i] = memoryKey(accountID, c.PeriodKey)
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		l := s.keyLock(k)
		l.Lock()
		defer l.Unlock()
	}

	records := make([]Record, len(charges))
	applied := true
	for i, c := range charges {
		records[i] = s.load(accountID, c.PeriodKey)
		if !c.Fits(records[i]) {
			applied = false
		}
	}
	if !applied {
		return Reservation{Applied: false, Records: records}, nil
	}
	for i, c := range charges {
		if c.Delta.IsZero() {
			continue
		}
		records[i].RendersUsed += c.Delta.Renders
		records[i].MinutesUsed += c.Delta.Minutes
		s.save(records[i])
	}
	return Reservation{Applied: true, Records: records}, nil
}
