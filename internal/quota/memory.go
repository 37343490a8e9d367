package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process quota ledger. State is scoped to this process
// by design; horizontally scaled instances each keep their own counts.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store using the supplied clock. Intended
// for tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:     now,
		records: make(map[string]*Record),
	}
}

// Usage returns the user's record for the current period.
func (s *MemoryStore) Usage(_ context.Context, userID string, limit int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.current(userID, limit), nil
}

// Increment records one accepted call.
func (s *MemoryStore) Increment(_ context.Context, userID string, limit int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.current(userID, limit)
	rec.Used++
	return *rec, nil
}

// IncrementIfBelow records one accepted call unless the user is already at
// the limit. Check and increment happen under one lock acquisition.
func (s *MemoryStore) IncrementIfBelow(_ context.Context, userID string, limit int) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.current(userID, limit)
	if rec.Used >= limit {
		return *rec, false, nil
	}
	rec.Used++
	return *rec, true, nil
}

// Sweep drops records from past periods and returns the number removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	period := PeriodKey(s.now())
	removed := 0
	for userID, rec := range s.records {
		if rec.PeriodKey != period {
			delete(s.records, userID)
			removed++
		}
	}
	return removed
}

// current returns the live record for userID, rolling the period over if
// needed. Caller must hold s.mu.
func (s *MemoryStore) current(userID string, limit int) *Record {
	period := PeriodKey(s.now())

	rec, ok := s.records[userID]
	if !ok || rec.PeriodKey != period {
		rec = &Record{UserID: userID, PeriodKey: period}
		s.records[userID] = rec
	}
	rec.Limit = limit
	return rec
}
