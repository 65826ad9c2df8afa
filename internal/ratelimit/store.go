package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is the per-key limiter state.
type Record struct {
	// Attempts are kept oldest first.
	Attempts []time.Time
	// LockedUntil is zero when no lockout is active.
	LockedUntil time.Time
}

// IsZero reports whether the record holds no state worth keeping.
func (r *Record) IsZero() bool {
	return len(r.Attempts) == 0 && r.LockedUntil.IsZero()
}

func (r *Record) clone() *Record {
	return &Record{
		Attempts:    append([]time.Time(nil), r.Attempts...),
		LockedUntil: r.LockedUntil,
	}
}

// Store persists limiter records. Implementations must make Update atomic
// per key.
type Store interface {
	// Update applies fn to the record for key. A missing key yields an empty
	// record; a record left empty by fn is removed. An error from fn aborts
	// the update.
	Update(ctx context.Context, key string, fn func(rec *Record) error) error
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(rec *Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{}
	if existing, ok := s.records[key]; ok {
		rec = existing.clone()
	}
	if err := fn(rec); err != nil {
		return err
	}
	sort.Slice(rec.Attempts, func(i, j int) bool { return rec.Attempts[i].Before(rec.Attempts[j]) })
	if rec.IsZero() {
		delete(s.records, key)
		return nil
	}
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
