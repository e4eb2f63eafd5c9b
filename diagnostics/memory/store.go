// Package memory is an in-memory diagnostics.Store, grounded on the
// teacher's store/memory.Store: a map guarded by a sync.RWMutex, used as
// the default when no durable backend is configured and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/diagnostics"
)

// Store is an in-memory diagnostics.Store.
type Store struct {
	mu      sync.RWMutex
	records map[coordinator.ModificationID]diagnostics.Record
	leaked  map[coordinator.ModificationID]int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records: make(map[coordinator.ModificationID]diagnostics.Record),
		leaked:  make(map[coordinator.ModificationID]int),
	}
}

func (s *Store) put(rec diagnostics.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.RecordedAt = time.Now()
	s.records[rec.ModID] = rec
}

// RecordCompleted implements diagnostics.Store.
func (s *Store) RecordCompleted(ctx context.Context, rec diagnostics.Record) error {
	s.put(rec)
	return nil
}

// RecordFailed implements diagnostics.Store.
func (s *Store) RecordFailed(ctx context.Context, rec diagnostics.Record) error {
	s.put(rec)
	return nil
}

// Get implements diagnostics.Store.
func (s *Store) Get(ctx context.Context, modID coordinator.ModificationID) (diagnostics.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[modID]
	if !ok {
		return diagnostics.Record{}, diagnostics.ErrNotFound
	}
	return rec, nil
}

// RecordLeakedSlots implements diagnostics.Store.
func (s *Store) RecordLeakedSlots(ctx context.Context, modID coordinator.ModificationID, slotCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaked[modID] += slotCount
	return nil
}
