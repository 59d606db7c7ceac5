// Package store persists transaction records and the passengers they point at.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"checkpoint/internal/processing/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/platform/tx"
)

type attemptKey struct {
	attempt    id.AttemptID
	generation int
}

// InMemoryTransactionStore is used when no database is configured.
type InMemoryTransactionStore struct {
	mu         sync.RWMutex
	records    map[id.TransactionID]models.TransactionRecord
	byAttempt  map[attemptKey]id.TransactionID
	passengers map[id.PassengerID]models.Passenger
}

func NewInMemoryTransactionStore() *InMemoryTransactionStore {
	return &InMemoryTransactionStore{
		records:    make(map[id.TransactionID]models.TransactionRecord),
		byAttempt:  make(map[attemptKey]id.TransactionID),
		passengers: make(map[id.PassengerID]models.Passenger),
	}
}

// SaveTransaction upserts the passenger and inserts the record. A second
// save for the same attempt generation returns the first record's ID wrapped
// in sentinel.ErrConflict and writes nothing. Inside a tx.MemoryRunner
// transaction both writes are undone if the transaction fails.
func (s *InMemoryTransactionStore) SaveTransaction(ctx context.Context, sub models.Submission) (id.TransactionID, error) {
	rec := sub.Record
	if rec.ID.IsNil() {
		return id.TransactionID{}, fmt.Errorf("save transaction: record has no id")
	}
	key := attemptKey{attempt: rec.AttemptID, generation: rec.Generation}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byAttempt[key]; ok {
		return existing, fmt.Errorf("attempt %s generation %d already recorded: %w", rec.AttemptID, rec.Generation, sentinel.ErrConflict)
	}
	p := sub.Passenger
	p.ImageRefs = slices.Clone(p.ImageRefs)
	previous, replaced := s.passengers[p.ID]
	s.passengers[p.ID] = p
	s.records[rec.ID] = cloneRecord(rec)
	s.byAttempt[key] = rec.ID

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.records, rec.ID)
		delete(s.byAttempt, key)
		if replaced {
			s.passengers[p.ID] = previous
		} else {
			delete(s.passengers, p.ID)
		}
	})
	return rec.ID, nil
}

func (s *InMemoryTransactionStore) FindByID(_ context.Context, txID id.TransactionID) (models.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[txID]
	if !ok {
		return models.TransactionRecord{}, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryTransactionStore) FindPassenger(_ context.Context, passengerID id.PassengerID) (models.Passenger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.passengers[passengerID]
	if !ok {
		return models.Passenger{}, sentinel.ErrNotFound
	}
	p.ImageRefs = slices.Clone(p.ImageRefs)
	return p, nil
}

// Count returns the number of stored records.
func (s *InMemoryTransactionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(r models.TransactionRecord) models.TransactionRecord {
	r.TriggeredRules = slices.Clone(r.TriggeredRules)
	r.Steps = slices.Clone(r.Steps)
	r.Attachments = slices.Clone(r.Attachments)
	if r.Trip != nil {
		t := *r.Trip
		r.Trip = &t
	}
	return r
}
