// Package session keeps in-progress attempts between officer requests.
package session

import (
	"context"
	"fmt"
	"sync"

	"checkpoint/internal/processing/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
)

// InMemoryAttemptStore holds attempts for single-node and test runs.
type InMemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[id.AttemptID]models.Attempt
}

func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{attempts: make(map[id.AttemptID]models.Attempt)}
}

func (s *InMemoryAttemptStore) Get(_ context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return models.Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, sentinel.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *InMemoryAttemptStore) Save(_ context.Context, a models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a.Clone()
	return nil
}
