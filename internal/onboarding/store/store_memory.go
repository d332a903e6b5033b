package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"onboarder/internal/onboarding/models"
	"onboarder/pkg/platform/sentinel"
)

// MemoryStore is the in-process Store used in tests and broker-less
// deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]models.Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]models.Run)}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, sentinel.ErrConflict)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, sentinel.ErrNotFound)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	return &run, nil
}

func (s *MemoryStore) RunsByEmail(_ context.Context, email string) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Run
	for _, run := range s.runs {
		if run.UserEmail == email {
			r := run
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
