package fence

import (
	"context"
	"sort"
	"sync"

	id "perimeter/pkg/domain"
	"perimeter/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	areas map[id.FenceID]*Area
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{areas: make(map[id.FenceID]*Area)}
}

func (s *InMemoryStore) FindByID(_ context.Context, fenceID id.FenceID) (*Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	area, ok := s.areas[fenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *area
	return &copied, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	areas := make([]*Area, 0, len(s.areas))
	for _, area := range s.areas {
		copied := *area
		areas = append(areas, &copied)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].CreatedAt.Before(areas[j].CreatedAt) })
	return areas, nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID id.UserID) ([]*Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var areas []*Area
	for _, area := range s.areas {
		if area.OwnerID == ownerID {
			copied := *area
			areas = append(areas, &copied)
		}
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].CreatedAt.Before(areas[j].CreatedAt) })
	return areas, nil
}

func (s *InMemoryStore) Create(_ context.Context, area *Area) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.areas[area.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *area
	s.areas[area.ID] = &copied
	return nil
}
