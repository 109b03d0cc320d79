package fence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "perimeter/pkg/domain"
	"perimeter/pkg/platform/sentinel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	area := testArea("office", 52.52, 13.405, 250)
	s.Require().NoError(s.store.Create(s.ctx, area))

	found, err := s.store.FindByID(s.ctx, area.ID)
	s.Require().NoError(err)
	s.Equal(area.Name, found.Name)
	s.Equal(area.RadiusMeters, found.RadiusMeters)

	s.Run("duplicate id conflicts", func() {
		s.ErrorIs(s.store.Create(s.ctx, area), sentinel.ErrConflict)
	})

	s.Run("unknown id not found", func() {
		_, err := s.store.FindByID(s.ctx, id.FenceID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned area is a copy", func() {
		found.Name = "mutated"
		again, err := s.store.FindByID(s.ctx, area.ID)
		s.Require().NoError(err)
		s.Equal("office", again.Name)
	})
}

func (s *InMemoryStoreSuite) TestListAll() {
	first := testArea("first", 0, 0, 100)
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := testArea("second", 1, 1, 100)

	s.Require().NoError(s.store.Create(s.ctx, second))
	s.Require().NoError(s.store.Create(s.ctx, first))

	areas, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(areas, 2)
	s.Equal("first", areas[0].Name)
	s.Equal("second", areas[1].Name)
}

func (s *InMemoryStoreSuite) TestListByOwner() {
	owner := id.UserID(uuid.New())
	mine := testArea("mine", 0, 0, 100)
	mine.OwnerID = owner
	other := testArea("other", 1, 1, 100)

	s.Require().NoError(s.store.Create(s.ctx, mine))
	s.Require().NoError(s.store.Create(s.ctx, other))

	areas, err := s.store.ListByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(areas, 1)
	s.Equal(mine.ID, areas[0].ID)
}

type FenceCacheSuite struct {
	suite.Suite
	store *InMemoryStore
	cache *Cache
	ctx   context.Context
}

func TestFenceCacheSuite(t *testing.T) {
	suite.Run(t, new(FenceCacheSuite))
}

func (s *FenceCacheSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.cache = NewCache(nil, s.store, time.Hour, discardLogger(), nil)
	s.ctx = context.Background()
}

// Without Redis the cache degrades to direct store reads.
func (s *FenceCacheSuite) TestGetFallsThroughToStore() {
	area := testArea("cached", 48.8566, 2.3522, 500)
	s.Require().NoError(s.store.Create(s.ctx, area))

	got, err := s.cache.Get(s.ctx, area.ID)
	s.Require().NoError(err)
	s.Equal(area.ID, got.ID)
	s.Equal(area.Name, got.Name)
}

func (s *FenceCacheSuite) TestGetUnknownFence() {
	_, err := s.cache.Get(s.ctx, id.FenceID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
