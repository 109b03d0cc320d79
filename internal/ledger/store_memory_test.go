package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"perimeter/internal/geo"
	id "perimeter/pkg/domain"
	"perimeter/pkg/platform/sentinel"
)

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

func newTestRecord(userID id.UserID, areaID id.FenceID) *LocationRecord {
	return &LocationRecord{
		ID:           id.NewRecordID(),
		UserID:       userID,
		AreaID:       areaID,
		AreaName:     "test area",
		InCoordinate: geo.Coordinate{Latitude: 52.52, Longitude: 13.405},
		InTime:       time.Now(),
	}
}

func (s *InMemoryStoreSuite) TestOpenRecord() {
	userID := id.UserID(uuid.New())
	areaID := id.FenceID(uuid.New())

	s.Run("open then find", func() {
		record := newTestRecord(userID, areaID)
		s.Require().NoError(s.store.OpenRecord(s.ctx, record))

		found, err := s.store.FindOpenRecord(s.ctx, userID)
		s.Require().NoError(err)
		s.Equal(record.ID, found.ID)
		s.False(found.Disconnected)
	})

	s.Run("second open for same user conflicts", func() {
		err := s.store.OpenRecord(s.ctx, newTestRecord(userID, areaID))
		s.ErrorIs(err, sentinel.ErrConflict)
		s.Equal(1, s.store.OpenRecordCount(userID))
	})

	s.Run("no open record is not found", func() {
		_, err := s.store.FindOpenRecord(s.ctx, id.UserID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestCloseRecord() {
	userID := id.UserID(uuid.New())
	record := newTestRecord(userID, id.FenceID(uuid.New()))
	s.Require().NoError(s.store.OpenRecord(s.ctx, record))

	out := geo.Coordinate{Latitude: 52.53, Longitude: 13.41}
	outTime := time.Now()

	s.Run("close open record", func() {
		s.Require().NoError(s.store.CloseRecord(s.ctx, record.ID, out, outTime, false))

		_, err := s.store.FindOpenRecord(s.ctx, userID)
		s.ErrorIs(err, sentinel.ErrNotFound)

		records, err := s.store.ListByUser(s.ctx, userID, 10)
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.True(records[0].Disconnected)
		s.False(records[0].Switched)
		s.Require().NotNil(records[0].OutCoordinate)
		s.Equal(out, *records[0].OutCoordinate)
	})

	s.Run("double close conflicts", func() {
		err := s.store.CloseRecord(s.ctx, record.ID, out, outTime, false)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("close of unknown record conflicts", func() {
		err := s.store.CloseRecord(s.ctx, id.NewRecordID(), out, outTime, false)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("switched flag is recorded", func() {
		next := newTestRecord(userID, id.FenceID(uuid.New()))
		s.Require().NoError(s.store.OpenRecord(s.ctx, next))
		s.Require().NoError(s.store.CloseRecord(s.ctx, next.ID, out, outTime, true))

		records, err := s.store.ListByUser(s.ctx, userID, 10)
		s.Require().NoError(err)
		s.Require().NotEmpty(records)
		s.True(records[0].Switched)
	})
}

func (s *InMemoryStoreSuite) TestEdges() {
	userID := id.UserID(uuid.New())
	areaID := id.FenceID(uuid.New())

	s.Run("create and check", func() {
		s.Require().NoError(s.store.CreateEdge(s.ctx, userID, areaID))
		has, err := s.store.HasEdge(s.ctx, userID, areaID)
		s.Require().NoError(err)
		s.True(has)
	})

	s.Run("create is idempotent", func() {
		s.Require().NoError(s.store.CreateEdge(s.ctx, userID, areaID))
		edges, err := s.store.ListEdgesByUser(s.ctx, userID)
		s.Require().NoError(err)
		s.Len(edges, 1)
	})

	s.Run("delete", func() {
		s.Require().NoError(s.store.DeleteEdge(s.ctx, userID, areaID))
		has, err := s.store.HasEdge(s.ctx, userID, areaID)
		s.Require().NoError(err)
		s.False(has)
	})

	s.Run("delete of absent edge is a no-op", func() {
		s.NoError(s.store.DeleteEdge(s.ctx, userID, areaID))
	})
}

func (s *InMemoryStoreSuite) TestListOccupants() {
	areaID := id.FenceID(uuid.New())
	first := id.UserID(uuid.New())
	second := id.UserID(uuid.New())

	s.Require().NoError(s.store.CreateEdge(s.ctx, first, areaID))
	time.Sleep(time.Millisecond)
	s.Require().NoError(s.store.CreateEdge(s.ctx, second, areaID))
	s.Require().NoError(s.store.CreateEdge(s.ctx, first, id.FenceID(uuid.New())))

	users, err := s.store.ListOccupants(s.ctx, areaID)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal(first, users[0])
	s.Equal(second, users[1])
}

func (s *InMemoryStoreSuite) TestListByUserLimit() {
	userID := id.UserID(uuid.New())
	for i := 0; i < 5; i++ {
		record := newTestRecord(userID, id.FenceID(uuid.New()))
		record.InTime = time.Now().Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.store.OpenRecord(s.ctx, record))
		s.Require().NoError(s.store.CloseRecord(s.ctx, record.ID, record.InCoordinate, record.InTime.Add(time.Second), false))
	}

	records, err := s.store.ListByUser(s.ctx, userID, 3)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	// Newest first.
	s.True(records[0].InTime.After(records[1].InTime))
	s.True(records[1].InTime.After(records[2].InTime))
}

type InMemoryTxRunnerSuite struct {
	suite.Suite
	store  *InMemoryStore
	runner *InMemoryTxRunner
	ctx    context.Context
}

func TestInMemoryTxRunnerSuite(t *testing.T) {
	suite.Run(t, new(InMemoryTxRunnerSuite))
}

func (s *InMemoryTxRunnerSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.runner = NewInMemoryTxRunner(s.store)
	s.ctx = context.Background()
}

func (s *InMemoryTxRunnerSuite) TestCommit() {
	userID := id.UserID(uuid.New())
	areaID := id.FenceID(uuid.New())

	err := s.runner.RunInTx(s.ctx, func(ctx context.Context, store Store) error {
		if err := store.OpenRecord(ctx, newTestRecord(userID, areaID)); err != nil {
			return err
		}
		return store.CreateEdge(ctx, userID, areaID)
	})
	s.Require().NoError(err)

	s.Equal(1, s.store.OpenRecordCount(userID))
	has, err := s.store.HasEdge(s.ctx, userID, areaID)
	s.Require().NoError(err)
	s.True(has)
}

// A failing batch must leave no trace: a half-applied fence switch would
// violate the open-record-iff-edge pairing.
func (s *InMemoryTxRunnerSuite) TestRollbackOnError() {
	userID := id.UserID(uuid.New())
	oldArea := id.FenceID(uuid.New())
	newArea := id.FenceID(uuid.New())

	open := newTestRecord(userID, oldArea)
	s.Require().NoError(s.store.OpenRecord(s.ctx, open))
	s.Require().NoError(s.store.CreateEdge(s.ctx, userID, oldArea))

	boom := errors.New("boom")
	err := s.runner.RunInTx(s.ctx, func(ctx context.Context, store Store) error {
		if err := store.CloseRecord(ctx, open.ID, open.InCoordinate, time.Now(), true); err != nil {
			return err
		}
		if err := store.OpenRecord(ctx, newTestRecord(userID, newArea)); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	found, err := s.store.FindOpenRecord(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(open.ID, found.ID)
	s.Equal(oldArea, found.AreaID)
	s.Equal(1, s.store.OpenRecordCount(userID))

	has, err := s.store.HasEdge(s.ctx, userID, oldArea)
	s.Require().NoError(err)
	s.True(has)
}

func (s *InMemoryTxRunnerSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err := s.runner.RunInTx(ctx, func(context.Context, Store) error { return nil })
	s.ErrorIs(err, context.Canceled)
}
