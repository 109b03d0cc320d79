package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"perimeter/internal/event"
	"perimeter/internal/fence"
	"perimeter/internal/fraud"
	"perimeter/internal/geo"
	"perimeter/internal/ledger"
	"perimeter/internal/notifier"
	id "perimeter/pkg/domain"
	dErrors "perimeter/pkg/domain-errors"
	"perimeter/pkg/platform/sentinel"
)

type fakeNotifier struct {
	mu          sync.Mutex
	transitions []notifier.TransitionNotice
	frauds      []notifier.FraudAlert
}

func (n *fakeNotifier) NotifyTransition(_ context.Context, notice notifier.TransitionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, notice)
	return nil
}

func (n *fakeNotifier) NotifyFraud(_ context.Context, alert notifier.FraudAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frauds = append(n.frauds, alert)
	return nil
}

func (n *fakeNotifier) transitionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transitions)
}

func (n *fakeNotifier) fraudCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.frauds)
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	notices []event.OwnerNotice
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, notice event.OwnerNotice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, notice)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notices)
}

type EngineSuite struct {
	suite.Suite
	fences      *fence.InMemoryStore
	ledger      *ledger.InMemoryStore
	fraudStore  *fraud.InMemoryStore
	queue       *event.InMemoryQueue
	notifier    *fakeNotifier
	broadcaster *fakeBroadcaster
	service     *Service
	ctx         context.Context
	userID      id.UserID
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.fences = fence.NewInMemoryStore()
	s.ledger = ledger.NewInMemoryStore()
	s.fraudStore = fraud.NewInMemoryStore()
	s.queue = event.NewInMemoryQueue(64)
	s.notifier = &fakeNotifier{}
	s.broadcaster = &fakeBroadcaster{}
	s.ctx = context.Background()
	s.userID = id.UserID(uuid.New())

	fenceCache := fence.NewCache(nil, s.fences, time.Hour, log, nil)
	guard := fraud.NewGuard(fraud.NewInMemoryCache(24*time.Hour, 24*time.Hour), s.fraudStore, s.notifier, log, nil)
	publisher := event.NewPublisher(s.queue, log, nil)

	s.service = NewService(
		s.fences,
		fenceCache,
		s.ledger,
		ledger.NewInMemoryTxRunner(s.ledger),
		guard,
		publisher,
		s.broadcaster,
		s.notifier,
		log,
		nil,
	)
}

func (s *EngineSuite) seedFence(name string, lat, lon, radius float64) *fence.Area {
	area := &fence.Area{
		ID:           id.FenceID(uuid.New()),
		Name:         name,
		Center:       geo.Coordinate{Latitude: lat, Longitude: lon},
		RadiusMeters: radius,
		OwnerID:      id.UserID(uuid.New()),
		OwnerEmail:   "owner@example.com",
		CreatedAt:    time.Now(),
	}
	s.Require().NoError(s.fences.Create(s.ctx, area))
	return area
}

func (s *EngineSuite) submit(lat, lon float64, fingerprint string) (*Result, error) {
	return s.service.Process(s.ctx, LocationUpdate{
		UserID:            s.userID,
		Coordinate:        geo.Coordinate{Latitude: lat, Longitude: lon},
		DeviceFingerprint: fingerprint,
		Timestamp:         time.Now(),
	})
}

func (s *EngineSuite) popQueued() *event.Envelope {
	envelope, err := s.queue.Pop(s.ctx, 50*time.Millisecond)
	s.Require().NoError(err)
	return envelope
}

func (s *EngineSuite) TestValidation() {
	s.Run("missing user", func() {
		_, err := s.service.Process(s.ctx, LocationUpdate{
			Coordinate: geo.Coordinate{Latitude: 1, Longitude: 1},
		})
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("latitude out of range", func() {
		_, err := s.submit(91, 0, "")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("longitude out of range", func() {
		_, err := s.submit(0, 181, "")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *EngineSuite) TestOutsideEverywhere() {
	s.seedFence("office", 0, 0, 500)

	result, err := s.submit(45, 45, "")
	s.Require().NoError(err)
	s.Equal(event.TypeNone, result.EventType)
	s.Nil(result.Record)
	s.Nil(s.popQueued())
	s.Zero(s.notifier.transitionCount())
}

func (s *EngineSuite) TestEnterThenDwellThenExit() {
	area := s.seedFence("office", 0, 0, 100_000)

	s.Run("first inside sample is ENTER", func() {
		result, err := s.submit(0.1, 0, "device-a")
		s.Require().NoError(err)
		s.Equal(event.TypeEnter, result.EventType)
		s.Require().NotNil(result.Record)
		s.Equal(area.ID, result.Record.AreaID)
		s.False(result.Record.Disconnected)

		s.Equal(1, s.ledger.OpenRecordCount(s.userID))
		has, err := s.ledger.HasEdge(s.ctx, s.userID, area.ID)
		s.Require().NoError(err)
		s.True(has)

		envelope := s.popQueued()
		s.Require().NotNil(envelope)
		s.Equal(event.TypeEnter, envelope.Type)
		s.Equal(s.userID.String(), envelope.Data.UserID)
		s.Nil(envelope.Data.OutTime)

		s.Equal(1, s.broadcaster.count())
		s.Equal(1, s.notifier.transitionCount())
	})

	s.Run("staying inside is NONE", func() {
		result, err := s.submit(0.12, 0, "device-a")
		s.Require().NoError(err)
		s.Equal(event.TypeNone, result.EventType)

		s.Equal(1, s.ledger.OpenRecordCount(s.userID))
		s.Nil(s.popQueued())
		s.Equal(1, s.broadcaster.count())
	})

	s.Run("leaving is EXIT with closing sample", func() {
		result, err := s.submit(45, 45, "device-a")
		s.Require().NoError(err)
		s.Equal(event.TypeExit, result.EventType)
		s.Require().NotNil(result.Record)
		s.True(result.Record.Disconnected)
		s.Require().NotNil(result.Record.OutTime)

		s.Zero(s.ledger.OpenRecordCount(s.userID))
		has, err := s.ledger.HasEdge(s.ctx, s.userID, area.ID)
		s.Require().NoError(err)
		s.False(has)

		envelope := s.popQueued()
		s.Require().NotNil(envelope)
		s.Equal(event.TypeExit, envelope.Type)
		s.Require().NotNil(envelope.Data.OutLatitude)
		s.InDelta(45.0, *envelope.Data.OutLatitude, 0.0001)
	})

	s.Run("outside again is NONE", func() {
		result, err := s.submit(45, 45, "device-a")
		s.Require().NoError(err)
		s.Equal(event.TypeNone, result.EventType)
		s.Nil(s.popQueued())
	})
}

func (s *EngineSuite) TestSwitchBetweenOverlappingFences() {
	north := s.seedFence("north", 0.5, 0, 150_000)
	south := s.seedFence("south", -0.5, 0, 150_000)

	result, err := s.submit(0.4, 0, "")
	s.Require().NoError(err)
	s.Equal(event.TypeEnter, result.EventType)
	s.Equal(north.ID, result.Record.AreaID)
	s.popQueued()

	// Both fences contain this point; south's center is nearer.
	result, err = s.submit(-0.4, 0, "")
	s.Require().NoError(err)
	s.Equal(event.TypeSwitch, result.EventType)
	s.Require().NotNil(result.Record)
	s.Equal(south.ID, result.Record.AreaID)
	s.False(result.Record.Disconnected)

	s.Equal(1, s.ledger.OpenRecordCount(s.userID))

	records, err := s.ledger.ListByUser(s.ctx, s.userID, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	var closed *ledger.LocationRecord
	for _, record := range records {
		if record.Disconnected {
			closed = record
		}
	}
	s.Require().NotNil(closed)
	s.Equal(north.ID, closed.AreaID)
	s.True(closed.Switched)

	hasOld, err := s.ledger.HasEdge(s.ctx, s.userID, north.ID)
	s.Require().NoError(err)
	s.False(hasOld)
	hasNew, err := s.ledger.HasEdge(s.ctx, s.userID, south.ID)
	s.Require().NoError(err)
	s.True(hasNew)

	envelope := s.popQueued()
	s.Require().NotNil(envelope)
	s.Equal(event.TypeSwitch, envelope.Type)
	s.Equal(south.ID.String(), envelope.Data.AreaID)
}

// Re-running classification against current state makes duplicate submissions
// safe: the retry sees the already-applied state and reports NONE.
func (s *EngineSuite) TestResubmitIsIdempotent() {
	s.seedFence("office", 0, 0, 100_000)

	first, err := s.submit(0.1, 0, "")
	s.Require().NoError(err)
	s.Equal(event.TypeEnter, first.EventType)

	second, err := s.submit(0.1, 0, "")
	s.Require().NoError(err)
	s.Equal(event.TypeNone, second.EventType)

	s.Equal(1, s.ledger.OpenRecordCount(s.userID))
	records, err := s.ledger.ListByUser(s.ctx, s.userID, 10)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *EngineSuite) TestFingerprintLifecycle() {
	s.seedFence("office", 0, 0, 100_000)

	s.Run("enter seeds the fingerprint", func() {
		_, err := s.submit(0.1, 0, "device-a")
		s.Require().NoError(err)
		s.Zero(s.notifier.fraudCount())
	})

	s.Run("mismatch while inside flags fraud but does not change the outcome", func() {
		result, err := s.submit(0.1, 0, "device-b")
		s.Require().NoError(err)
		s.Equal(event.TypeNone, result.EventType)

		events, err := s.fraudStore.ListByUser(s.ctx, s.userID)
		s.Require().NoError(err)
		s.Len(events, 1)
		s.Equal(1, s.notifier.fraudCount())
	})

	s.Run("exit clears the fingerprint", func() {
		_, err := s.submit(45, 45, "device-b")
		s.Require().NoError(err)

		_, err = s.submit(0.1, 0, "device-c")
		s.Require().NoError(err)
		events, err := s.fraudStore.ListByUser(s.ctx, s.userID)
		s.Require().NoError(err)
		s.Len(events, 1)
	})
}

type conflictTxRunner struct{}

func (conflictTxRunner) RunInTx(context.Context, func(context.Context, ledger.Store) error) error {
	return sentinel.ErrConflict
}

// A lost conditional write surfaces as a retryable conflict, not an internal
// error.
func (s *EngineSuite) TestConflictMapsToRetryableError() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := fraud.NewGuard(fraud.NewInMemoryCache(time.Hour, time.Hour), s.fraudStore, s.notifier, log, nil)
	publisher := event.NewPublisher(s.queue, log, nil)
	fenceCache := fence.NewCache(nil, s.fences, time.Hour, log, nil)

	service := NewService(
		s.fences, fenceCache, s.ledger, conflictTxRunner{},
		guard, publisher, nil, s.notifier, log, nil,
	)
	s.seedFence("office", 0, 0, 100_000)

	_, err := service.Process(s.ctx, LocationUpdate{
		UserID:     s.userID,
		Coordinate: geo.Coordinate{Latitude: 0.1, Longitude: 0},
		Timestamp:  time.Now(),
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *EngineSuite) TestConcurrentSamplesKeepOneOpenRecord() {
	s.seedFence("office", 0, 0, 100_000)

	const samples = 20
	errs := make(chan error, samples)
	var wg sync.WaitGroup
	for i := 0; i < samples; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.submit(0.1, 0, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	s.Equal(1, s.ledger.OpenRecordCount(s.userID))
	records, err := s.ledger.ListByUser(s.ctx, s.userID, 100)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *EngineSuite) TestDefaultTimestamp() {
	s.seedFence("office", 0, 0, 100_000)

	before := time.Now()
	result, err := s.service.Process(s.ctx, LocationUpdate{
		UserID:     s.userID,
		Coordinate: geo.Coordinate{Latitude: 0.1, Longitude: 0},
	})
	s.Require().NoError(err)
	s.Equal(event.TypeEnter, result.EventType)
	s.False(result.Record.InTime.Before(before))
}
