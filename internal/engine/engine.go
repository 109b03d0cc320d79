package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"perimeter/internal/event"
	"perimeter/internal/fence"
	"perimeter/internal/fraud"
	"perimeter/internal/geo"
	"perimeter/internal/ledger"
	"perimeter/internal/notifier"
	"perimeter/internal/platform/metrics"
	id "perimeter/pkg/domain"
	dErrors "perimeter/pkg/domain-errors"
	"perimeter/pkg/platform/sentinel"
)

// LocationUpdate is one raw sample from a transport adapter.
type LocationUpdate struct {
	UserID            id.UserID
	Coordinate        geo.Coordinate
	DeviceFingerprint string
	Timestamp         time.Time
}

// Result is the synchronous answer to the submitting caller.
type Result struct {
	EventType    event.Type
	Record       *ledger.LocationRecord
	CurrentFence *fence.Area
}

// TxRunner executes fn against a transactional view of the ledger. All
// mutations inside fn commit atomically or not at all. fn must use the
// context it is handed, which carries the transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store ledger.Store) error) error
}

// Broadcaster pushes owner notices to interested third parties.
type Broadcaster interface {
	Broadcast(ctx context.Context, notice event.OwnerNotice)
}

// Service is the transition engine. It owns the ENTER/EXIT/SWITCH state
// machine and is the single place classification happens; transports are
// thin adapters in front of it.
//
// State is never cached across calls: every sample re-reads the user's open
// record, which is what makes re-submitting an identical sample classify as
// NONE instead of duplicating a transition.
type Service struct {
	fences      fence.Store
	fenceCache  *fence.Cache
	ledger      ledger.Store
	txRunner    TxRunner
	guard       *fraud.Guard
	publisher   *event.Publisher
	broadcaster Broadcaster
	notifier    notifier.Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	locks       *userLocks
}

func NewService(
	fences fence.Store,
	fenceCache *fence.Cache,
	ledgerStore ledger.Store,
	txRunner TxRunner,
	guard *fraud.Guard,
	publisher *event.Publisher,
	broadcaster Broadcaster,
	n notifier.Notifier,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		fences:      fences,
		fenceCache:  fenceCache,
		ledger:      ledgerStore,
		txRunner:    txRunner,
		guard:       guard,
		publisher:   publisher,
		broadcaster: broadcaster,
		notifier:    n,
		logger:      logger,
		metrics:     m,
		locks:       newUserLocks(),
	}
}

// Process validates the sample, classifies the transition, and commits the
// ledger/index mutation atomically. Once the transaction commits the
// transition is final; queue, broadcast, and notifier legs are best-effort.
func (s *Service) Process(ctx context.Context, update LocationUpdate) (*Result, error) {
	start := time.Now()

	if update.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing authenticated identity")
	}
	if err := update.Coordinate.Validate(); err != nil {
		return nil, err
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	// Mutations per user are linearized: classification reads the open
	// record then writes, and two racing samples could otherwise both
	// observe "no open record". The store's conditional writes back this up
	// across instances.
	s.locks.lock(update.UserID)
	defer s.locks.unlock(update.UserID)

	// Containment always reads live geometry, never the enrichment cache.
	areas, err := s.fences.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fence lookup failed")
	}
	membership := fence.Resolve(update.Coordinate, areas)

	lastOpen, err := s.ledger.FindOpenRecord(ctx, update.UserID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "open record lookup failed")
	}

	// The fingerprint check is strictly observational: it runs on every
	// sample carrying a fingerprint and never alters the outcome.
	s.guard.Inspect(ctx, update.UserID, s.guardArea(ctx, membership.Current, lastOpen), update.DeviceFingerprint)

	result, err := s.apply(ctx, update, lastOpen, membership.Current)
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, update, result)
	s.metrics.ObserveTransition(string(result.EventType), time.Since(start))
	return result, nil
}

// apply runs the classification table and the matching atomic mutation.
func (s *Service) apply(ctx context.Context, update LocationUpdate, lastOpen *ledger.LocationRecord, current *fence.Area) (*Result, error) {
	switch {
	case lastOpen == nil && current == nil:
		return &Result{EventType: event.TypeNone}, nil

	case lastOpen == nil:
		record := s.newRecord(update, current)
		err := s.txRunner.RunInTx(ctx, func(ctx context.Context, store ledger.Store) error {
			if err := store.OpenRecord(ctx, record); err != nil {
				return err
			}
			return store.CreateEdge(ctx, update.UserID, current.ID)
		})
		if err != nil {
			return nil, s.mutationError(err, "enter failed")
		}
		return &Result{EventType: event.TypeEnter, Record: record, CurrentFence: current}, nil

	case current == nil:
		closed := *lastOpen
		err := s.txRunner.RunInTx(ctx, func(ctx context.Context, store ledger.Store) error {
			if err := store.CloseRecord(ctx, lastOpen.ID, update.Coordinate, update.Timestamp, false); err != nil {
				return err
			}
			return store.DeleteEdge(ctx, update.UserID, lastOpen.AreaID)
		})
		if err != nil {
			return nil, s.mutationError(err, "exit failed")
		}
		markClosed(&closed, update, false)
		return &Result{EventType: event.TypeExit, Record: &closed}, nil

	case lastOpen.AreaID == current.ID:
		return &Result{EventType: event.TypeNone, Record: lastOpen, CurrentFence: current}, nil

	default:
		record := s.newRecord(update, current)
		err := s.txRunner.RunInTx(ctx, func(ctx context.Context, store ledger.Store) error {
			if err := store.CloseRecord(ctx, lastOpen.ID, update.Coordinate, update.Timestamp, true); err != nil {
				return err
			}
			if err := store.OpenRecord(ctx, record); err != nil {
				return err
			}
			if err := store.DeleteEdge(ctx, update.UserID, lastOpen.AreaID); err != nil {
				return err
			}
			return store.CreateEdge(ctx, update.UserID, current.ID)
		})
		if err != nil {
			return nil, s.mutationError(err, "switch failed")
		}
		return &Result{EventType: event.TypeSwitch, Record: record, CurrentFence: current}, nil
	}
}

func (s *Service) newRecord(update LocationUpdate, area *fence.Area) *ledger.LocationRecord {
	return &ledger.LocationRecord{
		ID:           id.NewRecordID(),
		UserID:       update.UserID,
		AreaID:       area.ID,
		AreaName:     area.Name,
		InCoordinate: update.Coordinate,
		InTime:       update.Timestamp,
	}
}

// mutationError translates a lost conditional write into a conflict the
// caller can safely retry; re-classification of the retry is what keeps the
// retry from duplicating the transition.
func (s *Service) mutationError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update for user, resubmit sample")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// guardArea picks the fence a fingerprint mismatch should be attributed to:
// the fence the sample resolves to, falling back to the fence of the open
// record for samples outside every fence.
func (s *Service) guardArea(ctx context.Context, current *fence.Area, lastOpen *ledger.LocationRecord) *fence.Area {
	if current != nil {
		return current
	}
	if lastOpen == nil {
		return nil
	}
	area, err := s.fenceCache.Get(ctx, lastOpen.AreaID)
	if err != nil {
		return nil
	}
	return area
}

// afterCommit runs the best-effort legs: fingerprint lifecycle, durable
// queue append, owner broadcast, and the notifier. None of these can unwind
// the committed transition.
func (s *Service) afterCommit(ctx context.Context, update LocationUpdate, result *Result) {
	switch result.EventType {
	case event.TypeEnter, event.TypeSwitch:
		s.guard.Refresh(ctx, update.UserID, update.DeviceFingerprint)
	case event.TypeExit:
		s.guard.Clear(ctx, update.UserID)
	default:
		return
	}

	envelope := event.Envelope{Type: result.EventType, Data: event.PayloadFromRecord(result.Record)}
	s.publisher.Publish(ctx, envelope)

	notice := event.OwnerNotice{
		UserID:    update.UserID.String(),
		FenceID:   result.Record.AreaID.String(),
		FenceName: result.Record.AreaName,
		EventType: result.EventType,
		Timestamp: update.Timestamp,
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, notice)
	}

	// Owner email comes through the enrichment cache; bounded staleness is
	// acceptable here, unlike for containment.
	ownerEmail := ""
	if area, err := s.fenceCache.Get(ctx, result.Record.AreaID); err == nil {
		ownerEmail = area.OwnerEmail
	}
	if err := s.notifier.NotifyTransition(ctx, notifier.TransitionNotice{
		EventType:  string(result.EventType),
		UserID:     notice.UserID,
		FenceID:    notice.FenceID,
		FenceName:  notice.FenceName,
		OwnerEmail: ownerEmail,
		Timestamp:  update.Timestamp,
	}); err != nil {
		s.logger.WarnContext(ctx, "transition notifier failed",
			"event_type", string(result.EventType),
			"user_id", notice.UserID,
			"error", err,
		)
	}
}

func markClosed(record *ledger.LocationRecord, update LocationUpdate, switched bool) {
	out := update.Coordinate
	t := update.Timestamp
	record.OutCoordinate = &out
	record.OutTime = &t
	record.Disconnected = true
	record.Switched = switched
}
