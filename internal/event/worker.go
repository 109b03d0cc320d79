package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"perimeter/internal/ledger"
	"perimeter/internal/platform/metrics"
	id "perimeter/pkg/domain"
)

// Worker is the single consumer draining the transition queue into a
// detached membership read model. Reconciliation is idempotent: it checks
// what state already exists before reapplying, so at-least-once delivery and
// replayed dead letters are safe.
//
// Pop is destructive, so a failed envelope is parked on the dead-letter list
// rather than dropped; one bad event never halts the loop.
type Worker struct {
	queue        Queue
	store        ledger.Store
	logger       *slog.Logger
	metrics      *metrics.Metrics
	popTimeout   time.Duration
	failureDelay time.Duration
}

func NewWorker(queue Queue, store ledger.Store, logger *slog.Logger, m *metrics.Metrics, popTimeout, failureDelay time.Duration) *Worker {
	return &Worker{
		queue:        queue,
		store:        store,
		logger:       logger,
		metrics:      m,
		popTimeout:   popTimeout,
		failureDelay: failureDelay,
	}
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		envelope, err := w.queue.Pop(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.ErrorContext(ctx, "queue pop failed", "error", err)
			w.backoff(ctx)
			continue
		}
		if envelope == nil {
			continue
		}

		if err := w.processOne(ctx, envelope); err != nil {
			w.logger.ErrorContext(ctx, "event processing failed, dead-lettering",
				"type", string(envelope.Type),
				"user_id", envelope.Data.UserID,
				"area_id", envelope.Data.AreaID,
				"error", err,
			)
			if dlErr := w.queue.DeadLetter(ctx, *envelope); dlErr != nil {
				w.logger.ErrorContext(ctx, "dead letter failed, event lost",
					"type", string(envelope.Type),
					"user_id", envelope.Data.UserID,
					"error", dlErr,
				)
			}
			if w.metrics != nil {
				w.metrics.EventsDeadTotal.Inc()
			}
			w.backoff(ctx)
			continue
		}

		if w.metrics != nil {
			w.metrics.EventsConsumedTotal.Inc()
		}
	}
}

func (w *Worker) processOne(ctx context.Context, envelope *Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return w.reconcile(ctx, envelope)
}

// reconcile replays the envelope against the read model, checking existing
// state first so duplicates are no-ops.
func (w *Worker) reconcile(ctx context.Context, envelope *Envelope) error {
	userID, err := id.ParseUserID(envelope.Data.UserID)
	if err != nil {
		return fmt.Errorf("bad user id %q: %w", envelope.Data.UserID, err)
	}
	areaID, err := id.ParseFenceID(envelope.Data.AreaID)
	if err != nil {
		return fmt.Errorf("bad area id %q: %w", envelope.Data.AreaID, err)
	}

	switch envelope.Type {
	case TypeEnter:
		exists, err := w.store.HasEdge(ctx, userID, areaID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return w.store.CreateEdge(ctx, userID, areaID)

	case TypeExit:
		return w.store.DeleteEdge(ctx, userID, areaID)

	case TypeSwitch:
		// The payload carries the new leg; drop any stale edge first.
		edges, err := w.store.ListEdgesByUser(ctx, userID)
		if err != nil {
			return err
		}
		hasNew := false
		for _, edge := range edges {
			if edge.AreaID == areaID {
				hasNew = true
				continue
			}
			if err := w.store.DeleteEdge(ctx, userID, edge.AreaID); err != nil {
				return err
			}
		}
		if hasNew {
			return nil
		}
		return w.store.CreateEdge(ctx, userID, areaID)

	default:
		return fmt.Errorf("unknown event type %q", envelope.Type)
	}
}

func (w *Worker) backoff(ctx context.Context) {
	timer := time.NewTimer(w.failureDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
