package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"perimeter/internal/fence"
	"perimeter/internal/notifier"
	"perimeter/internal/platform/metrics"
	id "perimeter/pkg/domain"
)

// Guard is the device-fingerprint heuristic. It flags possible credential or
// session hand-off but never blocks a transition: every path through Inspect
// logs failures and returns, and the engine does not branch on its outcome.
type Guard struct {
	cache    Cache
	store    Store
	notifier notifier.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewGuard(cache Cache, store Store, n notifier.Notifier, logger *slog.Logger, m *metrics.Metrics) *Guard {
	return &Guard{
		cache:    cache,
		store:    store,
		notifier: n,
		logger:   logger,
		metrics:  m,
	}
}

// Inspect compares the sample's fingerprint against the cached one. On
// mismatch it always appends a fraud event; the notifier fires at most once
// per (user, fence) within the dedupe window. A cache outage skips the check
// rather than blocking the transition.
func (g *Guard) Inspect(ctx context.Context, userID id.UserID, area *fence.Area, fingerprint string) {
	if fingerprint == "" || area == nil {
		return
	}

	cached, ok, err := g.cache.GetFingerprint(ctx, userID)
	if err != nil {
		g.logger.WarnContext(ctx, "fingerprint cache unavailable, skipping check",
			"user_id", userID.String(),
			"error", err,
		)
		return
	}
	if !ok || cached == fingerprint {
		return
	}

	event := Event{
		ID:             uuid.New(),
		UserID:         userID,
		FenceID:        area.ID,
		OldFingerprint: cached,
		NewFingerprint: fingerprint,
		CreatedAt:      time.Now(),
	}
	if err := g.store.Append(ctx, event); err != nil {
		// The audit append is never suppressed by design, but its failure
		// still must not block the transition.
		g.logger.ErrorContext(ctx, "fraud event append failed",
			"user_id", userID.String(),
			"fence_id", area.ID.String(),
			"error", err,
		)
	} else if g.metrics != nil {
		g.metrics.FraudEventsTotal.Inc()
	}

	first, err := g.cache.MarkAlerted(ctx, userID, area.ID)
	if err != nil {
		g.logger.WarnContext(ctx, "alert dedupe cache unavailable, suppressing notifier",
			"user_id", userID.String(),
			"error", err,
		)
		return
	}
	if !first {
		return
	}

	alert := notifier.FraudAlert{
		UserID:         userID.String(),
		FenceID:        area.ID.String(),
		FenceName:      area.Name,
		OldFingerprint: cached,
		NewFingerprint: fingerprint,
		OwnerEmail:     area.OwnerEmail,
		Timestamp:      event.CreatedAt,
	}
	if err := g.notifier.NotifyFraud(ctx, alert); err != nil {
		g.logger.WarnContext(ctx, "fraud notifier failed",
			"user_id", userID.String(),
			"fence_id", area.ID.String(),
			"error", err,
		)
		return
	}
	if g.metrics != nil {
		g.metrics.FraudAlertsTotal.Inc()
	}
}

// Refresh resets the fingerprint TTL after ENTER and SWITCH.
func (g *Guard) Refresh(ctx context.Context, userID id.UserID, fingerprint string) {
	if fingerprint == "" {
		return
	}
	if err := g.cache.SetFingerprint(ctx, userID, fingerprint); err != nil {
		g.logger.WarnContext(ctx, "fingerprint refresh failed",
			"user_id", userID.String(),
			"error", err,
		)
	}
}

// Clear drops the fingerprint after EXIT so a genuine exit-then-reentry does
// not falsely register as a device switch.
func (g *Guard) Clear(ctx context.Context, userID id.UserID) {
	if err := g.cache.ClearFingerprint(ctx, userID); err != nil {
		g.logger.WarnContext(ctx, "fingerprint clear failed",
			"user_id", userID.String(),
			"error", err,
		)
	}
}
