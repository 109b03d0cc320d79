package notifier

import (
	"context"
	"log/slog"
	"time"
)

// TransitionNotice carries the data an external notifier needs to format a
// fence enter/exit/switch alert for the fence owner.
type TransitionNotice struct {
	EventType    string
	UserID       string
	FenceID      string
	FenceName    string
	SubjectEmail string
	OwnerEmail   string
	Timestamp    time.Time
}

// FraudAlert carries the data for a possible device hand-off alert.
type FraudAlert struct {
	UserID         string
	FenceID        string
	FenceName      string
	OldFingerprint string
	NewFingerprint string
	OwnerEmail     string
	Timestamp      time.Time
}

// Notifier is the external alert-delivery collaborator. The pipeline calls it
// fire-and-forget after commit; failures are logged by the caller, never
// retried, never surfaced to the submitting client.
type Notifier interface {
	NotifyTransition(ctx context.Context, notice TransitionNotice) error
	NotifyFraud(ctx context.Context, alert FraudAlert) error
}

// LogNotifier is the default implementation: it records what would have been
// sent. Real delivery (email, push) is wired in by the embedding deployment.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyTransition(ctx context.Context, notice TransitionNotice) error {
	n.logger.InfoContext(ctx, "transition notification",
		"event_type", notice.EventType,
		"user_id", notice.UserID,
		"fence_id", notice.FenceID,
		"fence_name", notice.FenceName,
		"recipient", Salutation(notice.OwnerEmail),
	)
	return nil
}

func (n *LogNotifier) NotifyFraud(ctx context.Context, alert FraudAlert) error {
	n.logger.WarnContext(ctx, "fraud notification",
		"user_id", alert.UserID,
		"fence_id", alert.FenceID,
		"fence_name", alert.FenceName,
		"recipient", Salutation(alert.OwnerEmail),
	)
	return nil
}
