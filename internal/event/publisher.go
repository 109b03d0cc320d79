package event

import (
	"context"
	"log/slog"

	"perimeter/internal/platform/metrics"
)

// Publisher appends committed transitions to the durable queue. Publishing is
// best-effort by contract: the transition already committed, so a failure
// here is logged and counted, never propagated back to unwind anything.
type Publisher struct {
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewPublisher(queue Queue, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{queue: queue, logger: logger, metrics: m}
}

// Publish enqueues the envelope. Errors are absorbed.
func (p *Publisher) Publish(ctx context.Context, envelope Envelope) {
	if err := p.queue.Push(ctx, envelope); err != nil {
		p.logger.ErrorContext(ctx, "transition publish failed",
			"type", string(envelope.Type),
			"user_id", envelope.Data.UserID,
			"area_id", envelope.Data.AreaID,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.PublishFailuresTotal.Inc()
		}
	}
}
