package event

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"perimeter/internal/platform/metrics"
)

// Broadcaster pushes owner notices onto a Kafka topic for dashboards and
// other interested third parties. Fire-and-forget: the producer buffers and
// delivery failures are logged via the produce callback.
type Broadcaster struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster connects a Kafka producer. Returns (nil, nil) when no
// brokers are configured, which disables broadcasting.
func NewBroadcaster(brokers []string, topic string, logger *slog.Logger, m *metrics.Metrics) (*Broadcaster, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{client: client, topic: topic, logger: logger, metrics: m}, nil
}

// Broadcast produces the notice keyed by fence id so one fence's events stay
// ordered within a partition.
func (b *Broadcaster) Broadcast(ctx context.Context, notice OwnerNotice) {
	payload, err := json.Marshal(notice)
	if err != nil {
		b.logger.ErrorContext(ctx, "owner notice marshal failed", "error", err)
		return
	}
	record := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(notice.FenceID),
		Value: payload,
	}
	b.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			b.logger.Error("owner notice produce failed",
				"fence_id", notice.FenceID,
				"event_type", string(notice.EventType),
				"error", err,
			)
			if b.metrics != nil {
				b.metrics.PublishFailuresTotal.Inc()
			}
		}
	})
}

// Close flushes buffered records and releases the producer.
func (b *Broadcaster) Close() {
	b.client.Close()
}
