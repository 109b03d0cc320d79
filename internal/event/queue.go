package event

import (
	"context"
	"time"
)

// Queue is the durable, ordered transition queue. Pop is destructive: the
// item leaves the queue before processing confirms, which is why the worker
// dead-letters failures instead of dropping them.
type Queue interface {
	// Push appends an envelope to the tail of the queue.
	Push(ctx context.Context, envelope Envelope) error
	// Pop removes and returns the head of the queue, blocking up to timeout.
	// Returns (nil, nil) when the queue stayed empty.
	Pop(ctx context.Context, timeout time.Duration) (*Envelope, error)
	// DeadLetter parks an envelope that could not be processed.
	DeadLetter(ctx context.Context, envelope Envelope) error
}
