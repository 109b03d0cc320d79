package event

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a channel-backed Queue for tests and local development.
type InMemoryQueue struct {
	items chan Envelope

	mu   sync.Mutex
	dead []Envelope
}

func NewInMemoryQueue(capacity int) *InMemoryQueue {
	return &InMemoryQueue{items: make(chan Envelope, capacity)}
}

func (q *InMemoryQueue) Push(ctx context.Context, envelope Envelope) error {
	select {
	case q.items <- envelope:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case envelope := <-q.items:
		return &envelope, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) DeadLetter(_ context.Context, envelope Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, envelope)
	return nil
}

// Dead returns a copy of the dead-letter list. Test helper.
func (q *InMemoryQueue) Dead() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Envelope{}, q.dead...)
}
