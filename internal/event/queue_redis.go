package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis list: RPUSH appends, BLPOP pops.
// The list survives process restarts; ordering is the push order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue pop: %w", err)
	}
	// BLPOP returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("queue pop: unexpected reply length %d", len(result))
	}
	var envelope Envelope
	if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.RPush(ctx, q.deadKey(), payload).Err(); err != nil {
		return fmt.Errorf("dead letter push: %w", err)
	}
	return nil
}

// ReplayDead moves up to limit dead-lettered envelopes back onto the main
// queue. Operational recovery tool; a limit of 0 replays everything.
func (q *RedisQueue) ReplayDead(ctx context.Context, limit int) (int, error) {
	moved := 0
	for limit == 0 || moved < limit {
		payload, err := q.client.LPop(ctx, q.deadKey()).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("dead letter pop: %w", err)
		}
		if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
			return moved, fmt.Errorf("replay push: %w", err)
		}
		moved++
	}
	return moved, nil
}

// Depth returns the number of queued envelopes.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) deadKey() string {
	return q.key + ":dead"
}
