package fraud

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "perimeter/pkg/domain"
)

const (
	fingerprintKeyPrefix = "fp:user:"
	alertKeyPrefix       = "fraudalert:"
)

// Cache holds the per-user device fingerprint and the alert-dedupe marks.
// Both are advisory: losing them degrades detection, never correctness, so
// implementations own their TTL policy and callers treat errors as skippable.
type Cache interface {
	// GetFingerprint returns the cached fingerprint and whether one exists.
	GetFingerprint(ctx context.Context, userID id.UserID) (string, bool, error)
	// SetFingerprint stores the fingerprint and resets its TTL.
	SetFingerprint(ctx context.Context, userID id.UserID, fingerprint string) error
	// ClearFingerprint removes the fingerprint so a full exit-then-reentry
	// does not register as a device switch.
	ClearFingerprint(ctx context.Context, userID id.UserID) error
	// MarkAlerted records that an alert was sent for (user, fence) and
	// reports whether this was the first mark inside the dedupe window.
	MarkAlerted(ctx context.Context, userID id.UserID, fenceID id.FenceID) (bool, error)
}

// RedisCache is the shared production cache. Key existence is the signal;
// Redis owns expiry.
type RedisCache struct {
	client         *redis.Client
	fingerprintTTL time.Duration
	dedupeWindow   time.Duration
}

func NewRedisCache(client *redis.Client, fingerprintTTL, dedupeWindow time.Duration) *RedisCache {
	return &RedisCache{
		client:         client,
		fingerprintTTL: fingerprintTTL,
		dedupeWindow:   dedupeWindow,
	}
}

func (c *RedisCache) GetFingerprint(ctx context.Context, userID id.UserID) (string, bool, error) {
	value, err := c.client.Get(ctx, fingerprintKeyPrefix+userID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisCache) SetFingerprint(ctx context.Context, userID id.UserID, fingerprint string) error {
	return c.client.Set(ctx, fingerprintKeyPrefix+userID.String(), fingerprint, c.fingerprintTTL).Err()
}

func (c *RedisCache) ClearFingerprint(ctx context.Context, userID id.UserID) error {
	return c.client.Del(ctx, fingerprintKeyPrefix+userID.String()).Err()
}

func (c *RedisCache) MarkAlerted(ctx context.Context, userID id.UserID, fenceID id.FenceID) (bool, error) {
	key := alertKeyPrefix + userID.String() + ":" + fenceID.String()
	return c.client.SetNX(ctx, key, "1", c.dedupeWindow).Result()
}

// InMemoryCache backs unit tests and single-instance deployments.
type InMemoryCache struct {
	mu             sync.Mutex
	fingerprints   map[id.UserID]expiringValue
	alerts         map[string]time.Time
	fingerprintTTL time.Duration
	dedupeWindow   time.Duration
	now            func() time.Time
}

type expiringValue struct {
	value     string
	expiresAt time.Time
}

func NewInMemoryCache(fingerprintTTL, dedupeWindow time.Duration) *InMemoryCache {
	return &InMemoryCache{
		fingerprints:   make(map[id.UserID]expiringValue),
		alerts:         make(map[string]time.Time),
		fingerprintTTL: fingerprintTTL,
		dedupeWindow:   dedupeWindow,
		now:            time.Now,
	}
}

func (c *InMemoryCache) GetFingerprint(_ context.Context, userID id.UserID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.fingerprints[userID]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.fingerprints, userID)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *InMemoryCache) SetFingerprint(_ context.Context, userID id.UserID, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprints[userID] = expiringValue{value: fingerprint, expiresAt: c.now().Add(c.fingerprintTTL)}
	return nil
}

func (c *InMemoryCache) ClearFingerprint(_ context.Context, userID id.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fingerprints, userID)
	return nil
}

func (c *InMemoryCache) MarkAlerted(_ context.Context, userID id.UserID, fenceID id.FenceID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := userID.String() + ":" + fenceID.String()
	if markedAt, ok := c.alerts[key]; ok && c.now().Before(markedAt.Add(c.dedupeWindow)) {
		return false, nil
	}
	c.alerts[key] = c.now()
	return true, nil
}
