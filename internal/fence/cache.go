package fence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"perimeter/internal/platform/metrics"
	id "perimeter/pkg/domain"
)

const cacheKeyPrefix = "fence:"

// Cache is a read-through TTL cache in front of the fence store, used to
// enrich event payloads without repeated store round-trips. There is no
// active invalidation: fence edits become visible after the TTL expires.
// Correctness-critical containment checks must not go through here; they
// read live geometry from the store.
type Cache struct {
	client  *redis.Client
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

func NewCache(client *redis.Client, store Store, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		client:  client,
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}
}

// Get returns the fence, from Redis when fresh, falling through to the store
// on miss. A Redis outage degrades to direct store reads rather than failing
// the lookup.
func (c *Cache) Get(ctx context.Context, fenceID id.FenceID) (*Area, error) {
	key := cacheKeyPrefix + fenceID.String()

	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var area Area
			if unmarshalErr := json.Unmarshal(payload, &area); unmarshalErr == nil {
				if c.metrics != nil {
					c.metrics.FenceCacheHitsTotal.Inc()
				}
				return &area, nil
			}
			// Corrupt entry: fall through and repopulate.
		case !errors.Is(err, redis.Nil):
			c.logger.WarnContext(ctx, "fence cache read failed, falling back to store",
				"fence_id", fenceID.String(),
				"error", err,
			)
		}
	}

	if c.metrics != nil {
		c.metrics.FenceCacheMissTotal.Inc()
	}

	// Collapse concurrent misses for the same fence into one store read.
	v, err, _ := c.group.Do(key, func() (any, error) {
		area, err := c.store.FindByID(ctx, fenceID)
		if err != nil {
			return nil, err
		}
		c.populate(ctx, key, area)
		return area, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Area), nil
}

func (c *Cache) populate(ctx context.Context, key string, area *Area) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(area)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "fence cache populate failed",
			"fence_id", area.ID.String(),
			"error", err,
		)
	}
}
