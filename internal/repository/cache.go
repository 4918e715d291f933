package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webthingsio/gateway/internal/logger"
	"github.com/webthingsio/gateway/internal/wire"
)

// CacheConfig controls the optional read-through Redis cache in front of
// GetThing. GetThings is not cached and always reads the database.
// Disabled by default: a single-process gateway
// rarely needs it, but a clustered deployment (REST behind a load
// balancer) can turn it on without changing call sites.
type CacheConfig struct {
	Enabled bool
	Addr    string
	DB      int
	TTL     time.Duration
}

// Cache wraps a Repository with a Redis read-through layer. Every method
// falls back to the wrapped Repository on a cache miss or Redis error;
// Redis is never a hard dependency for correctness.
type Cache struct {
	*Repository
	client *redis.Client
	ttl    time.Duration
}

// WithCache wraps repo with a Redis cache if cfg.Enabled, otherwise
// returns repo unchanged behind the same interface shape.
func WithCache(repo *Repository, cfg CacheConfig) *Cache {
	if !cfg.Enabled {
		return &Cache{Repository: repo}
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	logger.DB().Info().Str("addr", cfg.Addr).Msg("thing cache enabled")
	return &Cache{Repository: repo, client: client, ttl: ttl}
}

func (c *Cache) thingKey(id string) string { return "thing:" + id }

// GetThing reads through the cache when enabled, else delegates
// directly to the wrapped Repository.
func (c *Cache) GetThing(ctx context.Context, id string) (*Thing, error) {
	if c.client == nil {
		return c.Repository.GetThing(ctx, id)
	}

	if data, err := c.client.Get(ctx, c.thingKey(id)).Bytes(); err == nil {
		var thing Thing
		if json.Unmarshal(data, &thing) == nil {
			return &thing, nil
		}
	}

	thing, err := c.Repository.GetThing(ctx, id)
	if err != nil || thing == nil {
		return thing, err
	}
	if data, err := json.Marshal(thing); err == nil {
		if err := c.client.Set(ctx, c.thingKey(id), data, c.ttl).Err(); err != nil {
			logger.DB().Warn().Err(err).Str("id", id).Msg("cache write failed")
		}
	}
	return thing, nil
}

// CreateThing persists the thing and invalidates any stale cache entry
// for its id, in case a prior miss cached a not-found result elsewhere.
func (c *Cache) CreateThing(ctx context.Context, device wire.Device) (*Thing, error) {
	thing, err := c.Repository.CreateThing(ctx, device)
	if err != nil || c.client == nil {
		return thing, err
	}
	if err := c.client.Del(ctx, c.thingKey(device.ID)).Err(); err != nil {
		logger.DB().Warn().Err(err).Str("id", device.ID).Msg("cache invalidate failed")
	}
	return thing, nil
}
