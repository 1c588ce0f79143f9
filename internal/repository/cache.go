package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/metrics"
)

var (
	cacheHitCounter      *prometheus.CounterVec
	cacheMissCounter     *prometheus.CounterVec
	cacheSetErrorCounter *prometheus.CounterVec
	metricsInitOnce      sync.Once
)

// initCacheMetrics initializes cache metrics counters
// This is called lazily on first cache operation
func initCacheMetrics() {
	metricsInitOnce.Do(func() {
		cacheHitCounter = metrics.NewCounterVec(metrics.CounterOpts{
			Subsystem: "cache",
			Name:      "hit_total",
			Help:      "Total number of cache hits",
			Labels:    []string{"entity"},
		})
		cacheMissCounter = metrics.NewCounterVec(metrics.CounterOpts{
			Subsystem: "cache",
			Name:      "miss_total",
			Help:      "Total number of cache misses",
			Labels:    []string{"entity"},
		})
		cacheSetErrorCounter = metrics.NewCounterVec(metrics.CounterOpts{
			Subsystem: "cache",
			Name:      "set_error_total",
			Help:      "Total number of cache set errors",
			Labels:    []string{"entity"},
		})
	})
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the key/value store the cached repository reads through.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return value, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// CachedRepository wraps a repository with a cache-aside layer for asset
// reads. Writes invalidate the cached entry; inside a transaction the
// invalidation waits for the commit, and reads bypass the cache.
type CachedRepository struct {
	Repository
	cache   Cache
	ttl     time.Duration
	version int
	logger  zerolog.Logger

	pending *[]string // keys to invalidate on commit, nil outside a transaction
}

// NewCachedRepository creates a new repository with cache-aside pattern
// support. The schema version becomes part of every key so entries written by
// an older layout are never read back.
func NewCachedRepository(repo Repository, c Cache, ttl time.Duration, schemaVersion int, logger zerolog.Logger) *CachedRepository {
	return &CachedRepository{
		Repository: repo,
		cache:      c,
		ttl:        ttl,
		version:    schemaVersion,
		logger:     logger.With().Str("component", "cache").Logger(),
	}
}

func (r *CachedRepository) assetKey(id string) string {
	return fmt.Sprintf("assetdb:v%d:asset:%s", r.version, id)
}

// GetAsset retrieves an asset with cache-aside pattern
func (r *CachedRepository) GetAsset(ctx context.Context, id string) (*asset.Asset, error) {
	if r.cache == nil || r.pending != nil {
		return r.Repository.GetAsset(ctx, id)
	}
	initCacheMetrics()

	key := r.assetKey(id)
	raw, err := r.cache.Get(ctx, key)
	if err == nil {
		var cached asset.Asset
		if err := json.Unmarshal(raw, &cached); err == nil {
			cacheHitCounter.WithLabelValues("asset").Inc()
			return &cached, nil
		}
		r.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	} else if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	cacheMissCounter.WithLabelValues("asset").Inc()

	loaded, err := r.Repository.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache failures never fail the read.
	if raw, err := json.Marshal(loaded); err != nil || r.cache.Set(ctx, key, raw, r.ttl) != nil {
		cacheSetErrorCounter.WithLabelValues("asset").Inc()
	}
	return loaded, nil
}

// UpsertAsset creates or confirms an asset and invalidates its cache entry
func (r *CachedRepository) UpsertAsset(ctx context.Context, a *asset.Asset) (*asset.Asset, bool, error) {
	stored, created, err := r.Repository.UpsertAsset(ctx, a)
	if err != nil {
		return nil, false, err
	}
	if created {
		r.invalidate(ctx, a.Identifier)
	}
	return stored, created, nil
}

// UpdateAsset updates an asset and invalidates cache
func (r *CachedRepository) UpdateAsset(ctx context.Context, a *asset.Asset) error {
	if err := r.Repository.UpdateAsset(ctx, a); err != nil {
		return err
	}
	r.invalidate(ctx, a.Identifier)
	return nil
}

// DeleteAsset deletes an asset and invalidates cache. The delete clears the
// forked reference of assets forked from id, so their entries go too.
func (r *CachedRepository) DeleteAsset(ctx context.Context, id string) error {
	var forks []*asset.Asset
	err := r.Repository.WithTransaction(ctx, func(tx Repository) error {
		var err error
		forks, err = tx.ListAssets(ctx, &AssetFilter{Forked: &id})
		if err != nil {
			return err
		}
		return tx.DeleteAsset(ctx, id)
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, id)
	for _, fork := range forks {
		r.invalidate(ctx, fork.Identifier)
	}
	return nil
}

// WithTransaction runs fn in a transaction of the wrapped repository and
// flushes the collected invalidations once it has committed.
func (r *CachedRepository) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.pending != nil {
		return r.Repository.WithTransaction(ctx, func(inner Repository) error {
			return fn(r.bind(inner, r.pending))
		})
	}

	pending := &[]string{}
	err := r.Repository.WithTransaction(ctx, func(inner Repository) error {
		return fn(r.bind(inner, pending))
	})
	if err != nil {
		return err
	}
	r.deleteKeys(ctx, *pending...)
	return nil
}

func (r *CachedRepository) bind(inner Repository, pending *[]string) *CachedRepository {
	return &CachedRepository{
		Repository: inner,
		cache:      r.cache,
		ttl:        r.ttl,
		version:    r.version,
		logger:     r.logger,
		pending:    pending,
	}
}

// invalidate removes a key from cache, deferring it to the commit when a
// transaction is open.
func (r *CachedRepository) invalidate(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	key := r.assetKey(id)
	if r.pending != nil {
		*r.pending = append(*r.pending, key)
		return
	}
	r.deleteKeys(ctx, key)
}

func (r *CachedRepository) deleteKeys(ctx context.Context, keys ...string) {
	if r.cache == nil || len(keys) == 0 {
		return
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}
