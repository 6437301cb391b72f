// Package cache keeps permission-filtered search results in Redis. Keys
// include the user, so results are never shared across identities.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/redis"
)

const keyPrefix = "search:"

type QueryCache struct {
	client     *pkgredis.Client
	ttl        time.Duration
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
	invalidate chan struct{}
}

func New(client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:     client,
		ttl:        ttl,
		metrics:    m,
		logger:     slog.Default().With("component", "query-cache"),
		invalidate: make(chan struct{}, 1),
	}
}

func (c *QueryCache) Get(ctx context.Context, req executor.Request) (*executor.SearchResult, bool) {
	key := buildKey(req)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	c.logger.Debug("cache hit", "query", req.Query, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, req executor.Request, result *executor.SearchResult) {
	key := buildKey(req)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req or computes and stores it.
// Concurrent misses for the same key compute once.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req executor.Request,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, req); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(buildKey(req), func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// NotifyReopen schedules an invalidation. It never blocks, so it is safe to
// register as a reader reopen listener; bursts collapse into one flush.
func (c *QueryCache) NotifyReopen() {
	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

// Run flushes the cache after reader reopens until ctx is cancelled.
func (c *QueryCache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.invalidate:
			if err := c.Invalidate(ctx); err != nil {
				c.logger.Error("reopen invalidation failed", "error", err)
			}
		}
	}
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

func buildKey(req executor.Request) string {
	raw := fmt.Sprintf("%s|user=%s|offset=%d|limit=%d|all=%t",
		normalizeQuery(req.Query), req.User, req.Offset, req.Limit, req.AllVersions)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuery collapses whitespace. Case is significant for keyword
// fields, so it is kept.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
