// Package cache is a redis-backed cache of search result pages. Entries are
// keyed on the snapshot generation plus the normalised query and pagination,
// and deduplicated in flight with singleflight. The generation in the key is
// what guarantees a cached page is never served for a snapshot other than the
// one that produced it; the wholesale flush on publish merely reclaims the
// dead entries early instead of waiting out their TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/internal/tokenizer"
	"github.com/mkumaran/message-search/pkg/config"
	pkgredis "github.com/mkumaran/message-search/pkg/redis"
)

const keyPrefix = "search:"

// QueryCache caches search result pages in redis.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a QueryCache on top of an established redis client.
func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// GetOrCompute returns the cached page for (snapshot generation, query, page,
// pageSize) or computes and stores it. Concurrent identical lookups share one
// computation. The second return value reports whether the result came from
// cache.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	generation, query string,
	page, pageSize int,
	computeFn func() (index.Result, error),
) (index.Result, bool, error) {
	key := c.buildKey(generation, query, page, pageSize)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return index.Result{}, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return index.Result{}, false, err
	}
	return val.(index.Result), false, nil
}

// Invalidate drops every cached page. Called on each snapshot publish.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts since startup.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) get(ctx context.Context, key string) (index.Result, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return index.Result{}, false
	}
	var result index.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return index.Result{}, false
	}
	c.hits.Add(1)
	return result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result index.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// buildKey hashes the snapshot generation, the query, and the pagination
// window. The generation makes pages computed against a replaced snapshot
// unreachable even if a write races the publish-time flush. The raw query is
// part of the key (not just its term set) because the engine's UUID fast path
// and substring fallback are sensitive to the raw string.
func (c *QueryCache) buildKey(generation, query string, page, pageSize int) string {
	terms := tokenizer.Tokenize(query)
	sort.Strings(terms)
	raw := fmt.Sprintf("%s|%s|%s|page=%d|size=%d",
		generation, strings.ToLower(strings.TrimSpace(query)), strings.Join(terms, ","), page, pageSize)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
