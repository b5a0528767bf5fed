// Package resultcache memoizes final pipeline results per content
// fingerprint and document type.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spherical-ai/finsight/internal/cache"
	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
)

// DefaultTTL keeps results for seven days.
const DefaultTTL = 7 * 24 * time.Hour

// Lookup is the outcome of a cache read. Err is set only when the store
// itself failed; a plain miss has Hit=false and Err=nil.
type Lookup struct {
	Result *domain.Result
	Hit    bool
	Err    error
}

// Degraded reports whether the lookup fell back to a miss because the store
// was unavailable.
func (l Lookup) Degraded() bool {
	return l.Err != nil
}

// Cache is a best-effort result cache. No method ever returns an error that
// should fail a run.
type Cache struct {
	client cache.Client
	logger *observability.Logger
	ttl    time.Duration
}

// New creates a result cache. A zero ttl selects DefaultTTL.
func New(client cache.Client, logger *observability.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Cache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// TTL returns the expiry applied by Put.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get reads a cached result. Store failures and undecodable entries are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) Lookup {
	if c == nil || c.client == nil {
		return Lookup{}
	}

	data, err := c.client.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return Lookup{}
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Result cache unavailable, treating as miss")
		return Lookup{Err: domain.CacheUnavailableError("cache get", err)}
	}

	var result domain.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cached result")
		return Lookup{}
	}

	c.logger.Debug().Str("key", key).Msg("Result cache hit")
	return Lookup{Result: &result, Hit: true}
}

// Put stores result under key, replacing any previous value and resetting
// its expiry. The returned error is informational only.
func (c *Cache) Put(ctx context.Context, key string, result *domain.Result) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode result for cache")
		return domain.CacheUnavailableError("encode result", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Could not cache result")
		return domain.CacheUnavailableError("cache put", err)
	}

	c.logger.Info().Str("key", key).Dur("ttl", c.ttl).Msg("Cached complete document result")
	return nil
}
