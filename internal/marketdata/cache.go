package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrader-engine/pkg/observability"
)

// cacheOp names one of the five cacheable read operations, each with its
// own TTL per the tiering rules.
type cacheOp string

const (
	opQuote   cacheOp = "quote"
	opHistory cacheOp = "history"
	opSearch  cacheOp = "search"
	opIndices cacheOp = "indices"
	opOptions cacheOp = "options"
)

// cache is a thin TTL-only wrapper over a redis client: set, get, and
// nothing else. Cache invalidation is TTL expiry only, never explicit
// busting, matching the read-through tiering the provider stack runs.
type cache struct {
	client *redis.Client
	logger *observability.Logger
	ttl    map[cacheOp]time.Duration
}

func newCache(client *redis.Client, ttl map[cacheOp]time.Duration, logger *observability.Logger) *cache {
	return &cache{client: client, logger: logger, ttl: ttl}
}

func cacheKey(op cacheOp, parts ...string) string {
	key := "papertrader:md:" + string(op)
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// ping reports whether the underlying redis connection is reachable. A
// nil client (cache tier disabled) is always reported healthy, since
// the provider falls through to the remaining tiers regardless.
func (c *cache) ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// get unmarshals a cached value into dst, reporting whether it was found.
func (c *cache) get(ctx context.Context, op cacheOp, key string, dst any) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, cacheKey(op, key)).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false
	}
	return true
}

// set stores a value with the TTL configured for op. Callers are
// responsible for never calling this with an empty or zero-LTP quote.
func (c *cache) set(ctx context.Context, op cacheOp, key string, value any) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	ttl, ok := c.ttl[op]
	if !ok {
		ttl = 60 * time.Second
	}
	if err := c.client.Set(ctx, cacheKey(op, key), data, ttl).Err(); err != nil && c.logger != nil {
		c.logger.Debug(ctx, "marketdata cache set failed", map[string]interface{}{
			"op":    string(op),
			"error": err.Error(),
		})
	}
}

func quoteCacheKey(symbol string, exchange string) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}

func historyCacheKey(symbol, exchange, interval string, from, to time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", exchange, symbol, interval, from.Unix(), to.Unix())
}
