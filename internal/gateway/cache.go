package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tradecouncil/tradecouncil/internal/metrics"
)

// Cache is a process-local TTL cache with LRU eviction on overflow.
// Concurrent lookups for the same key coalesce to a single upstream call.
// One Cache instance serves one TTL class (quotes, news, series, ...).
type Cache struct {
	class string
	lru   *expirable.LRU[string, any]
	group singleflight.Group
}

// NewCache creates a cache bounded by size items with the given TTL. class
// names the TTL class for metrics.
func NewCache(class string, size int, ttl time.Duration) *Cache {
	return &Cache{
		class: class,
		lru:   expirable.NewLRU[string, any](size, nil, ttl),
	}
}

// Do returns the cached value for key or runs fetch once, sharing the
// result among concurrent callers. Errors are never cached.
func (c *Cache) Do(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.lru.Get(key); ok {
		metrics.GatewayCacheHits.WithLabelValues(c.class).Inc()
		return v, nil
	}
	metrics.GatewayCacheMisses.WithLabelValues(c.class).Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check inside the flight: a racing caller may have populated
		// the entry between the miss and the flight start.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	return v, err
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Fingerprint builds the canonical cache key for a gateway request: the
// operation name plus a stable JSON encoding of the request fields.
// Credentials never appear in request structs, so they never reach keys.
func Fingerprint(op string, req any) string {
	data, err := json.Marshal(req)
	if err != nil {
		// Unmarshalable requests fall back to an uncacheable unique key.
		return fmt.Sprintf("%s:unfingerprintable:%p", op, &req)
	}
	sum := sha256.Sum256(data)
	return op + ":" + hex.EncodeToString(sum[:16])
}
