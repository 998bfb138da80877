package cache

import (
	"context"
	"strings"
	"time"

	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/tracing"
	gocache "github.com/patrickmn/go-cache"
)

const cleanupInterval = 10 * time.Minute

// InMemoryCache keeps the stored pointers themselves, so cached values must
// not be mutated after Set
type InMemoryCache struct {
	cache   *gocache.Cache
	enabled bool
}

func NewInMemoryCache(cfg *config.Configuration) *InMemoryCache {
	return &InMemoryCache{
		cache:   gocache.New(ExpiryDefaultInMemory, cleanupInterval),
		enabled: cfg.Cache.Enabled,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if !c.enabled {
		return nil, false
	}
	span := tracing.StartCacheSpan(ctx, "inmemory", "get", map[string]interface{}{"key": key})
	defer tracing.FinishSpan(span)

	value, found := c.cache.Get(key)
	tracing.SetSpanSuccess(span)
	return value, found
}

func (c *InMemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.enabled {
		return
	}
	if expiration == 0 {
		expiration = ExpiryDefaultInMemory
	}
	c.cache.Set(key, value, expiration)
}

func (c *InMemoryCache) Delete(_ context.Context, key string) {
	c.cache.Delete(key)
}

func (c *InMemoryCache) DeleteByPrefix(_ context.Context, prefix string) {
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
}

func (c *InMemoryCache) Flush(_ context.Context) {
	c.cache.Flush()
}
