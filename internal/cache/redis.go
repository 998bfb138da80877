package cache

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/logger"
	redisClient "github.com/flexprice/usagemeter/internal/redis"
	"github.com/flexprice/usagemeter/internal/tracing"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const (
	// DeleteRetryDelay specifies how long to wait before retrying a failed delete operation
	DeleteRetryDelay = 100 * time.Millisecond

	// ScanCount determines how many keys to scan at once when using SCAN
	ScanCount = 100

	deleteBatchSize = 1000
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisCache stores values as JSON strings; read them back with UnmarshalCacheValue
type RedisCache struct {
	client  *redis.Client
	log     *logger.Logger
	enabled bool
}

func NewRedisCache(client *redisClient.Client, log *logger.Logger, cfg *config.Configuration) *RedisCache {
	return &RedisCache{
		client:  client.GetClient(),
		log:     log,
		enabled: cfg.Cache.Enabled,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if !c.enabled {
		return nil, false
	}
	span := tracing.StartCacheSpan(ctx, "redis", "get", map[string]interface{}{"key": key})
	defer tracing.FinishSpan(span)

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			tracing.SetSpanSuccess(span)
			return nil, false
		}
		tracing.SetSpanError(span, err)
		c.log.Errorw("redis GET error", "key", key, "error", err)
		return nil, false
	}

	tracing.SetSpanSuccess(span)
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.enabled {
		return
	}
	if expiration == 0 {
		expiration = ExpiryDefaultRedis
	}

	var strValue string
	switch v := value.(type) {
	case string:
		strValue = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			c.log.Errorw("failed to marshal cache value", "key", key, "error", err)
			return
		}
		strValue = string(b)
	}

	if err := c.client.Set(ctx, key, strValue, expiration).Err(); err != nil {
		c.log.Errorw("redis SET error", "key", key, "error", err)
	}
}

// Delete removes a key, retrying once on a fresh context
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warnw("redis DELETE failed, retrying", "key", key, "error", err)

		retryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		time.Sleep(DeleteRetryDelay)

		if retryErr := c.client.Del(retryCtx, key).Err(); retryErr != nil {
			c.log.Errorw("redis DELETE retry failed", "key", key, "error", retryErr)
		}
	}
}

// DeleteByPrefix removes all keys with the given prefix using SCAN
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, prefix+"*", ScanCount).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= deleteBatchSize {
			c.deleteBatch(ctx, prefix, keys)
			keys = keys[:0]
		}
	}
	if len(keys) > 0 {
		c.deleteBatch(ctx, prefix, keys)
	}

	if err := iter.Err(); err != nil {
		c.log.Errorw("redis SCAN error", "prefix", prefix, "error", err)
	}
}

func (c *RedisCache) deleteBatch(ctx context.Context, prefix string, keys []string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Errorw("redis DEL batch error", "prefix", prefix, "error", err)
	}
}

func (c *RedisCache) Flush(ctx context.Context) {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.log.Errorw("redis FLUSHDB error", "error", err)
	}
}
