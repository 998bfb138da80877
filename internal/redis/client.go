package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Client wraps the redis connection backing the partial snapshot cache
type Client struct {
	rdb *redis.Client
	log *logger.Logger
}

func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
		PoolSize:     cfg.Redis.PoolSize,
	}
	if cfg.Redis.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to redis").
			Mark(ierr.ErrStoreUnavailable)
	}

	log.Infow("connected to redis", "addr", opts.Addr)
	return &Client{rdb: rdb, log: log}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
