package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	_ "github.com/lib/pq"
)

// maxConnectWait bounds how long startup waits for the database
const maxConnectWait = 30 * time.Second

// Client wraps the postgres connection pool the row-scan store reads from
type Client struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewClient opens a connection pool and pings it with exponential backoff
func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	db, err := sql.Open("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to open postgres connection").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	client := NewClientFromDB(db, log)
	if err := client.waitReady(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infow("connected to postgres",
		"host", cfg.Postgres.Host,
		"dbname", cfg.Postgres.DBName,
	)
	return client, nil
}

// NewClientFromDB wraps an already opened pool
func NewClientFromDB(db *sql.DB, log *logger.Logger) *Client {
	return &Client{db: db, logger: log}
}

func (c *Client) waitReady(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxConnectWait

	err := backoff.RetryNotify(func() error {
		return c.db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.logger.Warnw("postgres not ready, retrying", "error", err, "wait", wait)
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Postgres is not reachable").
			Mark(ierr.ErrStoreUnavailable)
	}
	return nil
}

// DB returns the underlying pool
func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.db.Close()
}
