package clickhouse

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
)

const maxConnectWait = 30 * time.Second

// ClickHouseStore owns the native connection used by the clickhouse repositories
type ClickHouseStore struct {
	conn   driver.Conn
	logger *logger.Logger
}

func NewClickHouseStore(cfg *config.Configuration, log *logger.Logger) (*ClickHouseStore, error) {
	options := &clickhouse.Options{
		Addr: []string{cfg.ClickHouse.Address},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
		Protocol: clickhouse.Native,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
	}
	if cfg.ClickHouse.TLS {
		options.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to open clickhouse connection").
			Mark(ierr.ErrDatabase)
	}

	store := &ClickHouseStore{conn: conn, logger: log}
	if err := store.waitReady(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Infow("connected to clickhouse",
		"address", cfg.ClickHouse.Address,
		"database", cfg.ClickHouse.Database,
	)
	return store, nil
}

func (s *ClickHouseStore) waitReady(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxConnectWait

	err := backoff.RetryNotify(func() error {
		return s.conn.Ping(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		s.logger.Warnw("clickhouse not ready, retrying", "error", err, "wait", wait)
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("ClickHouse is not reachable").
			Mark(ierr.ErrStoreUnavailable)
	}
	return nil
}

func (s *ClickHouseStore) GetConn() driver.Conn {
	return s.conn
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
