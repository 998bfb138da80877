package main

import (
	"context"
	"flag"
	"strings"

	"github.com/flexprice/usagemeter/internal/clickhouse"
	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/logger"
)

func optimizeCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	tables := fs.String("tables", "events,usage_partials", "comma separated tables to optimize")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := clickhouse.NewClickHouseStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.OptimizeTables(ctx, strings.Split(*tables, ",")...)
}
