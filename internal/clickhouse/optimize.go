package clickhouse

import (
	"context"
	"fmt"

	ierr "github.com/flexprice/usagemeter/internal/errors"
)

// recentPartitions are the partitions a billing run still writes to
var recentPartitions = []string{
	"toYYYYMM(today())",
	"toYYYYMM(addMonths(today(), -1))",
}

func optimizeStatement(table, partitionExpr string) string {
	return fmt.Sprintf("OPTIMIZE TABLE %s PARTITION tuple(%s) FINAL", table, partitionExpr)
}

// OptimizeTables forces the replacing merge of the recent partitions so that
// superseded partial aggregates are dropped from disk. Reads use FINAL and
// stay correct without it.
func (s *ClickHouseStore) OptimizeTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		for _, partitionExpr := range recentPartitions {
			if err := s.conn.Exec(ctx, optimizeStatement(table, partitionExpr)); err != nil {
				return ierr.WithError(err).
					WithHintf("Failed to optimize %s partition %s", table, partitionExpr).
					Mark(ierr.ErrStoreUnavailable)
			}
			s.logger.Infow("optimized clickhouse partition",
				"table", table,
				"partition", partitionExpr,
			)
		}
	}
	return nil
}
