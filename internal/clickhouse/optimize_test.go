package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimizeStatement(t *testing.T) {
	assert.Equal(t,
		"OPTIMIZE TABLE usage_partials PARTITION tuple(toYYYYMM(today())) FINAL",
		optimizeStatement("usage_partials", recentPartitions[0]),
	)
}
