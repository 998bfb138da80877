package types

import (
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/samber/lo"
)

// AggregationType is the aggregation semantic applied to a metric's events
type AggregationType string

const (
	AggregationCount       AggregationType = "count"
	AggregationSum         AggregationType = "sum"
	AggregationUniqueCount AggregationType = "unique_count"
	AggregationMax         AggregationType = "max"
	AggregationLatest      AggregationType = "latest"
	AggregationWeightedSum AggregationType = "weighted_sum"
)

var allAggregationTypes = []AggregationType{
	AggregationCount,
	AggregationSum,
	AggregationUniqueCount,
	AggregationMax,
	AggregationLatest,
	AggregationWeightedSum,
}

func (t AggregationType) String() string {
	return string(t)
}

func (t AggregationType) Validate() error {
	if !lo.Contains(allAggregationTypes, t) {
		return ierr.NewErrorf("invalid aggregation type: %s", t).
			WithHintf("Aggregation type must be one of %v", allAggregationTypes).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SupportsProration reports whether the prorated flag changes the result.
// weighted_sum is always time weighted so plain and prorated coincide.
func (t AggregationType) SupportsProration() bool {
	return t == AggregationCount || t == AggregationSum
}

// RequiresField reports whether the aggregation reads a property value
func (t AggregationType) RequiresField() bool {
	return t == AggregationUniqueCount
}

// OperationType is carried by events in the operation_type property
type OperationType string

const (
	OperationTypeAdd    OperationType = "add"
	OperationTypeRemove OperationType = "remove"
)

// PropertyOperationType is the property key holding the operation type
const PropertyOperationType = "operation_type"

// MeteringBackend selects where the usage service reads events from
type MeteringBackend string

const (
	MeteringBackendRowScan       MeteringBackend = "row_scan"
	MeteringBackendPreAggregated MeteringBackend = "pre_aggregated"
)

// RowStoreType selects the row-scan store implementation
type RowStoreType string

const (
	RowStorePostgres   RowStoreType = "postgres"
	RowStoreClickHouse RowStoreType = "clickhouse"
)
