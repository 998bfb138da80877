package config

import (
	"testing"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_MeteringBackendAndRowStore(t *testing.T) {
	tests := []struct {
		name     string
		backend  types.MeteringBackend
		rowStore types.RowStoreType
		wantErr  bool
	}{
		{name: "row scan on postgres", backend: types.MeteringBackendRowScan, rowStore: types.RowStorePostgres},
		{name: "row scan on clickhouse", backend: types.MeteringBackendRowScan, rowStore: types.RowStoreClickHouse},
		{name: "pre-aggregated on clickhouse", backend: types.MeteringBackendPreAggregated, rowStore: types.RowStoreClickHouse},
		{name: "pre-aggregated on postgres", backend: types.MeteringBackendPreAggregated, rowStore: types.RowStorePostgres, wantErr: true},
		{name: "pre-aggregated without row store", backend: types.MeteringBackendPreAggregated, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Metering.Backend = tt.backend
			cfg.Metering.RowStore = tt.rowStore

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ierr.IsValidation(err))
				return
			}
			require.NoError(t, err)
		})
	}
}
