package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/flexprice/usagemeter/internal/clickhouse"
	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/tracing"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/shopspring/decimal"
)

const eventColumns = "id, organization_id, subscription_id, external_subscription_id, code, " +
	"transaction_id, timestamp, enriched_at, ingested_at, properties, precise_amount"

// EventRepository reads the events table.
// Table layout:
// - ORDER BY: (organization_id, subscription_id, code, timestamp, transaction_id, id)
// - PARTITION BY: toYYYYMM(timestamp)
// - ENGINE: MergeTree, one row per physical copy
type EventRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewEventRepository(store *clickhouse.ClickHouseStore, log *logger.Logger) *EventRepository {
	return &EventRepository{store: store, logger: log}
}

// getDeduplicationKey keys rows without a transaction id by their own id
func getDeduplicationKey() string {
	return "if(transaction_id = '', concat('id:', id), transaction_id)"
}

// getDeduplicationOrderBy puts the preferred copy of a transaction id first
func getDeduplicationOrderBy() string {
	return "dedup_key, enriched_at DESC NULLS LAST, ingested_at DESC, id DESC"
}

// dedupedEventsFrom keeps one row per transaction id over the whole window.
// Callers filter the result further, never the window itself, so a cutoff
// cannot split the copies of one transaction.
func dedupedEventsFrom(params *events.FindEventsParams) (string, []interface{}) {
	conditions := []string{
		"organization_id = ?",
		"subscription_id = ?",
		"code = ?",
		"timestamp >= ?",
		"timestamp < ?",
	}
	args := []interface{}{
		params.OrganizationID,
		params.SubscriptionID,
		params.Code,
		params.From,
		params.To,
	}
	if params.MaxTimestamp != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *params.MaxTimestamp)
	}

	query := fmt.Sprintf(`(
		SELECT %s, %s AS dedup_key
		FROM %s
		WHERE %s
		ORDER BY %s
		LIMIT 1 BY dedup_key
	)`,
		eventColumns, getDeduplicationKey(),
		types.TableNameEvents,
		strings.Join(conditions, " AND "),
		getDeduplicationOrderBy(),
	)
	return query, args
}

func buildFindEventsQuery(params *events.FindEventsParams) (string, []interface{}) {
	from, args := dedupedEventsFrom(params)
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY timestamp, transaction_id, id", eventColumns, from)
	return query, args
}

func buildTailQuery(params *events.TailParams) (string, []interface{}) {
	from, args := dedupedEventsFrom(&params.FindEventsParams)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE timestamp >= ? ORDER BY timestamp, transaction_id, id", eventColumns, from)
	return query, append(args, params.Cutoff)
}

func (r *EventRepository) FindEvents(ctx context.Context, params *events.FindEventsParams) ([]*events.Event, error) {
	if params == nil {
		return nil, ierr.NewError("params are nil").
			WithHint("Find events params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	span := tracing.StartRepositorySpan(ctx, "event", "find_events", map[string]interface{}{
		"subscription_id": params.SubscriptionID,
		"code":            params.Code,
	})
	defer tracing.FinishSpan(span)

	query, args := buildFindEventsQuery(params)
	result, err := r.query(ctx, query, args)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, err
	}

	r.logger.WithContext(ctx).Debugw("fetched events from clickhouse",
		"subscription_id", params.SubscriptionID,
		"code", params.Code,
		"count", len(result),
	)
	tracing.SetSpanSuccess(span)
	return result, nil
}

func (r *EventRepository) query(ctx context.Context, query string, args []interface{}) ([]*events.Event, error) {
	rows, err := r.store.GetConn().Query(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query events").
			Mark(ierr.ErrStoreUnavailable)
	}
	defer rows.Close()

	result := make([]*events.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Error occurred during row iteration").
			Mark(ierr.ErrStoreUnavailable)
	}
	return result, nil
}

func scanEvent(rows driver.Rows) (*events.Event, error) {
	var (
		e          events.Event
		enrichedAt *time.Time
		props      string
		amount     *decimal.Decimal
	)
	err := rows.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.SubscriptionID,
		&e.ExternalSubscriptionID,
		&e.Code,
		&e.TransactionID,
		&e.Timestamp,
		&enrichedAt,
		&e.IngestedAt,
		&props,
		&amount,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan event").
			Mark(ierr.ErrDatabase)
	}

	e.EnrichedAt = enrichedAt
	if amount != nil {
		e.PreciseAmount = decimal.NewNullDecimal(*amount)
	}
	if props != "" {
		e.Properties, err = events.ParseProperties([]byte(props))
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Event %s has malformed properties", e.ID).
				Mark(ierr.ErrDatabase)
		}
	}
	return &e, nil
}
