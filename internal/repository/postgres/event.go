package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/postgres"
	"github.com/flexprice/usagemeter/internal/tracing"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/shopspring/decimal"
)

const eventColumns = `id, organization_id, subscription_id, external_subscription_id, code,
	transaction_id, timestamp, enriched_at, ingested_at, properties, precise_amount`

// EventRepository is the row-scan store over the postgres events table.
// Deduplication is pushed down with DISTINCT ON using the same preference
// order as the engine, so each transaction id yields its winning copy only.
type EventRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewEventRepository(client *postgres.Client, log *logger.Logger) *EventRepository {
	return &EventRepository{client: client, logger: log}
}

// dedupKey keys rows without a transaction id by their own id
func dedupKey() string {
	return "COALESCE(NULLIF(transaction_id, ''), 'id:' || id)"
}

// dedupOrderBy ranks copies of one transaction id, the preferred copy first
func dedupOrderBy() string {
	return dedupKey() + ", enriched_at DESC NULLS LAST, ingested_at DESC, id DESC"
}

func buildFindEventsQuery(params *events.FindEventsParams) (string, []interface{}) {
	conditions := []string{
		"organization_id = $1",
		"subscription_id = $2",
		"code = $3",
		"timestamp >= $4",
		"timestamp < $5",
	}
	args := []interface{}{
		params.OrganizationID,
		params.SubscriptionID,
		params.Code,
		params.From,
		params.To,
	}
	if params.MaxTimestamp != nil {
		args = append(args, *params.MaxTimestamp)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT DISTINCT ON (%s) %s
			FROM %s
			WHERE %s
			ORDER BY %s
		) deduped
		ORDER BY timestamp, transaction_id, id`,
		eventColumns,
		dedupKey(), eventColumns,
		types.TableNameEvents,
		strings.Join(conditions, " AND "),
		dedupOrderBy(),
	)
	return query, args
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
	r.logger.WithContext(ctx).Debugw("executing find events query",
		"subscription_id", params.SubscriptionID,
		"code", params.Code,
		"from", params.From,
		"to", params.To,
	)

	rows, err := r.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to query events").
			Mark(ierr.ErrStoreUnavailable)
	}
	defer rows.Close()

	result := make([]*events.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			tracing.SetSpanError(span, err)
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		tracing.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Error occurred during row iteration").
			Mark(ierr.ErrStoreUnavailable)
	}

	tracing.SetSpanSuccess(span)
	return result, nil
}

func scanEvent(rows *sql.Rows) (*events.Event, error) {
	var (
		e          events.Event
		enrichedAt sql.NullTime
		props      []byte
		amount     decimal.NullDecimal
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

	if enrichedAt.Valid {
		t := enrichedAt.Time.UTC()
		e.EnrichedAt = &t
	}
	e.Timestamp = e.Timestamp.UTC()
	e.IngestedAt = e.IngestedAt.UTC()
	e.PreciseAmount = amount

	if len(props) > 0 {
		e.Properties, err = events.ParseProperties(props)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Event %s has malformed properties", e.ID).
				Mark(ierr.ErrDatabase)
		}
	}
	return &e, nil
}

// InsertEvent writes one physical copy. Used by fixtures and the ingestion path.
func (r *EventRepository) InsertEvent(ctx context.Context, e *events.Event) error {
	props, err := e.Properties.MarshalJSON()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode event properties").
			Mark(ierr.ErrValidation)
	}

	id := e.ID
	if id == "" {
		id = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT)
	}

	var enrichedAt sql.NullTime
	if e.EnrichedAt != nil {
		enrichedAt = sql.NullTime{Time: *e.EnrichedAt, Valid: true}
	}
	ingestedAt := e.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	_, err = r.client.DB().ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		types.TableNameEvents, eventColumns),
		id,
		e.OrganizationID,
		e.SubscriptionID,
		e.ExternalSubscriptionID,
		e.Code,
		e.TransactionID,
		e.Timestamp,
		enrichedAt,
		ingestedAt,
		props,
		e.PreciseAmount,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to insert event").
			Mark(ierr.ErrStoreUnavailable)
	}
	return nil
}
