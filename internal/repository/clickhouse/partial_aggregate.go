package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flexprice/usagemeter/internal/clickhouse"
	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/tracing"
	"github.com/flexprice/usagemeter/internal/types"
)

const partialColumns = "id, organization_id, subscription_id, code, fingerprint, from_time, cutoff, state, event_count, created_at"

// PartialAggregateRepository is the pre-aggregated store. Partials live in a
// ReplacingMergeTree versioned by created_at; the tail is read from the
// events table through the same dedup subquery as the row-scan path.
type PartialAggregateRepository struct {
	store  *clickhouse.ClickHouseStore
	events *EventRepository
	logger *logger.Logger
}

func NewPartialAggregateRepository(store *clickhouse.ClickHouseStore, log *logger.Logger) *PartialAggregateRepository {
	return &PartialAggregateRepository{
		store:  store,
		events: NewEventRepository(store, log),
		logger: log,
	}
}

func buildGetPartialQuery(params *events.PartialParams) (string, []interface{}) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s FINAL
		WHERE organization_id = ?
		AND subscription_id = ?
		AND code = ?
		AND fingerprint = ?`, partialColumns, types.TableNameUsagePartials)
	args := []interface{}{
		params.OrganizationID,
		params.SubscriptionID,
		params.Code,
		params.Fingerprint,
	}
	if !params.From.IsZero() {
		query += " AND from_time = ?"
		args = append(args, params.From)
	}
	query += " ORDER BY created_at DESC, cutoff DESC LIMIT 1"
	return query, args
}

func (r *PartialAggregateRepository) GetPartialAggregate(ctx context.Context, params *events.PartialParams) (*events.PartialAggregate, error) {
	if params == nil {
		return nil, ierr.NewError("params are nil").
			WithHint("Partial params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	span := tracing.StartRepositorySpan(ctx, "usage_partial", "get", map[string]interface{}{
		"subscription_id": params.SubscriptionID,
		"fingerprint":     params.Fingerprint,
	})
	defer tracing.FinishSpan(span)

	query, args := buildGetPartialQuery(params)

	var (
		partial events.PartialAggregate
		state   string
	)
	err := r.store.GetConn().QueryRow(ctx, query, args...).Scan(
		&partial.ID,
		&partial.OrganizationID,
		&partial.SubscriptionID,
		&partial.Code,
		&partial.Fingerprint,
		&partial.From,
		&partial.Cutoff,
		&state,
		&partial.EventCount,
		&partial.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			tracing.SetSpanSuccess(span)
			return nil, ierr.WithError(err).
				WithHintf("No partial aggregate for %s/%s", params.SubscriptionID, params.Code).
				WithReportableDetails(map[string]interface{}{
					"subscription_id": params.SubscriptionID,
					"code":            params.Code,
					"fingerprint":     params.Fingerprint,
				}).
				Mark(ierr.ErrNotFound)
		}
		tracing.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to read partial aggregate").
			Mark(ierr.ErrStoreUnavailable)
	}

	partial.State = []byte(state)
	tracing.SetSpanSuccess(span)
	return &partial, nil
}

func (r *PartialAggregateRepository) FindTailEvents(ctx context.Context, params *events.TailParams) ([]*events.Event, error) {
	if params == nil {
		return nil, ierr.NewError("params are nil").
			WithHint("Tail params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	span := tracing.StartRepositorySpan(ctx, "event", "find_tail_events", map[string]interface{}{
		"subscription_id": params.SubscriptionID,
		"cutoff":          params.Cutoff,
	})
	defer tracing.FinishSpan(span)

	query, args := buildTailQuery(params)
	result, err := r.events.query(ctx, query, args)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, err
	}

	tracing.SetSpanSuccess(span)
	return result, nil
}

func (r *PartialAggregateRepository) SavePartialAggregate(ctx context.Context, partial *events.PartialAggregate) error {
	if partial == nil || partial.Fingerprint == "" || len(partial.State) == 0 {
		return ierr.NewError("partial aggregate is incomplete").
			WithHint("Fingerprint and state are required").
			Mark(ierr.ErrValidation)
	}

	span := tracing.StartRepositorySpan(ctx, "usage_partial", "save", map[string]interface{}{
		"subscription_id": partial.SubscriptionID,
		"fingerprint":     partial.Fingerprint,
	})
	defer tracing.FinishSpan(span)

	if partial.ID == "" {
		partial.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PARTIAL)
	}
	if partial.CreatedAt.IsZero() {
		partial.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		types.TableNameUsagePartials, partialColumns)
	err := r.store.GetConn().Exec(ctx, query,
		partial.ID,
		partial.OrganizationID,
		partial.SubscriptionID,
		partial.Code,
		partial.Fingerprint,
		partial.From,
		partial.Cutoff,
		string(partial.State),
		partial.EventCount,
		partial.CreatedAt,
	)
	if err != nil {
		tracing.SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to save partial aggregate").
			Mark(ierr.ErrStoreUnavailable)
	}

	r.logger.WithContext(ctx).Infow("saved partial aggregate",
		"partial_id", partial.ID,
		"subscription_id", partial.SubscriptionID,
		"code", partial.Code,
		"cutoff", partial.Cutoff,
		"event_count", partial.EventCount,
	)
	tracing.SetSpanSuccess(span)
	return nil
}

// buildInvalidatePartialsQuery uses a lightweight delete; FINAL reads skip
// the masked rows right away
func buildInvalidatePartialsQuery(params *events.InvalidatePartialsParams) (string, []interface{}) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE organization_id = ?
		AND subscription_id = ?
		AND cutoff > ?`, types.TableNameUsagePartials)
	return query, []interface{}{
		params.OrganizationID,
		params.SubscriptionID,
		params.Since,
	}
}

func (r *PartialAggregateRepository) InvalidatePartials(ctx context.Context, params *events.InvalidatePartialsParams) error {
	if params == nil {
		return ierr.NewError("params are nil").
			WithHint("Invalidation params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	span := tracing.StartRepositorySpan(ctx, "usage_partial", "invalidate", map[string]interface{}{
		"subscription_id": params.SubscriptionID,
		"since":           params.Since,
	})
	defer tracing.FinishSpan(span)

	query, args := buildInvalidatePartialsQuery(params)
	if err := r.store.GetConn().Exec(ctx, query, args...); err != nil {
		tracing.SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to invalidate partial aggregates").
			Mark(ierr.ErrStoreUnavailable)
	}

	r.logger.WithContext(ctx).Infow("invalidated partial aggregates",
		"subscription_id", params.SubscriptionID,
		"since", params.Since,
	)
	tracing.SetSpanSuccess(span)
	return nil
}
