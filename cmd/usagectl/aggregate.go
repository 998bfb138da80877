package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/flexprice/usagemeter/internal/aggregation"
	"github.com/flexprice/usagemeter/internal/cache"
	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/service"
	"github.com/flexprice/usagemeter/internal/testutil"
	"github.com/flexprice/usagemeter/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type aggregateOptions struct {
	eventsPath     string
	organizationID string
	subscriptionID string
	code           string
	kind           string
	field          string
	groupBy        string
	prorated       bool
	from           string
	to             string
	durationDays   int
	maxTimestamp   string
	timezone       string
	split          string
	dump           string
}

// aggregateOutput carries the row-scan result and, with a split, the result
// rebuilt from a partial at the split plus the events after it
type aggregateOutput struct {
	RowScan       *usage.Result `json:"row_scan"`
	PreAggregated *usage.Result `json:"pre_aggregated,omitempty"`
	Split         *time.Time    `json:"split,omitempty"`
	Equivalent    *bool         `json:"equivalent,omitempty"`
}

func aggregateCommand(ctx context.Context, args []string, out io.Writer) error {
	var opts aggregateOptions
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	fs.StringVar(&opts.eventsPath, "events", "", "CSV file of events")
	fs.StringVar(&opts.organizationID, "org", "", "organization id (default: the one of the first event)")
	fs.StringVar(&opts.subscriptionID, "subscription", "", "subscription id (default: the one of the first event)")
	fs.StringVar(&opts.code, "code", "", "metric code (default: the one of the first event)")
	fs.StringVar(&opts.kind, "kind", string(types.AggregationCount), "aggregation kind")
	fs.StringVar(&opts.field, "field", "", "property counted by unique_count or pairing removes of prorated kinds")
	fs.StringVar(&opts.groupBy, "group-by", "", "comma separated grouping properties")
	fs.BoolVar(&opts.prorated, "prorated", false, "prorate count or sum over the period")
	fs.StringVar(&opts.from, "from", "", "period start, RFC3339")
	fs.StringVar(&opts.to, "to", "", "period end, RFC3339")
	fs.IntVar(&opts.durationDays, "duration-days", 0, "period length in days (default: from to-from)")
	fs.StringVar(&opts.maxTimestamp, "max-timestamp", "", "inclusive cap on event timestamps, RFC3339")
	fs.StringVar(&opts.timezone, "tz", "", "timezone of proration days")
	fs.StringVar(&opts.split, "split", "", "also compute from a partial cut at this time, RFC3339")
	fs.StringVar(&opts.dump, "dump", "", "write the deduplicated events of the window to this CSV file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.eventsPath == "" {
		return ierr.NewError("-events is required").Mark(ierr.ErrValidation)
	}
	f, err := os.Open(opts.eventsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var dump io.Writer
	if opts.dump != "" {
		d, err := os.Create(opts.dump)
		if err != nil {
			return err
		}
		defer d.Close()
		dump = d
	}

	return runAggregate(ctx, opts, f, out, dump)
}

// runAggregate prints the result as JSON to out. When dump is set it also
// receives the events the result was computed from.
func runAggregate(ctx context.Context, opts aggregateOptions, in io.Reader, out io.Writer, dump io.Writer) error {
	evts, err := events.ReadEventsCSV(in)
	if err != nil {
		return err
	}

	req, err := opts.request(evts)
	if err != nil {
		return err
	}

	eventStore := testutil.NewInMemoryEventStore()
	if err := eventStore.BulkInsertEvents(ctx, evts); err != nil {
		return err
	}
	preStore := testutil.NewInMemoryPreAggregatedStore(eventStore)

	cfg := config.GetDefaultConfig()
	log := logger.NewNopLogger()
	usageService := func(backend types.MeteringBackend) service.UsageService {
		c := *cfg
		c.Metering.Backend = backend
		return service.NewUsageService(service.NewServiceParams(
			log, &c, aggregation.NewEngine(log), cache.NewInMemoryCache(&c), eventStore, preStore,
		))
	}

	var output aggregateOutput
	output.RowScan, err = usageService(types.MeteringBackendRowScan).Aggregate(ctx, req)
	if err != nil {
		return err
	}

	if opts.split != "" {
		split, err := parseTime("split", opts.split)
		if err != nil {
			return err
		}
		pre := usageService(types.MeteringBackendPreAggregated)
		if _, err := pre.MaterializePartial(ctx, req, split); err != nil {
			return err
		}
		output.PreAggregated, err = pre.Aggregate(ctx, req)
		if err != nil {
			return err
		}
		output.Split = &split
		output.Equivalent = lo.ToPtr(sameResult(output.RowScan, output.PreAggregated))
	}

	if dump != nil {
		window, err := eventStore.FindEvents(ctx, req.FindEventsParams())
		if err != nil {
			return err
		}
		deduped, _ := aggregation.Deduplicate(window)
		if err := events.WriteEventsCSV(dump, deduped); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func (o aggregateOptions) request(evts []*events.Event) (*usage.Request, error) {
	from, err := parseTime("from", o.from)
	if err != nil {
		return nil, err
	}
	to, err := parseTime("to", o.to)
	if err != nil {
		return nil, err
	}

	first, _ := lo.First(evts)
	if first == nil {
		first = &events.Event{}
	}

	req := &usage.Request{
		OrganizationID: lo.CoalesceOrEmpty(o.organizationID, first.OrganizationID),
		SubscriptionID: lo.CoalesceOrEmpty(o.subscriptionID, first.SubscriptionID),
		Code:           lo.CoalesceOrEmpty(o.code, first.Code),
		Kind:           types.AggregationType(o.kind),
		Prorated:       o.prorated,
		FieldName:      o.field,
		Boundary: usage.Boundary{
			From:         from,
			To:           to,
			DurationDays: o.durationDays,
			Timezone:     o.timezone,
		},
	}
	if req.Boundary.DurationDays == 0 {
		req.Boundary.DurationDays = int(to.Sub(from).Hours() / 24)
	}
	if o.groupBy != "" {
		req.GroupedBy = lo.Map(strings.Split(o.groupBy, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		})
	}
	if o.maxTimestamp != "" {
		maxTs, err := parseTime("max-timestamp", o.maxTimestamp)
		if err != nil {
			return nil, err
		}
		req.Boundary.MaxTimestamp = &maxTs
	}
	return req, nil
}

func parseTime(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, ierr.WithError(err).
			WithHintf("-%s must be an RFC3339 time", name).
			Mark(ierr.ErrValidation)
	}
	return t, nil
}

func sameResult(a, b *usage.Result) bool {
	if a.Value.Valid != b.Value.Valid || !a.Value.Decimal.Equal(b.Value.Decimal) {
		return false
	}
	if len(a.Groups) != len(b.Groups) {
		return false
	}
	for i := range a.Groups {
		ga, gb := a.Groups[i], b.Groups[i]
		if ga.Key.String() != gb.Key.String() ||
			ga.Value.Valid != gb.Value.Valid ||
			!ga.Value.Decimal.Equal(gb.Value.Decimal) {
			return false
		}
	}
	return true
}
