package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/flexprice/usagemeter/internal/api/dto"
	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	models "github.com/flexprice/usagemeter/internal/temporal/models/usage"
	temporalservice "github.com/flexprice/usagemeter/internal/temporal/service"
	"github.com/flexprice/usagemeter/internal/temporal/worker"
	"github.com/flexprice/usagemeter/internal/types"
)

type materializeOptions struct {
	requestsPath   string
	organizationID string
	cutoff         string
}

func materializeCommand(ctx context.Context, args []string, out io.Writer) error {
	var opts materializeOptions
	fs := flag.NewFlagSet("materialize", flag.ContinueOnError)
	fs.StringVar(&opts.requestsPath, "requests", "", "JSON array of aggregation requests")
	fs.StringVar(&opts.organizationID, "org", "", "organization of requests that do not name one")
	fs.StringVar(&opts.cutoff, "cutoff", "", "partial cutoff, RFC3339")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.requestsPath == "" {
		return ierr.NewError("-requests is required").Mark(ierr.ErrValidation)
	}
	f, err := os.Open(opts.requestsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	c, err := worker.NewClient(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	return runMaterialize(ctx, opts, f, temporalservice.NewTemporalService(c, cfg, log), out)
}

// runMaterialize starts the materialize partials workflow for the requests
// read from in and prints the started run
func runMaterialize(ctx context.Context, opts materializeOptions, in io.Reader, svc temporalservice.TemporalService, out io.Writer) error {
	cutoff, err := parseTime("cutoff", opts.cutoff)
	if err != nil {
		return err
	}

	var items []*dto.AggregateUsageRequest
	if err := json.NewDecoder(in).Decode(&items); err != nil {
		return ierr.WithError(err).
			WithHint("-requests must hold a JSON array of aggregation requests").
			Mark(ierr.ErrValidation)
	}

	if opts.organizationID != "" {
		ctx = types.SetOrganizationID(ctx, opts.organizationID)
	}

	reqs := make([]*usage.Request, 0, len(items))
	for i, item := range items {
		if item == nil {
			return ierr.NewErrorf("request %d is empty", i).Mark(ierr.ErrValidation)
		}
		if err := item.Validate(); err != nil {
			return err
		}
		req, err := item.ToUsageRequest(ctx)
		if err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	run, err := svc.StartMaterializePartials(ctx, models.MaterializePartialsWorkflowInput{
		Requests: reqs,
		Cutoff:   cutoff,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
