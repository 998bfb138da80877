// Command usagectl computes usage from CSV event fixtures, schedules partial
// aggregates and runs store maintenance.
//
//	usagectl aggregate -events events.csv -kind sum -from 2024-03-01T00:00:00Z -to 2024-04-01T00:00:00Z
//	usagectl aggregate -events events.csv -kind count -prorated -split 2024-03-15T00:00:00Z ...
//	usagectl materialize -requests requests.json -cutoff 2024-03-15T00:00:00Z
//	usagectl optimize -tables events,usage_partials
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "aggregate":
		err = aggregateCommand(ctx, os.Args[2:], os.Stdout)
	case "materialize":
		err = materializeCommand(ctx, os.Args[2:], os.Stdout)
	case "optimize":
		err = optimizeCommand(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: usagectl <command> [flags]

Commands:
  aggregate    compute usage over a CSV of events
  materialize  start the workflow that snapshots partial aggregates at a cutoff
  optimize     force merges of the recent clickhouse partitions

Run usagectl <command> -h for the flags of a command.`)
}
