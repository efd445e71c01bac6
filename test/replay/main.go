// Package main implements a scenario replay runner for the longitudinal
// planner. It plays a scripted drive through the full planning pipeline with
// the ego vehicle tracking each emitted plan, then checks the finished run
// against the scenario's expect block.
//
// Usage:
//
//	go run ./test/replay \
//	  -scenario test/replay/scenarios/lead_approach.json \
//	  -output text \
//	  -trace /tmp/trace.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juny6654/longplan/internal/replay"
)

const (
	exitPass  = 0
	exitFail  = 1
	exitFatal = 2
)

type options struct {
	scenario string
	output   string
	trace    string
}

func main() {
	var opts options
	flag.StringVar(&opts.scenario, "scenario", "", "Scenario fixture path (JSON)")
	flag.StringVar(&opts.output, "output", "text", "Output format (text / json)")
	flag.StringVar(&opts.trace, "trace", "", "Write the per-cycle trace to this file as JSON")
	flag.Parse()

	if opts.scenario == "" {
		fmt.Fprintln(os.Stderr, "missing required flag: -scenario")
		flag.Usage()
		os.Exit(exitFatal)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, opts, logger))
}

func run(ctx context.Context, opts options, logger *slog.Logger) int {
	sc, err := replay.Load(opts.scenario)
	if err != nil {
		logger.Error("failed to load scenario", "error", err)
		return exitFatal
	}
	logger.Info("scenario loaded",
		"scenario", sc.Name,
		"segments", len(sc.Segments),
		"cycles", sc.TotalCycles(),
		"drive_time", sc.Duration(),
	)

	res, err := replay.NewHarness(sc, logger).Run(ctx)
	if err != nil {
		logger.Error("replay run failed", "error", err)
		return exitFatal
	}

	// The trace dump carries every cycle for offline analysis; the report
	// below only carries the summary.
	if opts.trace != "" {
		if err := writeTrace(opts.trace, res.Trace); err != nil {
			logger.Error("trace dump failed", "error", err)
			return exitFatal
		}
		logger.Info("trace written", "path", opts.trace, "cycles", len(res.Trace))
	}

	checks := verifyRun(res, sc.Expect)
	if err := report(os.Stdout, opts.output, res.Summary(), checks); err != nil {
		logger.Error("report failed", "error", err)
		return exitFatal
	}

	if checks.HasViolations() {
		return exitFail
	}
	return exitPass
}

func report(w io.Writer, format string, sum replay.Summary, checks CheckResult) error {
	if format == "json" {
		return printJSONReport(w, sum, checks)
	}
	printTextReport(w, sum, checks)
	return nil
}

func writeTrace(path string, trace []replay.CycleTrace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(trace)
}
