package planner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/metrics"
)

// CycleSource supplies input snapshots to the planning loop.
type CycleSource interface {
	Snapshot(ctx context.Context) (model.CycleInput, error)
}

// PlanSink receives every emitted plan. Sinks must return quickly; anything
// slow buffers internally and sheds load there, never in the loop.
type PlanSink interface {
	Accept(ctx context.Context, plan model.Plan) error
}

// Loop drives the planner at the actuation cadence and fans emitted plans
// out to the sinks. A failed snapshot skips the cycle and a failed sink is
// logged and skipped: the loop itself only stops with its context. The car
// is better served by a planner that rides through transient faults than by
// one that exits and leaves the controller without targets.
type Loop struct {
	planner  *Planner
	source   CycleSource
	sinks    []PlanSink
	interval time.Duration
	logger   *slog.Logger

	overrunWarns *rate.Limiter
}

func NewLoop(p *Planner, source CycleSource, sinks []PlanSink, logger *slog.Logger) *Loop {
	return &Loop{
		planner:  p,
		source:   source,
		sinks:    sinks,
		interval: time.Duration(ActuationStep * float64(time.Second)),
		logger:   logger.With("component", "planner_loop"),
		// Deadline misses come in bursts when the host is loaded. Warn at
		// most once per few seconds and let the counter carry the volume.
		overrunWarns: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Interval is the cycle period the loop runs at.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("planning loop started",
		"drive_id", l.planner.DriveID(),
		"interval", l.interval,
		"sinks", len(l.sinks),
	)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("planning loop stopping", "drive_id", l.planner.DriveID())
			return ctx.Err()
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	metrics.PlannerCyclesTotal.Inc()
	start := time.Now()

	in, err := l.source.Snapshot(ctx)
	if err != nil {
		metrics.PlannerInputErrors.Inc()
		l.logger.Error("input snapshot failed", "error", err)
		return
	}

	plan := l.planner.Update(ctx, in)
	if !plan.Valid {
		metrics.PlannerStaleCycles.Inc()
	}

	for _, sink := range l.sinks {
		if err := sink.Accept(ctx, plan); err != nil {
			metrics.PlannerSinkErrors.Inc()
			l.logger.Error("plan sink rejected plan", "error", err, "cycle", plan.Cycle)
		}
	}

	elapsed := time.Since(start)
	metrics.PlannerCycleDuration.Observe(elapsed.Seconds())
	if elapsed > l.interval {
		metrics.PlannerDeadlineMisses.Inc()
		if l.overrunWarns.Allow() {
			l.logger.Warn("planning cycle overran its deadline",
				"elapsed", elapsed,
				"deadline", l.interval,
				"cycle", plan.Cycle,
			)
		}
	}
}
