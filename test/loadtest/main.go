// Package main implements a soak harness for the longitudinal planner core.
// It runs planner instances flat out against a synthetic closed-loop drive,
// measuring per-cycle latency against the 50ms actuation budget and checking
// that every emitted plan stays inside the published envelope.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -duration 30s \
//	  -concurrency 4 \
//	  -profile sport \
//	  -coast=true \
//	  -seed 7 \
//	  -verify
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/fcw"
	"github.com/juny6654/longplan/internal/lead"
	"github.com/juny6654/longplan/internal/planner"
	"github.com/juny6654/longplan/internal/smoother"
	"github.com/juny6654/longplan/internal/tuning"
)

// cycleBudget is the wall time one Update may take before the real loop
// would miss its actuation slot.
var cycleBudget = time.Duration(planner.ActuationStep * float64(time.Second))

// Envelope bounds for emitted accel targets. The lead model's brake
// authority bottoms out at -4 m/s² and the sport cruise table tops out at
// 3.5; anything outside these is a solver fault, not driving.
const (
	envelopeAccelMin = -4.5
	envelopeAccelMax = 4.0
)

// latencySampleEvery thins latency recording so a multi-million cycle soak
// does not spend its memory on samples.
const latencySampleEvery = 64

func main() {
	var (
		duration    = flag.Duration("duration", 30*time.Second, "Soak duration")
		concurrency = flag.Int("concurrency", 4, "Number of parallel planner instances")
		profileFlag = flag.String("profile", "normal", "Accel profile (normal, eco, sport)")
		coastFlag   = flag.Bool("coast", true, "Enable the cruise coast band")
		seed        = flag.Int64("seed", 1, "Base seed for the synthetic drives")
		verify      = flag.Bool("verify", false, "Run post-soak plan hygiene verification")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	profile := model.ParseAccelProfile(*profileFlag)

	logger.Info("soak configuration",
		"duration", *duration,
		"concurrency", *concurrency,
		"profile", profile,
		"coast", *coastFlag,
		"seed", *seed,
	)

	// Engagement changes and collision warnings log at info. At soak cycle
	// rates that would drown the report, so planner instances get a quieter
	// handler.
	plannerLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	tun := tuning.Fixed(planner.Tuning{
		AccelProfile:      profile,
		CoastEnabled:      *coastFlag,
		LimitAccelInTurns: true,
		SlowOnCurves:      false,
	})

	// Set up context with signal handling.
	ctx, cancel := context.WithTimeout(context.Background(), *duration+10*time.Second)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Stats collection.
	var (
		aggMu sync.Mutex
		agg   soakCounters

		latenciesMu sync.Mutex
		latenciesNs []int64

		violationsMu     sync.Mutex
		violationSamples []string
	)

	recordLatency := func(d time.Duration) {
		latenciesMu.Lock()
		latenciesNs = append(latenciesNs, d.Nanoseconds())
		latenciesMu.Unlock()
	}

	recordViolation := func(workerID int, cycle uint64, segment, msg string) {
		violationsMu.Lock()
		if len(violationSamples) < 5 {
			violationSamples = append(violationSamples, fmt.Sprintf("worker %d cycle %d [%s]: %s", workerID, cycle, segment, msg))
		}
		violationsMu.Unlock()
	}

	// Worker function: each worker soaks its own planner instance. A planner
	// is single-threaded by contract, so concurrency multiplies instances
	// rather than sharing one.
	worker := func(workerID int) {
		var c soakCounters
		defer func() {
			aggMu.Lock()
			agg.add(c)
			aggMu.Unlock()
		}()

		rng := rand.New(rand.NewSource(*seed + int64(workerID)))
		drive := newSyntheticDrive(rng)

		p := planner.New(
			model.DefaultVehicleParams(),
			smoother.New(),
			lead.New(), lead.New(),
			fcw.New(),
			tun,
			plannerLogger.With("worker", workerID),
		)

		var prevCycle uint64
		first := true
		deadline := time.Now().Add(*duration)

		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			default:
			}

			in := drive.input()
			if !in.Fresh {
				c.staleInjected++
			}

			start := time.Now()
			plan := p.Update(ctx, in)
			elapsed := time.Since(start)

			if elapsed > cycleBudget {
				c.overruns++
			}
			if c.cycles%latencySampleEvery == 0 {
				recordLatency(elapsed)
			}
			c.cycles++

			// Envelope checks, inlined so a regression is caught on the cycle
			// it happens rather than smeared into aggregates.
			seg := drive.segmentName()
			switch {
			case math.IsNaN(plan.VTarget) || math.IsInf(plan.VTarget, 0) || plan.VTarget < 0:
				c.violations++
				recordViolation(workerID, plan.Cycle, seg, fmt.Sprintf("v_target out of range: %v", plan.VTarget))
			case math.IsNaN(plan.ATarget) || math.IsInf(plan.ATarget, 0) ||
				plan.ATarget < envelopeAccelMin || plan.ATarget > envelopeAccelMax:
				c.violations++
				recordViolation(workerID, plan.Cycle, seg, fmt.Sprintf("a_target out of range: %v", plan.ATarget))
			case math.IsNaN(plan.VTargetFuture) || math.IsInf(plan.VTargetFuture, 0) || plan.VTargetFuture < 0:
				c.violations++
				recordViolation(workerID, plan.Cycle, seg, fmt.Sprintf("v_target_future out of range: %v", plan.VTargetFuture))
			case !plan.Source.IsCruise() && !plan.Source.IsLead():
				c.violations++
				recordViolation(workerID, plan.Cycle, seg, fmt.Sprintf("unknown plan source %q", plan.Source))
			case !first && plan.Cycle != prevCycle+1:
				c.violations++
				recordViolation(workerID, plan.Cycle, seg, fmt.Sprintf("cycle counter jumped from %d", prevCycle))
			}
			prevCycle = plan.Cycle
			first = false

			switch {
			case plan.Source == model.SourceCruiseCoast:
				c.coast++
			case plan.Source == model.SourceCruiseGas:
				c.gas++
			case plan.Source == model.SourceCruiseBrake:
				c.brake++
			case plan.Source.IsLead():
				c.leadWins++
			}
			if plan.FCW {
				c.fcw++
			}
			if !plan.Valid {
				c.staleMarked++
			}

			drive.observe(plan)
		}
	}

	// Run all workers in parallel.
	logger.Info("starting soak", "workers", *concurrency, "duration", *duration)
	testStart := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id)
		}(i)
	}
	wg.Wait()

	testDuration := time.Since(testStart)

	// Compute statistics.
	latenciesMu.Lock()
	allLatencies := make([]int64, len(latenciesNs))
	copy(allLatencies, latenciesNs)
	latenciesMu.Unlock()

	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

	p50 := percentile(allLatencies, 50)
	p95 := percentile(allLatencies, 95)
	p99 := percentile(allLatencies, 99)

	cyclesPerSec := float64(agg.cycles) / testDuration.Seconds()
	perWorker := cyclesPerSec / float64(*concurrency)

	coastLabel := "on"
	if !*coastFlag {
		coastLabel = "off"
	}

	// Print report.
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       PLANNER SOAK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:       %s\n", testDuration.Round(time.Millisecond))
	fmt.Printf("Workers:        %d\n", *concurrency)
	fmt.Printf("Profile:        %s (coast %s)\n", profile, coastLabel)
	fmt.Printf("Seed:           %d\n", *seed)
	fmt.Println("----------------------------------------")
	fmt.Println("Throughput:")
	fmt.Printf("  Cycles:       %d\n", agg.cycles)
	fmt.Printf("  Cycles/sec:   %.2f\n", cyclesPerSec)
	fmt.Printf("  Per worker:   %.2f\n", perWorker)
	fmt.Println("----------------------------------------")
	fmt.Println("Latency (per cycle):")
	fmt.Printf("  p50:          %s\n", formatNanos(p50))
	fmt.Printf("  p95:          %s\n", formatNanos(p95))
	fmt.Printf("  p99:          %s\n", formatNanos(p99))
	fmt.Printf("  Budget overruns (>%s): %d\n", cycleBudget, agg.overruns)
	fmt.Println("----------------------------------------")
	fmt.Println("Plan mix:")
	fmt.Printf("  coast:        %d\n", agg.coast)
	fmt.Printf("  gas:          %d\n", agg.gas)
	fmt.Printf("  brake:        %d\n", agg.brake)
	fmt.Printf("  lead:         %d\n", agg.leadWins)
	fmt.Printf("  FCW cycles:   %d\n", agg.fcw)
	fmt.Printf("  stale plans:  %d\n", agg.staleMarked)
	fmt.Println("----------------------------------------")
	fmt.Println("Errors:")
	fmt.Printf("  Envelope violations: %d\n", agg.violations)
	for _, s := range violationSamples {
		fmt.Printf("    %s\n", s)
	}
	fmt.Println("========================================")

	failures := agg.violations

	// Run post-soak plan hygiene verification if requested.
	if *verify {
		if verifyPlanHygiene(agg, *coastFlag, violationSamples) {
			failures++
		}
	}

	if failures > 0 {
		os.Exit(1)
	}
}

// soakCounters aggregates per-worker observations. Workers keep a local copy
// and fold it in once on exit so the hot loop never touches shared state.
type soakCounters struct {
	cycles   int64
	overruns int64

	coast    int64
	gas      int64
	brake    int64
	leadWins int64

	fcw           int64
	staleInjected int64
	staleMarked   int64

	violations int64
}

func (c *soakCounters) add(o soakCounters) {
	c.cycles += o.cycles
	c.overruns += o.overruns
	c.coast += o.coast
	c.gas += o.gas
	c.brake += o.brake
	c.leadWins += o.leadWins
	c.fcw += o.fcw
	c.staleInjected += o.staleInjected
	c.staleMarked += o.staleMarked
	c.violations += o.violations
}

// checkResult holds the outcome of a single verification check.
type checkResult struct {
	Name   string
	Passed bool
	Detail string
}

// verifyPlanHygiene runs post-soak consistency checks over the aggregated
// counters. It returns true if any check failed.
func verifyPlanHygiene(agg soakCounters, coastEnabled bool, samples []string) bool {
	var results []checkResult

	// Check 1: no plan left the published envelope.
	results = append(results, verifyEnvelope(agg, samples))

	// Check 2: every injected stale cycle surfaced as an invalid plan.
	results = append(results, verifyStaleMarking(agg))

	// Check 3: the drive script exercised every plan source.
	results = append(results, verifySourceCoverage(agg, coastEnabled))

	// Check 4: the collision warner fired on the hard-braking leads.
	results = append(results, verifyFCWFired(agg))

	// Print verification report.
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("      PLAN HYGIENE VERIFICATION")
	fmt.Println("========================================")

	anyFailed := false
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			anyFailed = true
		}
		fmt.Printf("  [%s] %s\n", status, r.Name)
		if r.Detail != "" {
			fmt.Printf("         %s\n", r.Detail)
		}
	}

	fmt.Println("----------------------------------------")
	if anyFailed {
		fmt.Println("  Result: SOME CHECKS FAILED")
	} else {
		fmt.Println("  Result: ALL CHECKS PASSED")
	}
	fmt.Println("========================================")

	return anyFailed
}

func verifyEnvelope(agg soakCounters, samples []string) checkResult {
	name := "plan targets stayed inside the envelope"
	if agg.violations > 0 {
		detail := fmt.Sprintf("found %d violation(s)", agg.violations)
		if len(samples) > 0 {
			detail += fmt.Sprintf(" [first: %s]", samples[0])
		}
		return checkResult{Name: name, Passed: false, Detail: detail}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("%d cycles, 0 violations", agg.cycles)}
}

func verifyStaleMarking(agg soakCounters) checkResult {
	name := "stale inputs surfaced as invalid plans"
	if agg.staleMarked != agg.staleInjected {
		return checkResult{
			Name:   name,
			Passed: false,
			Detail: fmt.Sprintf("injected %d stale cycles, %d plans marked invalid", agg.staleInjected, agg.staleMarked),
		}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("injected %d, marked %d", agg.staleInjected, agg.staleMarked)}
}

func verifySourceCoverage(agg soakCounters, coastEnabled bool) checkResult {
	name := "every plan source won cycles"
	missing := ""
	if coastEnabled && agg.coast == 0 {
		missing += " coast"
	}
	if agg.gas == 0 {
		missing += " gas"
	}
	if agg.brake == 0 {
		missing += " brake"
	}
	if agg.leadWins == 0 {
		missing += " lead"
	}
	detail := fmt.Sprintf("coast=%d gas=%d brake=%d lead=%d", agg.coast, agg.gas, agg.brake, agg.leadWins)
	if missing != "" {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("never won:%s (%s)", missing, detail)}
	}
	return checkResult{Name: name, Passed: true, Detail: detail}
}

func verifyFCWFired(agg soakCounters) checkResult {
	name := "collision warner fired on hard-braking leads"
	if agg.fcw == 0 {
		return checkResult{Name: name, Passed: false, Detail: "0 FCW cycles across the whole soak"}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("%d FCW cycles", agg.fcw)}
}

// soakEpoch anchors the simulated cycle clock. Time-dependent planner state
// keys off ReceivedAt, so a fixed epoch keeps runs with the same seed
// identical regardless of wall time.
var soakEpoch = time.Unix(1700000000, 0).UTC()

// Off-pedal driveline model for coasting cycles: the accel the car settles
// to with no pedal applied, and the settling time constant.
const (
	coastDragAccel = -0.06
	coastDragTau   = 0.5
)

// soakSegment is one stretch of the synthetic drive under a fixed
// environment. The enter hook mutates the persistent drive state once at the
// segment boundary, which is how a lead carries over between segments
// without a track jump.
type soakSegment struct {
	name       string
	cycles     int
	state      model.LongControlState
	setKph     float64
	steering   float64
	forceDecel bool
	gasPressed bool

	// staleOdds is the denominator of a per-cycle chance the input reports
	// stale. Zero disables injection for the segment.
	staleOdds int

	enter func(d *syntheticDrive)
}

// soakLead is a live radar track integrated across cycles.
type soakLead struct {
	present bool
	gap     float64
	v       float64
	a       float64
	fcwFlag bool
}

// syntheticDrive generates a deterministic closed-loop drive. Each lap walks
// the same segment shapes with freshly drawn parameters: engage on an empty
// road, follow a lead through a cut-in, a hard brake, and a departure, then
// a setpoint drop, a curve stretch, forced decel, a driver gas tap, and a
// stale patch. The ego tracks the emitted plan the same way the downstream
// controller would.
type syntheticDrive struct {
	rng  *rand.Rand
	segs []soakSegment
	idx  int
	used int

	clock time.Time
	vEgo  float64
	aEgo  float64
	lead  soakLead
}

func newSyntheticDrive(rng *rand.Rand) *syntheticDrive {
	d := &syntheticDrive{rng: rng, clock: soakEpoch}
	d.segs = buildLap(rng, true)
	d.segs[0].enter(d)
	return d
}

// buildLap draws one lap of segments. The first lap opens with a disengaged
// warmup so the planner sees its first-cycle reset path; later laps roll
// straight from the previous one.
func buildLap(rng *rand.Rand, warmup bool) []soakSegment {
	setKph := 80.0 + rng.Float64()*40.0

	segs := []soakSegment{}
	if warmup {
		v0 := 10.0 + rng.Float64()*5.0
		segs = append(segs, soakSegment{
			name:   "warmup",
			cycles: 40,
			state:  model.LongControlOff,
			setKph: setKph,
			enter: func(d *syntheticDrive) {
				d.vEgo = v0
				d.aEgo = 0
				d.lead = soakLead{}
			},
		})
	}

	cutGap := 32.0 + rng.Float64()*12.0
	cutDecel := -(0.6 + rng.Float64()*0.6)
	hardDecel := -(3.2 + rng.Float64()*0.6)
	departAccel := 0.9 + rng.Float64()*0.6
	curveDeg := 22.0 + rng.Float64()*16.0

	segs = append(segs,
		soakSegment{
			name:   "cruise empty road",
			cycles: 400,
			state:  model.LongControlPID,
			setKph: setKph,
			enter:  func(d *syntheticDrive) { d.lead = soakLead{} },
		},
		soakSegment{
			name:   "lead cut-in",
			cycles: 300,
			state:  model.LongControlPID,
			setKph: setKph,
			enter: func(d *syntheticDrive) {
				d.lead = soakLead{present: true, gap: cutGap, v: d.vEgo * 0.9, a: cutDecel}
			},
		},
		soakSegment{
			// The lead keeps its gap and speed from the previous segment so
			// the warner's settle clock is not reset by a track jump.
			name:   "lead hard brake",
			cycles: 120,
			state:  model.LongControlPID,
			setKph: setKph,
			enter: func(d *syntheticDrive) {
				d.lead.a = hardDecel
				d.lead.fcwFlag = true
			},
		},
		soakSegment{
			name:   "lead departs",
			cycles: 200,
			state:  model.LongControlPID,
			setKph: setKph,
			enter: func(d *syntheticDrive) {
				d.lead.a = departAccel
				d.lead.fcwFlag = false
			},
		},
		soakSegment{
			// Dropping the set speed well below the current speed forces the
			// brake sub-state.
			name:   "setpoint drop",
			cycles: 200,
			state:  model.LongControlPID,
			setKph: setKph * 0.55,
			enter:  func(d *syntheticDrive) { d.lead = soakLead{} },
		},
		soakSegment{
			name:     "curves",
			cycles:   200,
			state:    model.LongControlPID,
			setKph:   setKph,
			steering: curveDeg,
			enter:    func(d *syntheticDrive) {},
		},
		soakSegment{
			name:       "awareness decel",
			cycles:     100,
			state:      model.LongControlPID,
			setKph:     setKph,
			forceDecel: true,
			enter:      func(d *syntheticDrive) {},
		},
		soakSegment{
			name:       "driver gas tap",
			cycles:     60,
			state:      model.LongControlPID,
			setKph:     setKph,
			gasPressed: true,
			enter:      func(d *syntheticDrive) { d.aEgo = 0.6 },
		},
		soakSegment{
			name:      "stale patch",
			cycles:    100,
			state:     model.LongControlPID,
			setKph:    setKph,
			staleOdds: 10,
			enter:     func(d *syntheticDrive) { d.aEgo = 0 },
		},
	)
	return segs
}

func (d *syntheticDrive) segment() *soakSegment {
	return &d.segs[d.idx]
}

// segmentName labels the current script position for diagnostics.
func (d *syntheticDrive) segmentName() string {
	return d.segs[d.idx].name
}

// input synthesizes the cycle snapshot for the current position.
func (d *syntheticDrive) input() model.CycleInput {
	seg := d.segment()

	fresh := true
	if seg.staleOdds > 0 && d.rng.Intn(seg.staleOdds) == 0 {
		fresh = false
	}

	return model.CycleInput{
		Vehicle: model.VehicleState{
			VEgo:             d.vEgo,
			AEgo:             d.aEgo,
			SteeringAngleDeg: seg.steering,
			GasPressed:       seg.gasPressed,
			Standstill:       d.vEgo < 0.01,
		},
		Controls: model.ControlsState{
			State:      seg.state,
			Active:     seg.state.Engaged(),
			VCruiseKph: seg.setKph,
			ForceDecel: seg.forceDecel,
		},
		LeadOne:    d.lead.toModel(d.vEgo),
		Fresh:      fresh,
		ReceivedAt: d.clock,
	}
}

func (l soakLead) toModel(vEgo float64) model.Lead {
	if !l.present {
		return model.Lead{}
	}
	return model.Lead{
		Status: true,
		DRel:   l.gap,
		VRel:   l.v - vEgo,
		VLead:  l.v,
		VLeadK: l.v,
		ALeadK: l.a,
		FCW:    l.fcwFlag,
	}
}

// observe advances the drive one cycle using the plan emitted for the input
// just served.
func (d *syntheticDrive) observe(plan model.Plan) {
	seg := d.segment()

	if d.lead.present {
		d.lead.gap += (d.lead.v - d.vEgo) * planner.ActuationStep
		d.lead.v = math.Max(0.0, d.lead.v+d.lead.a*planner.ActuationStep)
	}

	switch {
	case seg.gasPressed || !seg.state.Engaged():
		// The driver has the car. Integrate the measured accel and ignore
		// the plan.
		d.vEgo = math.Max(0.0, d.vEgo+d.aEgo*planner.ActuationStep)
	case plan.Source == model.SourceCruiseCoast:
		// A coast plan mirrors the measured state instead of commanding one.
		// Model the off-pedal driveline: accel relaxes toward light drag and
		// speed follows.
		d.aEgo += (coastDragAccel - d.aEgo) * (planner.ActuationStep / coastDragTau)
		d.vEgo = math.Max(0.0, d.vEgo+d.aEgo*planner.ActuationStep)
	default:
		// Perfect tracking of the plan's interpolated step, mirroring what
		// the downstream controller commands.
		aNext := plan.AStart + (planner.ActuationStep/planner.PlanStep)*(plan.ATarget-plan.AStart)
		d.vEgo = math.Max(0.0, plan.VStart+planner.ActuationStep*(plan.AStart+aNext)/2.0)
		d.aEgo = aNext
	}

	d.clock = d.clock.Add(cycleBudget)
	d.used++
	if d.used < seg.cycles {
		return
	}
	d.used = 0
	d.idx++
	if d.idx >= len(d.segs) {
		d.segs = buildLap(d.rng, false)
		d.idx = 0
	}
	d.segs[d.idx].enter(d)
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// formatNanos formats nanoseconds as a human-readable duration string.
func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
