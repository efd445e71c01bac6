package planner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/metrics"
	"github.com/juny6654/longplan/internal/tracing"
)

// TuningRefreshCycles is how often the tuning file is re-read, in cycles.
const TuningRefreshCycles = 1000

// LeadSolution is one lead tracker's proposal for the cycle.
type LeadSolution struct {
	V       float64
	A       float64
	VFuture float64

	// MinAccel is the most negative accel anywhere on the tracker's planned
	// horizon, used by the collision warner to see planned hard braking.
	MinAccel float64

	HasLead bool
	NewLead bool
}

// LeadTracker follows one radar track and proposes a solution that closes on
// it at a safe gap. Trackers keep running on a synthetic distant lead when
// the track drops so their solution stays warm.
type LeadTracker interface {
	SetCurrentState(v, a float64)
	Update(vehicle model.VehicleState, lead model.Lead)
	Solution() LeadSolution
}

// FCWInputs is everything the collision warner sees each cycle.
type FCWInputs struct {
	Active          bool
	VEgo            float64
	AEgo            float64
	Lead            model.Lead
	PlannedMinAccel float64
	Blinkers        bool
}

// CollisionWarner debounces forward collision warnings across cycles.
type CollisionWarner interface {
	ResetLead(now time.Time)
	Update(now time.Time, in FCWInputs) bool
}

// Tuning is the runtime-adjustable planner behavior, re-read from the tuning
// store every TuningRefreshCycles.
type Tuning struct {
	AccelProfile      model.AccelProfile
	CoastEnabled      bool
	LimitAccelInTurns bool
	SlowOnCurves      bool
}

// TuningSource provides the current tuning snapshot. Snapshot is expected to
// be cheap enough to call from the planning loop.
type TuningSource interface {
	Snapshot() Tuning
}

// Planner is the longitudinal decision core. Each Update consumes one input
// snapshot and produces one Plan, carrying continuity state between cycles
// through the bridge. Not safe for concurrent use.
type Planner struct {
	params model.VehicleParams
	logger *slog.Logger

	cruise  *CruiseStrategy
	leadOne LeadTracker
	leadTwo LeadTracker
	warner  CollisionWarner
	bridge  ContinuityBridge

	tuningSource TuningSource
	tun          Tuning

	driveID string
	cycle   uint64

	vStart, aStart   float64
	vCruise, aCruise float64
	vTarget, aTarget float64
	vTargetFuture    float64

	source      model.PlanSource
	fcwActive   bool
	firstLoop   bool
	wasEngaged  bool
}

func New(
	params model.VehicleParams,
	smoother TrajectorySmoother,
	leadOne LeadTracker,
	leadTwo LeadTracker,
	warner CollisionWarner,
	tuningSource TuningSource,
	logger *slog.Logger,
) *Planner {
	p := &Planner{
		params:       params,
		logger:       logger.With("component", "planner"),
		cruise:       NewCruiseStrategy(smoother),
		leadOne:      leadOne,
		leadTwo:      leadTwo,
		warner:       warner,
		tuningSource: tuningSource,
		driveID:      uuid.NewString(),
		source:       model.SourceCruiseCoast,
		firstLoop:    true,
	}
	p.tun = tuningSource.Snapshot()
	p.cruise.SetCoastEnabled(p.tun.CoastEnabled)
	return p
}

// DriveID identifies this planner instance's session in published plans.
func (p *Planner) DriveID() string {
	return p.driveID
}

// Update runs one planning cycle.
func (p *Planner) Update(ctx context.Context, in model.CycleInput) model.Plan {
	_, span := tracing.Tracer("planner").Start(ctx, "planner.update",
		otelTrace.WithAttributes(
			attribute.String("drive_id", p.driveID),
			attribute.Int64("cycle", int64(p.cycle)),
		),
	)
	defer span.End()

	if p.cycle%TuningRefreshCycles == 0 {
		p.tun = p.tuningSource.Snapshot()
		p.cruise.SetCoastEnabled(p.tun.CoastEnabled)
		p.logger.Debug("tuning refreshed",
			"accel_profile", p.tun.AccelProfile,
			"coast_enabled", p.tun.CoastEnabled,
			"limit_accel_in_turns", p.tun.LimitAccelInTurns,
			"slow_on_curves", p.tun.SlowOnCurves,
		)
	}

	vEgo := in.Vehicle.VEgo
	aEgo := in.Vehicle.AEgo

	setpoint := math.Min(in.Controls.VCruiseKph, model.VCruiseMaxKph) * model.KphToMs
	enabled := in.Controls.State.Engaged()
	following := in.LeadOne.IsFollowing(vEgo)

	if enabled != p.wasEngaged {
		p.logger.Info("longitudinal control state changed",
			"engaged", enabled,
			"state", in.Controls.State,
			"v_ego", vEgo,
		)
		p.wasEngaged = enabled
	}

	// Shift the previous cycle's interpolated solution into the anchor.
	p.vStart, p.aStart = p.bridge.Anchor()

	if enabled && !p.firstLoop && !in.Vehicle.GasPressed {
		limits := CruiseAccelLimits(vEgo, following, p.tun.AccelProfile)
		jerk := JerkLimitsFor(limits)
		if p.tun.LimitAccelInTurns {
			limits = LimitAccelInTurns(vEgo, in.Vehicle.SteeringAngleDeg, limits, p.tun.SlowOnCurves, p.params)
		}
		if in.Controls.ForceDecel {
			limits = ApplyForcedDecel(limits)
		}

		res := p.cruise.Propose(CruiseInputs{
			VEgo:       vEgo,
			AEgo:       aEgo,
			Setpoint:   setpoint,
			AnchorV:    p.vStart,
			AnchorA:    p.aStart,
			Limits:     limits,
			Jerk:       jerk,
			GasBrake:   in.Actuators.GasBrake(),
			PrevSource: p.source,
		})
		p.vStart, p.aStart = res.AnchorV, res.AnchorA
		p.vCruise, p.aCruise = res.V, res.A
	} else {
		p.reset(in)
	}

	p.leadOne.SetCurrentState(p.vStart, p.aStart)
	p.leadTwo.SetCurrentState(p.vStart, p.aStart)
	p.leadOne.Update(in.Vehicle, in.LeadOne)
	p.leadTwo.Update(in.Vehicle, in.LeadTwo)

	solOne := p.leadOne.Solution()
	solTwo := p.leadTwo.Solution()

	if enabled {
		cands := make([]Candidate, 0, 3)
		cands = append(cands, Candidate{Source: p.cruise.Source(), V: p.vCruise, A: p.aCruise})
		if solOne.HasLead {
			cands = append(cands, Candidate{Source: model.SourceLeadOne, V: solOne.V, A: solOne.A})
		}
		if solTwo.HasLead {
			cands = append(cands, Candidate{Source: model.SourceLeadTwo, V: solTwo.V, A: solTwo.A})
		}
		winner, _ := Arbitrate(cands)
		if winner.Source != p.source {
			p.logger.Debug("plan source changed", "from", p.source, "to", winner.Source, "v_target", winner.V)
		}
		p.source = winner.Source
		p.vTarget, p.aTarget = winner.V, winner.A
	}
	p.vTargetFuture = FutureFloor(setpoint, solOne.VFuture, solTwo.VFuture)

	if solOne.NewLead {
		p.warner.ResetLead(in.ReceivedAt)
	}
	fcwRaised := p.warner.Update(in.ReceivedAt, FCWInputs{
		Active:          in.Controls.Active,
		VEgo:            vEgo,
		AEgo:            in.Vehicle.AEgo,
		Lead:            in.LeadOne,
		PlannedMinAccel: solOne.MinAccel,
		Blinkers:        in.Vehicle.Blinkers(),
	})
	p.fcwActive = fcwRaised && !in.Vehicle.BrakePressed
	if p.fcwActive {
		p.logger.Info("forward collision warning triggered",
			"v_ego", vEgo,
			"d_rel", in.LeadOne.DRel,
			"v_lead", in.LeadOne.VLead,
		)
		metrics.PlannerFCWTotal.Inc()
	}

	// Interpolate one actuation step and save it as the next cycle's anchor.
	p.bridge.Advance(p.vStart, p.aStart, p.vTarget, p.aTarget)

	p.firstLoop = false

	metrics.PlannerSourceTotal.WithLabelValues(p.source.String()).Inc()
	span.SetAttributes(
		attribute.String("source", p.source.String()),
		attribute.Bool("engaged", enabled),
		attribute.Bool("has_lead", solOne.HasLead),
	)

	plan := model.Plan{
		DriveID:         p.driveID,
		Cycle:           p.cycle,
		VCruise:         p.vCruise,
		ACruise:         p.aCruise,
		VStart:          p.vStart,
		AStart:          p.aStart,
		VTarget:         p.vTarget,
		ATarget:         p.aTarget,
		VTargetFuture:   p.vTargetFuture,
		Source:          p.source,
		HasLead:         solOne.HasLead,
		FCW:             p.fcwActive,
		ProcessingDelay: time.Since(in.ReceivedAt),
		Valid:           in.Fresh,
		CreatedAt:       time.Now(),
	}
	p.cycle++
	return plan
}

// reset re-seeds the whole solution from measured state. Runs whenever the
// plan is not being actuated: disengaged, first cycle, or driver on the gas.
// Positive measured accel is discarded so a plan never resumes from a value
// the controller did not command.
func (p *Planner) reset(in model.CycleInput) {
	starting := in.Controls.State == model.LongControlStarting

	resetV := in.Vehicle.VEgo
	resetA := math.Min(in.Vehicle.AEgo, 0.0)
	reason := "disengaged"
	if starting {
		resetV = p.params.MinTrackSpeed
		resetA = p.params.StartAccel
		reason = "starting"
	}
	switch {
	case p.firstLoop:
		reason = "first_cycle"
	case in.Vehicle.GasPressed:
		reason = "gas_pressed"
	}

	p.vTarget, p.aTarget = resetV, resetA
	p.vStart, p.aStart = resetV, resetA
	p.vCruise, p.aCruise = resetV, resetA
	p.cruise.Reset()
	metrics.PlannerResetsTotal.WithLabelValues(reason).Inc()
}
