package planner

import (
	"math"

	"github.com/juny6654/longplan/internal/domain/model"
)

// TrajectorySmoother produces the speed and accel one step of dt along a
// jerk-limited profile from (vStart, aStart) toward vTarget.
type TrajectorySmoother interface {
	Step(vStart, aStart, vTarget, aMax, aMin, jMax, jMin, dt float64) (v, a float64)
}

// CruiseInputs is everything the cruise strategy reads for one cycle.
// AnchorV and AnchorA are the continuity anchor after the inter-cycle shift.
type CruiseInputs struct {
	VEgo float64
	AEgo float64

	Setpoint float64

	AnchorV float64
	AnchorA float64

	Limits AccelLimits
	Jerk   JerkLimits

	// GasBrake is the last actuator command, gas minus brake. The sub-state
	// only re-evaluates its entry conditions when it is zero.
	GasBrake float64

	// PrevSource is the previous cycle's arbitrated plan source. Coming out
	// of coast the anchor is stale, and coming out of a lead plan the
	// sub-state is re-seeded from the actuator sign.
	PrevSource model.PlanSource
}

// CruiseResult carries the chosen cruise solution. AnchorV and AnchorA echo
// the anchor actually used, which differs from the input anchor when the
// strategy re-anchored to the measured state after a coast.
type CruiseResult struct {
	V float64
	A float64

	Source model.PlanSource

	AnchorV float64
	AnchorA float64
}

// CruiseStrategy is the coast/gas/brake sub-state machine for cruising with
// no lead constraint. Gas plans toward the setpoint, brake plans toward
// setpoint+CoastMargin, and coast mirrors the measured state between them.
// The sub-state persists across cycles, which is what gives the band its
// hysteresis.
type CruiseStrategy struct {
	smoother TrajectorySmoother

	coastEnabled bool
	source       model.PlanSource
}

func NewCruiseStrategy(smoother TrajectorySmoother) *CruiseStrategy {
	return &CruiseStrategy{
		smoother:     smoother,
		coastEnabled: true,
		source:       model.SourceCruiseCoast,
	}
}

// SetCoastEnabled switches between the banded machine and plain setpoint
// tracking. Tunable at runtime.
func (c *CruiseStrategy) SetCoastEnabled(enabled bool) {
	c.coastEnabled = enabled
}

// Source returns the current cruise sub-state.
func (c *CruiseStrategy) Source() model.PlanSource {
	return c.source
}

// Reset forces the sub-state back to coast. Called on the planner's safety
// reset path.
func (c *CruiseStrategy) Reset() {
	c.source = model.SourceCruiseCoast
}

// Propose computes this cycle's cruise solution.
func (c *CruiseStrategy) Propose(in CruiseInputs) CruiseResult {
	if !c.coastEnabled {
		c.source = model.SourceCruiseGas
		v, a := c.smoother.Step(in.AnchorV, in.AnchorA, in.Setpoint,
			in.Limits.Max, in.Limits.Min, in.Jerk.Max, in.Jerk.Min, PlanStep)
		return CruiseResult{V: math.Max(v, 0.0), A: a, Source: c.source, AnchorV: in.AnchorV, AnchorA: in.AnchorA}
	}

	anchorV, anchorA := in.AnchorV, in.AnchorA
	switch {
	case in.PrevSource == model.SourceCruiseCoast:
		// While coasting the gas and brake plans were not being actuated,
		// so their anchor has drifted from reality. Restart them from the
		// measured state.
		anchorV, anchorA = in.VEgo, in.AEgo
	case in.PrevSource.IsLead():
		if in.GasBrake >= 0 {
			c.source = model.SourceCruiseGas
		} else {
			c.source = model.SourceCruiseBrake
		}
	}

	vCoast, aCoast := in.VEgo, in.AEgo
	vGas, aGas := c.smoother.Step(anchorV, anchorA, in.Setpoint,
		in.Limits.Max, in.Limits.Min, in.Jerk.Max, in.Jerk.Min, PlanStep)
	vBrake, aBrake := c.smoother.Step(anchorV, anchorA, in.Setpoint+CoastMargin,
		in.Limits.Max, in.Limits.Min, in.Jerk.Max, in.Jerk.Min, PlanStep)

	// Entry conditions. Only re-evaluated with the actuators at rest so a
	// plan in progress is not abandoned mid-push.
	if in.GasBrake == 0 {
		switch {
		case aBrake <= aCoast:
			c.source = model.SourceCruiseBrake
		case aGas >= aCoast:
			c.source = model.SourceCruiseGas
		case aBrake >= aCoast && aCoast >= aGas:
			c.source = model.SourceCruiseCoast
		}
	}

	res := CruiseResult{Source: c.source, AnchorV: anchorV, AnchorA: anchorA}
	switch c.source {
	case model.SourceCruiseGas:
		res.V, res.A = vGas, aGas
	case model.SourceCruiseBrake:
		res.V, res.A = vBrake, aBrake
	default:
		res.V, res.A = vCoast, aCoast
	}

	// A distracted-driver decel envelope can push the plan negative. Cruise
	// never commands reverse.
	res.V = math.Max(res.V, 0.0)
	return res
}
