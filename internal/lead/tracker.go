// Package lead plans a longitudinal solution behind a radar track using the
// intelligent driver model.
package lead

import (
	"math"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/planner"
)

const (
	// IDM tuning. Headway and gap give the steady-state following distance,
	// the brake terms shape how hard the model is willing to close or open
	// the gap.
	desiredHeadway   = 1.8
	minGap           = 4.0
	comfortAccel     = 1.5
	comfortBrake     = 2.0
	freeFlowSpeed    = 60.0
	freeFlowExponent = 4.0

	maxAccel = 1.5
	minAccel = -4.0

	// Solution smoothness between cycles.
	solutionJerk = 2.5

	// Lookahead for the future speed term, in planning steps.
	futureSteps = 10

	// Synthetic lead used when the radar track drops. Far enough ahead and
	// fast enough that the model free-accelerates, which keeps the solution
	// warm without ever winning arbitration.
	syntheticGap       = 50.0
	syntheticSpeedGain = 10.0

	// A distance jump this large on a live track means the radar swapped
	// targets and the warner history no longer applies.
	trackJumpDist = 2.5
)

// Tracker follows one radar track. SetCurrentState seeds each cycle from the
// planner's continuity anchor, Update solves one cycle, and Solution returns
// the result. Not safe for concurrent use.
type Tracker struct {
	v float64
	a float64

	hasLead  bool
	newLead  bool
	prevDRel float64

	sol planner.LeadSolution
}

func New() *Tracker {
	return &Tracker{}
}

// SetCurrentState seeds the cycle from the continuity anchor.
func (t *Tracker) SetCurrentState(v, a float64) {
	t.v = v
	t.a = a
}

// Update solves one cycle against the given track.
func (t *Tracker) Update(vehicle model.VehicleState, lead model.Lead) {
	gap := syntheticGap
	vLead := vehicle.VEgo + syntheticSpeedGain
	aLead := 0.0

	if lead.Status {
		gap = lead.DRel
		vLead = lead.VLeadK
		aLead = lead.ALeadK
		t.newLead = !t.hasLead || math.Abs(lead.DRel-t.prevDRel) > trackJumpDist
		t.prevDRel = lead.DRel
	} else {
		t.newLead = false
	}
	t.hasLead = lead.Status

	v, a := t.v, t.a
	lowest := math.Inf(1)

	// Integrate the model forward. The first step is the published solution,
	// the rest feed the future speed and the planned-braking floor.
	for i := 0; i < futureSteps; i++ {
		cmd := idmAccel(v, vLead, gap)
		a = a + clamp(cmd-a, -solutionJerk*planner.PlanStep, solutionJerk*planner.PlanStep)
		a = clamp(a, minAccel, maxAccel)
		lowest = math.Min(lowest, a)

		vNext := math.Max(0.0, v+planner.PlanStep*a)
		gap += (vLead - (v+vNext)/2.0) * planner.PlanStep
		v = vNext
		vLead = math.Max(0.0, vLead+aLead*planner.PlanStep)

		if i == 0 {
			t.sol.V = v
			t.sol.A = a
		}
	}

	t.sol.VFuture = v
	t.sol.MinAccel = lowest
	t.sol.HasLead = t.hasLead
	t.sol.NewLead = t.newLead
}

// Solution returns the last solved cycle.
func (t *Tracker) Solution() planner.LeadSolution {
	return t.sol
}

// idmAccel is the intelligent driver model acceleration for the given ego
// speed, lead speed, and gap. A closed or negative gap commands the full
// brake authority.
func idmAccel(v, vLead, gap float64) float64 {
	if gap <= 0 {
		return minAccel
	}
	sStar := minGap + math.Max(0.0, v*desiredHeadway+v*(v-vLead)/(2.0*math.Sqrt(comfortAccel*comfortBrake)))
	acc := comfortAccel * (1.0 - math.Pow(v/freeFlowSpeed, freeFlowExponent) - (sStar/gap)*(sStar/gap))
	return clamp(acc, minAccel, maxAccel)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
