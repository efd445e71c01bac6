package planner

import (
	"math"

	"github.com/juny6654/longplan/internal/domain/model"
)

// Candidate is one proposed longitudinal solution entering arbitration.
type Candidate struct {
	Source model.PlanSource
	V      float64
	A      float64
}

// Arbitrate picks the slowest candidate by target speed. Candidates are
// scanned in the order given and a tie goes to the earliest, so precedence
// is fixed by construction: cruise, then lead one, then lead two.
func Arbitrate(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.V < best.V {
			best = c
		}
	}
	return best, true
}

// FutureFloor is the lowest speed any tracker expects further out, capped by
// the setpoint. Computed every cycle whether or not longitudinal control is
// engaged, so the downstream controller always sees a sane lookahead.
func FutureFloor(setpoint float64, futures ...float64) float64 {
	floor := setpoint
	for _, f := range futures {
		floor = math.Min(floor, f)
	}
	return floor
}
