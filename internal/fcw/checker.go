// Package fcw raises forward collision warnings when the radar flags a
// threatening lead and the planned braking corroborates it.
package fcw

import (
	"math"
	"time"

	"github.com/juny6654/longplan/internal/planner"
)

const (
	maxTTC       = 5.0
	ttcThreshold = 2.5

	// Below this ego speed a warning is noise; the driver brakes faster
	// than they can read an alert.
	minEgoSpeed = 5.0

	// The lead must have been seen moving at some point. Filters parked
	// cars and overhead signs that the radar occasionally promotes.
	minLeadSeenSpeed = 2.5

	// The tracker must be planning at least this hard a brake before the
	// radar flag is trusted.
	hardBrakePlanned = -3.0

	// Consecutive risky cycles before raising.
	confirmCycles = 5

	leadSettleTime = 2 * time.Second
	repeatInterval = 5 * time.Second
)

// Checker debounces forward collision warnings. A warning needs the radar's
// own flag, a short time to collision, and planned hard braking to hold for
// confirmCycles in a row, on a lead that has been tracked long enough to
// trust. Not safe for concurrent use.
type Checker struct {
	leadSeenAt time.Time
	lastRaised time.Time
	vLeadMax   float64
	streak     int
}

func New() *Checker {
	return &Checker{}
}

// ResetLead clears per-lead history. Called when the tracker acquires a new
// lead, so evidence from the old track never carries over.
func (c *Checker) ResetLead(now time.Time) {
	c.leadSeenAt = now
	c.vLeadMax = 0.0
	c.streak = 0
}

// Update evaluates one cycle and reports whether a warning fires.
func (c *Checker) Update(now time.Time, in planner.FCWInputs) bool {
	c.vLeadMax = math.Max(c.vLeadMax, in.Lead.VLead)

	if !in.Active || !in.Lead.Status || !in.Lead.FCW || in.Blinkers {
		c.streak = 0
		return false
	}

	ttc := TimeToCollision(in.VEgo, in.AEgo, in.Lead.DRel, in.Lead.VLead, in.Lead.ALeadK)
	risky := in.VEgo > minEgoSpeed &&
		ttc < ttcThreshold &&
		c.vLeadMax > minLeadSeenSpeed &&
		in.PlannedMinAccel < hardBrakePlanned
	if !risky {
		c.streak = 0
		return false
	}

	c.streak++
	if c.streak < confirmCycles {
		return false
	}
	if now.Sub(c.leadSeenAt) < leadSettleTime {
		return false
	}
	if !c.lastRaised.IsZero() && now.Sub(c.lastRaised) < repeatInterval {
		return false
	}

	c.lastRaised = now
	return true
}

// TimeToCollision solves the constant-relative-accel closing equation for
// the time the gap reaches zero, capped at maxTTC. The closing accel is
// limited so a slowing lead is never extrapolated through zero speed, which
// would otherwise inflate the threat from a lead gently stopping far ahead.
func TimeToCollision(vEgo, aEgo, dRel, vLead, aLead float64) float64 {
	vRel := vEgo - vLead
	aRel := aEgo - aLead

	const tDecel = 2.0
	aRel = math.Min(aRel, vLead/tDecel)

	delta := vRel*vRel + 2.0*dRel*aRel
	if delta < 0.1 || math.Sqrt(delta)+vRel < 0.1 {
		return maxTTC
	}
	return math.Min(2.0*dRel/(math.Sqrt(delta)+vRel), maxTTC)
}
