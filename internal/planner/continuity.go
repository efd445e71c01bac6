package planner

// ContinuityBridge carries the solution across the cadence gap between
// planning and actuation. The plan targets sit one PlanStep out; the bridge
// interpolates them down to one ActuationStep and holds the result as the
// anchor for the next cycle.
type ContinuityBridge struct {
	vNext float64
	aNext float64
}

// Anchor returns the interpolated state saved by the previous cycle. The
// planner shifts this into (vStart, aStart) at the top of every cycle.
func (b *ContinuityBridge) Anchor() (v, a float64) {
	return b.vNext, b.aNext
}

// Advance interpolates one ActuationStep from the anchor toward the target
// and stores it. Accel interpolates linearly over the step ratio and speed
// follows by trapezoidal integration, so consecutive plans join without an
// accel discontinuity.
func (b *ContinuityBridge) Advance(vStart, aStart, vTarget, aTarget float64) (vNext, aNext float64) {
	aNext = aStart + (ActuationStep/PlanStep)*(aTarget-aStart)
	vNext = vStart + ActuationStep*(aNext+aStart)/2.0
	b.vNext, b.aNext = vNext, aNext
	return vNext, aNext
}
