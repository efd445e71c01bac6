package replay

import (
	"math"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/planner"
)

// cycleDuration is the drive time one cycle covers.
var cycleDuration = time.Duration(planner.ActuationStep * float64(time.Second))

// Off-pedal driveline model for tracked cycles whose plan coasts: the accel
// the car settles to with no pedal applied, and the settling time constant.
const (
	coastDragAccel = -0.06
	coastDragTau   = 0.5
)

// scriptEpoch anchors the scripted clock. Replays key every time-dependent
// decision off this clock, so two runs of the same fixture are identical.
var scriptEpoch = time.Unix(1700000000, 0).UTC()

// cursor plays a scenario forward one cycle at a time, carrying the ego and
// lead kinematics between cycles.
type cursor struct {
	sc     *Scenario
	segIdx int
	used   int
	done   bool

	vEgo, aEgo float64
	leadOne    leadState
	leadTwo    leadState
	clock      time.Time
}

// leadState is a live radar track integrated across the cycles of a segment.
type leadState struct {
	present bool
	gap     float64
	v       float64
	a       float64
	yRel    float64
	fcw     bool
}

func newCursor(sc *Scenario) *cursor {
	c := &cursor{sc: sc, clock: scriptEpoch}
	c.enterSegment(&sc.Segments[0])
	return c
}

func (c *cursor) segment() *Segment {
	return &c.sc.Segments[c.segIdx]
}

// enterSegment applies the segment's entry pins and reseeds the radar slots.
func (c *cursor) enterSegment(seg *Segment) {
	if seg.VEgo != nil {
		c.vEgo = *seg.VEgo
	}
	if seg.AEgo != nil {
		c.aEgo = *seg.AEgo
	}
	c.leadOne = seedLead(seg.Lead)
	c.leadTwo = seedLead(seg.LeadTwo)
}

func seedLead(spec *LeadSpec) leadState {
	if spec == nil {
		return leadState{}
	}
	return leadState{
		present: true,
		gap:     spec.DRel,
		v:       spec.VLead,
		a:       spec.ALead,
		yRel:    spec.YRel,
		fcw:     spec.FCW,
	}
}

// input synthesizes the cycle snapshot for the current position.
func (c *cursor) input() model.CycleInput {
	seg := c.segment()
	return model.CycleInput{
		Vehicle: model.VehicleState{
			VEgo:             c.vEgo,
			AEgo:             c.aEgo,
			SteeringAngleDeg: seg.SteeringDeg,
			GasPressed:       seg.GasPressed,
			BrakePressed:     seg.BrakePressed,
			LeftBlinker:      seg.LeftBlinker,
			RightBlinker:     seg.RightBlinker,
			Standstill:       c.vEgo < 0.01,
		},
		Controls: model.ControlsState{
			State:      seg.longControlState(),
			Active:     seg.active(),
			VCruiseKph: seg.SetSpeedKph,
			ForceDecel: seg.ForceDecel,
		},
		Actuators:  model.Actuators{Gas: seg.Gas, Brake: seg.Brake},
		LeadOne:    c.leadOne.toModel(c.vEgo),
		LeadTwo:    c.leadTwo.toModel(c.vEgo),
		Fresh:      !seg.Stale,
		ReceivedAt: c.clock,
	}
}

func (l leadState) toModel(vEgo float64) model.Lead {
	if !l.present {
		return model.Lead{}
	}
	return model.Lead{
		Status: true,
		DRel:   l.gap,
		YRel:   l.yRel,
		VRel:   l.v - vEgo,
		VLead:  l.v,
		VLeadK: l.v,
		ALeadK: l.a,
		FCW:    l.fcw,
	}
}

// observe advances the script one cycle using the plan the planner emitted
// for the input just served. After the last scripted cycle the cursor
// freezes and keeps serving the final environment.
func (c *cursor) observe(plan model.Plan) {
	if c.done {
		return
	}
	seg := c.segment()

	c.stepLead(&c.leadOne)
	c.stepLead(&c.leadTwo)

	switch {
	case seg.egoMode() == EgoHold:
		// The driver has the car. Integrate the measured accel and ignore
		// the plan.
		c.vEgo = math.Max(0.0, c.vEgo+c.aEgo*planner.ActuationStep)
	case plan.Source == model.SourceCruiseCoast:
		// A coast plan mirrors the measured state instead of commanding one,
		// so tracking it would hold the entry accel forever. Model the
		// off-pedal driveline instead: accel relaxes toward light drag and
		// speed follows.
		c.aEgo += (coastDragAccel - c.aEgo) * (planner.ActuationStep / coastDragTau)
		c.vEgo = math.Max(0.0, c.vEgo+c.aEgo*planner.ActuationStep)
	default:
		// Perfect tracking of the plan's interpolated step, mirroring what
		// the continuity bridge hands the next cycle.
		aNext := plan.AStart + (planner.ActuationStep/planner.PlanStep)*(plan.ATarget-plan.AStart)
		c.vEgo = math.Max(0.0, plan.VStart+planner.ActuationStep*(plan.AStart+aNext)/2.0)
		c.aEgo = aNext
	}

	c.clock = c.clock.Add(cycleDuration)
	c.used++
	if c.used < seg.Cycles {
		return
	}
	if c.segIdx+1 >= len(c.sc.Segments) {
		c.done = true
		return
	}
	c.segIdx++
	c.used = 0
	c.enterSegment(c.segment())
}

func (c *cursor) stepLead(l *leadState) {
	if !l.present {
		return
	}
	l.gap += (l.v - c.vEgo) * planner.ActuationStep
	l.v = math.Max(0.0, l.v+l.a*planner.ActuationStep)
}
