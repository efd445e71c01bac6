package model

import "time"

// PlanSource identifies which candidate won arbitration for a cycle.
type PlanSource string

const (
	SourceCruiseCoast PlanSource = "cruise_coast"
	SourceCruiseGas   PlanSource = "cruise_gas"
	SourceCruiseBrake PlanSource = "cruise_brake"
	SourceLeadOne     PlanSource = "lead_one"
	SourceLeadTwo     PlanSource = "lead_two"
)

func (s PlanSource) String() string {
	return string(s)
}

// IsCruise reports whether the source is one of the cruise sub-strategies.
func (s PlanSource) IsCruise() bool {
	switch s {
	case SourceCruiseCoast, SourceCruiseGas, SourceCruiseBrake:
		return true
	}
	return false
}

// IsLead reports whether the source is one of the lead trackers.
func (s PlanSource) IsLead() bool {
	return s == SourceLeadOne || s == SourceLeadTwo
}

// Plan is the arbitrated longitudinal target emitted once per cycle and
// consumed by the downstream actuation controller. Valid is a liveness flag:
// false when any required upstream input was not observed fresh this cycle.
type Plan struct {
	DriveID string `json:"drive_id"`
	Cycle   uint64 `json:"cycle"`

	VCruise       float64 `json:"v_cruise"`
	ACruise       float64 `json:"a_cruise"`
	VStart        float64 `json:"v_start"`
	AStart        float64 `json:"a_start"`
	VTarget       float64 `json:"v_target"`
	ATarget       float64 `json:"a_target"`
	VTargetFuture float64 `json:"v_target_future"`

	Source  PlanSource `json:"source"`
	HasLead bool       `json:"has_lead"`
	FCW     bool       `json:"fcw"`

	ProcessingDelay time.Duration `json:"processing_delay"`
	Valid           bool          `json:"valid"`
	CreatedAt       time.Time     `json:"created_at"`
}
