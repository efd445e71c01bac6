package model

import "time"

// CycleInput bundles everything the planner reads at the top of a cycle.
// All fields are snapshots: the planner never holds references into the
// ingest layer across cycles.
type CycleInput struct {
	Vehicle   VehicleState
	Controls  ControlsState
	Actuators Actuators
	LeadOne   Lead
	LeadTwo   Lead

	// Fresh is false when any upstream feed missed its update window since
	// the previous cycle. A stale cycle still plans, but the emitted Plan
	// is marked invalid.
	Fresh bool

	// ReceivedAt is the cycle clock: the instant the newest input landed.
	// Time-dependent planner state (FCW debounce, processing delay) keys off
	// this rather than the wall clock so replayed drives behave identically.
	ReceivedAt time.Time
}
