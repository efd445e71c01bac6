package model

// Unit conversion factors. Planner math is metric (m/s, m/s^2); cruise set
// speed arrives in kph and the coast margin is defined in mph.
const (
	KphToMs = 1.0 / 3.6
	MsToKph = 3.6
	MphToMs = 0.44704
	MsToMph = 1.0 / 0.44704

	// VCruiseMaxKph caps the cruise setpoint accepted from the controls state.
	VCruiseMaxKph = 144.0
)
