package model

// VehicleState is one fused sample of the ego vehicle, produced by the
// ingestion layer each planning cycle. Speeds are m/s, accelerations m/s²,
// angles degrees.
type VehicleState struct {
	VEgo             float64
	AEgo             float64
	SteeringAngleDeg float64
	GasPressed       bool
	BrakePressed     bool
	LeftBlinker      bool
	RightBlinker     bool
	Standstill       bool
}

// Blinkers reports whether either turn signal is active.
func (v VehicleState) Blinkers() bool {
	return v.LeftBlinker || v.RightBlinker
}

// VehicleParams holds the static per-vehicle values the planner needs.
// MinTrackSpeed is the lowest speed the vehicle platform can report or hold;
// StartAccel is the fixed acceleration commanded when pulling away from a stop.
type VehicleParams struct {
	SteerRatio    float64
	Wheelbase     float64
	MinTrackSpeed float64
	StartAccel    float64
}

// DefaultVehicleParams returns a mid-size sedan profile. Deployments override
// these from configuration.
func DefaultVehicleParams() VehicleParams {
	return VehicleParams{
		SteerRatio:    15.0,
		Wheelbase:     2.7,
		MinTrackSpeed: 0.3,
		StartAccel:    0.8,
	}
}
