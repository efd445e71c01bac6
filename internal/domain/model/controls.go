package model

// LongControlState mirrors the longitudinal controller's state machine as
// reported by the controls layer.
type LongControlState string

const (
	LongControlOff      LongControlState = "off"
	LongControlPID      LongControlState = "pid"
	LongControlStopping LongControlState = "stopping"
	LongControlStarting LongControlState = "starting"
)

func (s LongControlState) String() string {
	return string(s)
}

// Engaged reports whether the controller is actively tracking a longitudinal
// target. Starting is excluded: pull-away uses the dedicated reset path.
func (s LongControlState) Engaged() bool {
	return s == LongControlPID || s == LongControlStopping
}

// ControlsState is the per-cycle snapshot of the longitudinal controller.
type ControlsState struct {
	State      LongControlState
	Active     bool
	VCruiseKph float64
	ForceDecel bool
}

// Actuators carries the most recent commanded pedal positions, both in [0, 1].
type Actuators struct {
	Gas   float64
	Brake float64
}

// GasBrake collapses the pedal pair into one signed command: positive while
// accelerating, negative while braking, zero when neither is applied.
func (a Actuators) GasBrake() float64 {
	return a.Gas - a.Brake
}
