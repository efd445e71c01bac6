// Package canbus turns raw CAN frames into the planner's input snapshot.
// The frame catalog is fixed at build time: five little-endian messages
// carrying vehicle dynamics, pedal state, cruise state and two radar tracks.
package canbus

import (
	"time"

	"go.einride.tech/can"
)

// Frame identifiers on the vehicle bus.
const (
	FrameVehicleDynamics uint32 = 0x1F0
	FramePedalStatus     uint32 = 0x1F1
	FrameCruiseStatus    uint32 = 0x1F2
	FrameRadarTrackA     uint32 = 0x220
	FrameRadarTrackB     uint32 = 0x221
)

// Signal names within the catalog frames.
const (
	sigSpeed         = "SPEED"
	sigAccel         = "ACCEL"
	sigSteeringAngle = "STEERING_ANGLE"
	sigStandstill    = "STANDSTILL"

	sigGasPressed   = "GAS_PRESSED"
	sigBrakePressed = "BRAKE_PRESSED"
	sigLeftBlinker  = "LEFT_BLINKER"
	sigRightBlinker = "RIGHT_BLINKER"
	sigGasActuator  = "GAS_ACTUATOR"
	sigBrakeAct     = "BRAKE_ACTUATOR"

	sigCruiseState = "STATE"
	sigCruiseOn    = "ACTIVE"
	sigForceDecel  = "FORCE_DECEL"
	sigSetSpeed    = "SET_SPEED"

	sigTrackValid = "TRACK_VALID"
	sigFCW        = "FCW"
	sigDRel       = "DREL"
	sigVRel       = "VREL"
	sigYRel       = "YREL"
	sigALead      = "ALEAD"
)

// signalSpec is one little-endian signal inside a frame payload. Physical
// value = raw * factor + offset, with raw sign-extended when signed.
type signalSpec struct {
	name   string
	start  int
	bits   int
	signed bool
	factor float64
	offset float64
}

// frameSpec is one catalog message. staleAfter bounds how old the last
// decode may be before the snapshot treats the feed as quiet.
type frameSpec struct {
	name       string
	dlc        uint8
	staleAfter time.Duration
	signals    []signalSpec
}

var catalog = map[uint32]frameSpec{
	FrameVehicleDynamics: {
		name: "vehicle_dynamics", dlc: 8, staleAfter: 150 * time.Millisecond,
		signals: []signalSpec{
			{name: sigSpeed, start: 0, bits: 16, factor: 0.01},
			{name: sigAccel, start: 16, bits: 16, signed: true, factor: 0.001},
			{name: sigSteeringAngle, start: 32, bits: 16, signed: true, factor: 0.1},
			{name: sigStandstill, start: 48, bits: 1, factor: 1},
		},
	},
	FramePedalStatus: {
		name: "pedal_status", dlc: 3, staleAfter: 150 * time.Millisecond,
		signals: []signalSpec{
			{name: sigGasPressed, start: 0, bits: 1, factor: 1},
			{name: sigBrakePressed, start: 1, bits: 1, factor: 1},
			{name: sigLeftBlinker, start: 2, bits: 1, factor: 1},
			{name: sigRightBlinker, start: 3, bits: 1, factor: 1},
			{name: sigGasActuator, start: 8, bits: 8, factor: 0.005},
			{name: sigBrakeAct, start: 16, bits: 8, factor: 0.005},
		},
	},
	FrameCruiseStatus: {
		name: "cruise_status", dlc: 3, staleAfter: 200 * time.Millisecond,
		signals: []signalSpec{
			{name: sigCruiseState, start: 0, bits: 2, factor: 1},
			{name: sigCruiseOn, start: 2, bits: 1, factor: 1},
			{name: sigForceDecel, start: 3, bits: 1, factor: 1},
			{name: sigSetSpeed, start: 8, bits: 16, factor: 0.1},
		},
	},
	FrameRadarTrackA: {
		name: "radar_track_a", dlc: 8, staleAfter: 300 * time.Millisecond,
		signals: radarTrackSignals,
	},
	FrameRadarTrackB: {
		name: "radar_track_b", dlc: 8, staleAfter: 300 * time.Millisecond,
		signals: radarTrackSignals,
	},
}

var radarTrackSignals = []signalSpec{
	{name: sigTrackValid, start: 0, bits: 1, factor: 1},
	{name: sigFCW, start: 1, bits: 1, factor: 1},
	{name: sigDRel, start: 8, bits: 16, factor: 0.01},
	{name: sigVRel, start: 24, bits: 16, signed: true, factor: 0.01},
	{name: sigYRel, start: 40, bits: 12, signed: true, factor: 0.05},
	{name: sigALead, start: 52, bits: 12, signed: true, factor: 0.01},
}

// decode unpacks every catalog signal of the frame into physical units.
func (f frameSpec) decode(frame can.Frame) map[string]float64 {
	var payload uint64
	for i := 0; i < int(frame.Length) && i < 8; i++ {
		payload |= uint64(frame.Data[i]) << (8 * i)
	}

	out := make(map[string]float64, len(f.signals))
	for _, s := range f.signals {
		raw := extractBits(payload, s.start, s.bits)
		out[s.name] = float64(signExtend(raw, s.bits, s.signed))*s.factor + s.offset
	}
	return out
}

func extractBits(payload uint64, start, bits int) uint64 {
	if bits <= 0 || bits > 64 {
		return 0
	}
	mask := uint64(1)<<bits - 1
	return (payload >> start) & mask
}

func signExtend(raw uint64, bits int, signed bool) int64 {
	if !signed || bits >= 64 {
		return int64(raw)
	}
	if raw&(uint64(1)<<(bits-1)) == 0 {
		return int64(raw)
	}
	return int64(raw) - int64(uint64(1)<<bits)
}
