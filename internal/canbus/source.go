package canbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.einride.tech/can"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/metrics"
)

// FrameReader is the raw frame feed. The socket implementation reads from a
// SocketCAN interface; tests feed frames directly. Close must unblock a
// pending ReadFrame.
type FrameReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// ErrNoVehicleState is returned by Snapshot before the first vehicle
// dynamics frame has been decoded.
var ErrNoVehicleState = errors.New("canbus: no vehicle state received yet")

// Source fuses decoded frames into planner cycle inputs. Run drains the
// reader on its own goroutine; Snapshot is called by the planning loop at
// its cadence and never blocks on the bus.
type Source struct {
	reader FrameReader
	logger *slog.Logger
	clock  func() time.Time

	mu        sync.Mutex
	vehicle   model.VehicleState
	controls  model.ControlsState
	actuators model.Actuators
	leadOne   model.Lead
	leadTwo   model.Lead
	seen      map[uint32]time.Time
}

func NewSource(reader FrameReader, logger *slog.Logger) *Source {
	return &Source{
		reader: reader,
		logger: logger.With("component", "canbus"),
		clock:  time.Now,
		seen:   make(map[uint32]time.Time),
	}
}

// Run drains frames until the context ends or the reader fails. The reader
// is closed on the way out.
func (s *Source) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.reader.Close()
	}()

	s.logger.Info("CAN ingest started", "messages", len(catalog))
	for {
		frame, err := s.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		s.apply(frame, s.clock())
	}
}

func (s *Source) apply(frame can.Frame, now time.Time) {
	spec, ok := catalog[frame.ID]
	if !ok {
		return
	}
	if frame.Length < spec.dlc {
		metrics.IngestDecodeErrors.WithLabelValues(spec.name).Inc()
		s.logger.Warn("short CAN frame",
			"message", spec.name,
			"length", frame.Length,
			"expected", spec.dlc,
		)
		return
	}
	vals := spec.decode(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch frame.ID {
	case FrameVehicleDynamics:
		s.vehicle.VEgo = vals[sigSpeed]
		s.vehicle.AEgo = vals[sigAccel]
		s.vehicle.SteeringAngleDeg = vals[sigSteeringAngle]
		s.vehicle.Standstill = vals[sigStandstill] != 0
	case FramePedalStatus:
		s.vehicle.GasPressed = vals[sigGasPressed] != 0
		s.vehicle.BrakePressed = vals[sigBrakePressed] != 0
		s.vehicle.LeftBlinker = vals[sigLeftBlinker] != 0
		s.vehicle.RightBlinker = vals[sigRightBlinker] != 0
		s.actuators.Gas = vals[sigGasActuator]
		s.actuators.Brake = vals[sigBrakeAct]
	case FrameCruiseStatus:
		s.controls.State = longControlState(vals[sigCruiseState])
		s.controls.Active = vals[sigCruiseOn] != 0
		s.controls.ForceDecel = vals[sigForceDecel] != 0
		s.controls.VCruiseKph = vals[sigSetSpeed]
	case FrameRadarTrackA:
		s.leadOne = decodeTrack(vals)
	case FrameRadarTrackB:
		s.leadTwo = decodeTrack(vals)
	}
	s.seen[frame.ID] = now
	metrics.IngestFramesTotal.WithLabelValues(spec.name).Inc()
}

func longControlState(raw float64) model.LongControlState {
	switch int(raw) {
	case 1:
		return model.LongControlPID
	case 2:
		return model.LongControlStopping
	case 3:
		return model.LongControlStarting
	default:
		return model.LongControlOff
	}
}

// decodeTrack holds what the radar frame carries. The lead speed fields are
// fused with the ego speed at snapshot time.
func decodeTrack(vals map[string]float64) model.Lead {
	return model.Lead{
		Status: vals[sigTrackValid] != 0,
		DRel:   vals[sigDRel],
		YRel:   vals[sigYRel],
		VRel:   vals[sigVRel],
		ALeadK: vals[sigALead],
		FCW:    vals[sigFCW] != 0,
	}
}

// Snapshot assembles the fused cycle input. A quiet radar clears its track
// slot; a quiet vehicle or cruise feed marks the snapshot stale instead,
// because the planner must keep planning through a brief dropout.
func (s *Source) Snapshot(_ context.Context) (model.CycleInput, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[FrameVehicleDynamics]; !ok {
		return model.CycleInput{}, ErrNoVehicleState
	}

	fresh := true
	var newest time.Time
	for id, spec := range catalog {
		at, ok := s.seen[id]
		if ok && at.After(newest) {
			newest = at
		}
		if id == FrameRadarTrackA || id == FrameRadarTrackB {
			continue
		}
		if !ok || now.Sub(at) > spec.staleAfter {
			fresh = false
		}
	}
	if !fresh {
		metrics.IngestStaleSnapshots.Inc()
	}

	return model.CycleInput{
		Vehicle:    s.vehicle,
		Controls:   s.controls,
		Actuators:  s.actuators,
		LeadOne:    s.fuseTrack(s.leadOne, FrameRadarTrackA, now),
		LeadTwo:    s.fuseTrack(s.leadTwo, FrameRadarTrackB, now),
		Fresh:      fresh,
		ReceivedAt: newest,
	}, nil
}

func (s *Source) fuseTrack(lead model.Lead, id uint32, now time.Time) model.Lead {
	at, ok := s.seen[id]
	if !ok || now.Sub(at) > catalog[id].staleAfter {
		return model.Lead{}
	}
	lead.VLead = s.vehicle.VEgo + lead.VRel
	lead.VLeadK = lead.VLead
	return lead
}
