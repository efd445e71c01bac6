package canbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.einride.tech/can"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type idleReader struct{}

func (idleReader) ReadFrame(context.Context) (can.Frame, error) { return can.Frame{}, io.EOF }
func (idleReader) Close() error                                 { return nil }

func newTestSource() (*Source, *time.Time) {
	now := time.Unix(1700000000, 0)
	src := NewSource(idleReader{}, testLogger)
	src.clock = func() time.Time { return now }
	return src, &now
}

func dynamicsFrame(t *testing.T, speed, accel, angle float64) can.Frame {
	t.Helper()
	var payload uint64
	payload = packSignal(payload, signal(t, FrameVehicleDynamics, sigSpeed), speed)
	payload = packSignal(payload, signal(t, FrameVehicleDynamics, sigAccel), accel)
	payload = packSignal(payload, signal(t, FrameVehicleDynamics, sigSteeringAngle), angle)
	return frameOf(FrameVehicleDynamics, payload)
}

func pedalFrame(t *testing.T, brakePressed bool, gasAct float64) can.Frame {
	t.Helper()
	var payload uint64
	if brakePressed {
		payload = packSignal(payload, signal(t, FramePedalStatus, sigBrakePressed), 1)
	}
	payload = packSignal(payload, signal(t, FramePedalStatus, sigGasActuator), gasAct)
	return frameOf(FramePedalStatus, payload)
}

func cruiseFrame(t *testing.T, state int, setKph float64) can.Frame {
	t.Helper()
	var payload uint64
	payload = packSignal(payload, signal(t, FrameCruiseStatus, sigCruiseState), float64(state))
	payload = packSignal(payload, signal(t, FrameCruiseStatus, sigCruiseOn), 1)
	payload = packSignal(payload, signal(t, FrameCruiseStatus, sigSetSpeed), setKph)
	return frameOf(FrameCruiseStatus, payload)
}

func radarFrame(t *testing.T, id uint32, dRel, vRel float64) can.Frame {
	t.Helper()
	var payload uint64
	payload = packSignal(payload, signal(t, id, sigTrackValid), 1)
	payload = packSignal(payload, signal(t, id, sigDRel), dRel)
	payload = packSignal(payload, signal(t, id, sigVRel), vRel)
	return frameOf(id, payload)
}

func feedAll(t *testing.T, src *Source, at time.Time) {
	t.Helper()
	src.apply(dynamicsFrame(t, 20.0, -0.3, 5.0), at)
	src.apply(pedalFrame(t, true, 0.25), at)
	src.apply(cruiseFrame(t, 1, 108.0), at)
	src.apply(radarFrame(t, FrameRadarTrackA, 30.0, -2.5), at)
	src.apply(radarFrame(t, FrameRadarTrackB, 75.0, 1.0), at)
}

func TestSnapshot_BeforeFirstVehicleFrame(t *testing.T) {
	src, _ := newTestSource()

	_, err := src.Snapshot(context.Background())

	assert.ErrorIs(t, err, ErrNoVehicleState)
}

func TestSnapshot_FusesAllFeeds(t *testing.T) {
	src, now := newTestSource()
	feedAll(t, src, *now)

	in, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, in.Fresh)
	assert.Equal(t, *now, in.ReceivedAt)

	assert.InDelta(t, 20.0, in.Vehicle.VEgo, 1e-9)
	assert.InDelta(t, -0.3, in.Vehicle.AEgo, 1e-9)
	assert.InDelta(t, 5.0, in.Vehicle.SteeringAngleDeg, 1e-9)
	assert.True(t, in.Vehicle.BrakePressed)
	assert.False(t, in.Vehicle.GasPressed)
	assert.InDelta(t, 0.25, in.Actuators.Gas, 1e-9)

	assert.Equal(t, "pid", in.Controls.State.String())
	assert.True(t, in.Controls.Active)
	assert.InDelta(t, 108.0, in.Controls.VCruiseKph, 1e-9)

	require.True(t, in.LeadOne.Status)
	assert.InDelta(t, 30.0, in.LeadOne.DRel, 1e-9)
	// Relative speed fused with the ego speed.
	assert.InDelta(t, 17.5, in.LeadOne.VLead, 1e-9)
	assert.InDelta(t, 17.5, in.LeadOne.VLeadK, 1e-9)
	require.True(t, in.LeadTwo.Status)
	assert.InDelta(t, 21.0, in.LeadTwo.VLead, 1e-9)
}

func TestSnapshot_QuietRadarClearsTrack(t *testing.T) {
	src, now := newTestSource()
	start := *now
	feedAll(t, src, start)

	// Vehicle feeds keep arriving; the radar goes quiet past its window.
	*now = start.Add(400 * time.Millisecond)
	src.apply(dynamicsFrame(t, 19.0, 0.0, 0.0), *now)
	src.apply(pedalFrame(t, false, 0.0), *now)
	src.apply(cruiseFrame(t, 1, 108.0), *now)

	in, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, in.Fresh, "radar dropout alone does not invalidate the cycle")
	assert.False(t, in.LeadOne.Status)
	assert.Equal(t, 0.0, in.LeadOne.DRel)
	assert.False(t, in.LeadTwo.Status)
}

func TestSnapshot_QuietCruiseFeedGoesStale(t *testing.T) {
	src, now := newTestSource()
	start := *now
	feedAll(t, src, start)

	*now = start.Add(300 * time.Millisecond)
	src.apply(dynamicsFrame(t, 19.0, 0.0, 0.0), *now)
	src.apply(pedalFrame(t, false, 0.0), *now)

	in, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	assert.False(t, in.Fresh)
	// Last known values are still served.
	assert.InDelta(t, 108.0, in.Controls.VCruiseKph, 1e-9)
}

func TestApply_ShortFrameDropped(t *testing.T) {
	src, now := newTestSource()

	short := dynamicsFrame(t, 20.0, 0.0, 0.0)
	short.Length = 2
	src.apply(short, *now)

	_, err := src.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoVehicleState)
}

func TestApply_UnknownFrameIgnored(t *testing.T) {
	src, now := newTestSource()

	src.apply(can.Frame{ID: 0x7FF, Length: 8}, *now)

	_, err := src.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoVehicleState)
}

type scriptedReader struct {
	frames chan can.Frame
	once   sync.Once
}

func (r *scriptedReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-r.frames:
		if !ok {
			return can.Frame{}, io.EOF
		}
		return f, nil
	}
}

func (r *scriptedReader) Close() error {
	r.once.Do(func() { close(r.frames) })
	return nil
}

func TestRun_DrainsUntilCanceled(t *testing.T) {
	reader := &scriptedReader{frames: make(chan can.Frame, 4)}
	reader.frames <- dynamicsFrame(t, 22.0, 0.1, 0.0)
	reader.frames <- cruiseFrame(t, 1, 100.0)

	src := NewSource(reader, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.seen) == 2
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	in, snapErr := src.Snapshot(context.Background())
	require.NoError(t, snapErr)
	assert.InDelta(t, 22.0, in.Vehicle.VEgo, 1e-9)
}
