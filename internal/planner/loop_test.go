package planner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/domain/model"
)

type stubCycleSource struct {
	in  model.CycleInput
	err error
}

func (s *stubCycleSource) Snapshot(context.Context) (model.CycleInput, error) {
	return s.in, s.err
}

type stubSink struct {
	plans []model.Plan
	err   error
}

func (s *stubSink) Accept(_ context.Context, plan model.Plan) error {
	if s.err != nil {
		return s.err
	}
	s.plans = append(s.plans, plan)
	return nil
}

func newTestLoop(source CycleSource, sinks ...PlanSink) *Loop {
	p := newTestPlanner(freeTracker(), freeTracker(), &stubWarner{}, defaultStubTuning())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLoop(p, source, sinks, logger)
}

func TestCycle_FansOutToAllSinks(t *testing.T) {
	source := &stubCycleSource{in: cruisingInput(20.0)}
	first := &stubSink{}
	second := &stubSink{}
	l := newTestLoop(source, first, second)

	l.cycle(context.Background())
	l.cycle(context.Background())

	require.Len(t, first.plans, 2)
	require.Len(t, second.plans, 2)
	assert.Equal(t, uint64(0), first.plans[0].Cycle)
	assert.Equal(t, uint64(1), first.plans[1].Cycle)
	assert.Equal(t, first.plans[0].DriveID, second.plans[0].DriveID)
}

func TestCycle_SnapshotErrorSkipsPlanning(t *testing.T) {
	source := &stubCycleSource{err: errors.New("bus closed")}
	sink := &stubSink{}
	l := newTestLoop(source, sink)

	l.cycle(context.Background())

	assert.Empty(t, sink.plans)
}

func TestCycle_SinkErrorDoesNotStopFanOut(t *testing.T) {
	source := &stubCycleSource{in: cruisingInput(20.0)}
	broken := &stubSink{err: errors.New("stream full")}
	healthy := &stubSink{}
	l := newTestLoop(source, broken, healthy)

	l.cycle(context.Background())

	assert.Empty(t, broken.plans)
	require.Len(t, healthy.plans, 1)
}

func TestRun_StopsWithContext(t *testing.T) {
	source := &stubCycleSource{in: cruisingInput(20.0)}
	sink := &stubSink{}
	l := newTestLoop(source, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 4*l.Interval())
	defer cancel()

	err := l.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, sink.plans)
}
