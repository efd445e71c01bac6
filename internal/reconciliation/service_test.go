package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/alert"
	"github.com/juny6654/longplan/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type stubArchive struct {
	drives    []store.DriveSummary
	drivesErr error
	gaps      map[string][]store.CycleGap
	gapsErr   error
}

func (s *stubArchive) RecentDrives(_ context.Context, limit int) ([]store.DriveSummary, error) {
	if s.drivesErr != nil {
		return nil, s.drivesErr
	}
	if limit < len(s.drives) {
		return s.drives[:limit], nil
	}
	return s.drives, nil
}

func (s *stubArchive) CycleGaps(_ context.Context, driveID string, _ int) ([]store.CycleGap, error) {
	if s.gapsErr != nil {
		return nil, s.gapsErr
	}
	return s.gaps[driveID], nil
}

type captureAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
}

func (c *captureAlerter) Send(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return c.err
}

func (c *captureAlerter) sent() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]alert.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func TestSweep_CompleteDrive(t *testing.T) {
	repo := &stubArchive{
		drives: []store.DriveSummary{
			{DriveID: "drive-a", FirstCycle: 0, LastCycle: 99, Records: 100, Invalid: 0},
		},
	}
	alerter := &captureAlerter{}
	svc := NewService(repo, alerter, testLogger)

	result, err := svc.Sweep(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, result.Drives, 1)
	report := result.Drives[0]
	assert.Equal(t, int64(100), report.Expected)
	assert.Equal(t, int64(0), report.MissingCycles)
	assert.True(t, report.Complete)
	assert.Empty(t, report.Gaps)

	assert.Equal(t, 1, result.Complete)
	assert.Equal(t, 0, result.WithGaps)
	assert.Empty(t, alerter.sent(), "complete drives must not alert")
}

func TestSweep_DriveWithGaps(t *testing.T) {
	repo := &stubArchive{
		drives: []store.DriveSummary{
			// Cycles 0..9 expected, 7 stored: 3 missing.
			{DriveID: "drive-b", FirstCycle: 0, LastCycle: 9, Records: 7, Invalid: 1},
		},
		gaps: map[string][]store.CycleGap{
			"drive-b": {
				{After: 2, Before: 5, Missing: 2},
				{After: 7, Before: 9, Missing: 1},
			},
		},
	}
	alerter := &captureAlerter{}
	svc := NewService(repo, alerter, testLogger)

	result, err := svc.Sweep(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, result.Drives, 1)
	report := result.Drives[0]
	assert.Equal(t, int64(10), report.Expected)
	assert.Equal(t, int64(3), report.MissingCycles)
	assert.Equal(t, int64(1), report.InvalidRecords)
	assert.False(t, report.Complete)
	assert.Len(t, report.Gaps, 2)

	assert.Equal(t, 1, result.WithGaps)
	assert.Equal(t, int64(3), result.MissingCycles)

	alerts := alerter.sent()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.KindDriveLogGap, alerts[0].Kind)
	assert.Equal(t, alert.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "3", alerts[0].Fields["missing_cycles"])
}

func TestSweep_MixedDrives(t *testing.T) {
	repo := &stubArchive{
		drives: []store.DriveSummary{
			{DriveID: "drive-clean", FirstCycle: 0, LastCycle: 49, Records: 50},
			{DriveID: "drive-holey", FirstCycle: 10, LastCycle: 29, Records: 15},
		},
		gaps: map[string][]store.CycleGap{
			"drive-holey": {{After: 12, Before: 18, Missing: 5}},
		},
	}
	alerter := &captureAlerter{}
	svc := NewService(repo, alerter, testLogger)

	result, err := svc.Sweep(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Complete)
	assert.Equal(t, 1, result.WithGaps)
	assert.Equal(t, int64(5), result.MissingCycles)
	require.Len(t, alerter.sent(), 1)
}

func TestSweep_GapQueryFailureDegrades(t *testing.T) {
	repo := &stubArchive{
		drives: []store.DriveSummary{
			{DriveID: "drive-c", FirstCycle: 0, LastCycle: 9, Records: 8},
		},
		gapsErr: errors.New("query timeout"),
	}
	svc := NewService(repo, &captureAlerter{}, testLogger)

	result, err := svc.Sweep(context.Background(), 5)
	require.NoError(t, err, "gap query failure must not fail the sweep")

	assert.Equal(t, 1, result.Errors)
	require.Len(t, result.Drives, 1)
	// Shortfall still known from the summary even without the gap sample.
	assert.Equal(t, int64(2), result.Drives[0].MissingCycles)
	assert.Empty(t, result.Drives[0].Gaps)
}

func TestSweep_DriveListFailure(t *testing.T) {
	repo := &stubArchive{drivesErr: errors.New("connection refused")}
	svc := NewService(repo, &captureAlerter{}, testLogger)

	_, err := svc.Sweep(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list recent drives")
}

func TestSweep_NilAlerterTolerated(t *testing.T) {
	repo := &stubArchive{
		drives: []store.DriveSummary{
			{DriveID: "drive-d", FirstCycle: 0, LastCycle: 9, Records: 5},
		},
	}
	svc := NewService(repo, nil, testLogger)

	result, err := svc.Sweep(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.MissingCycles)
}

func TestLastResult(t *testing.T) {
	repo := &stubArchive{
		drives: []store.DriveSummary{
			{DriveID: "drive-e", FirstCycle: 0, LastCycle: 4, Records: 5},
		},
	}
	svc := NewService(repo, &captureAlerter{}, testLogger)

	_, ok := svc.LastResult()
	assert.False(t, ok, "no result before the first sweep")

	want, err := svc.Sweep(context.Background(), 1)
	require.NoError(t, err)

	got, ok := svc.LastResult()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestRunPeriodic_StopsOnCancel(t *testing.T) {
	repo := &stubArchive{}
	svc := NewService(repo, &captureAlerter{}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.RunPeriodic(ctx, 50*time.Millisecond, 1)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop after cancel")
	}
}
