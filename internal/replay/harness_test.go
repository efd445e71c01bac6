package replay

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/planner"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func runFixture(t *testing.T, path string) *Result {
	t.Helper()
	sc, err := Load(path)
	require.NoError(t, err)
	res, err := NewHarness(sc, testLogger).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Trace, sc.TotalCycles())
	return res
}

func runScenario(t *testing.T, sc *Scenario) *Result {
	t.Helper()
	require.NoError(t, sc.Validate())
	res, err := NewHarness(sc, testLogger).Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestRun_CruiseApproachSettlesAtSetpoint(t *testing.T) {
	res := runFixture(t, "testdata/cruise_approach.json")

	// The first coast entry marks the crest of the climb. Before it the
	// drive is a monotonic, all-gas pull toward the setpoint.
	firstCoast := -1
	for i := 1; i < len(res.Trace); i++ {
		if res.Trace[i].Source == model.SourceCruiseCoast {
			firstCoast = i
			break
		}
	}
	require.Greater(t, firstCoast, 150, "closing 5 m/s under the accel envelope takes several seconds")
	require.Less(t, firstCoast, 320)
	for i := 2; i < firstCoast; i++ {
		require.Equal(t, model.SourceCruiseGas, res.Trace[i].Source, "cycle %d", i)
		require.GreaterOrEqual(t, res.Trace[i].VEgo+1e-9, res.Trace[i-1].VEgo, "cycle %d", i)
	}
	require.Greater(t, res.Trace[firstCoast].VEgo, 24.7, "coast should only take over near the setpoint")

	// Past the crest the ego oscillates gently around the setpoint, never
	// running deep into the band or sagging away from it.
	for i := firstCoast; i < len(res.Trace); i++ {
		require.Less(t, res.Trace[i].VEgo, 25.4, "cycle %d", i)
		require.Greater(t, res.Trace[i].VEgo, 24.4, "cycle %d", i)
	}
	require.InDelta(t, 25.0, res.Trace[len(res.Trace)-1].VEgo, 0.35)

	require.Positive(t, res.Sources[model.SourceCruiseCoast])
	require.Positive(t, res.Sources[model.SourceCruiseGas])
	require.Zero(t, res.StaleCycles)
	require.Zero(t, res.FCWCycles)
}

func TestRun_LeadCutInWinsArbitration(t *testing.T) {
	res := runFixture(t, "testdata/lead_cut_in.json")

	require.Greater(t, res.Sources[model.SourceLeadOne], 250)

	var sawToLead, sawBackToCruise bool
	for _, tr := range res.Transitions {
		if tr.From.IsCruise() && tr.To == model.SourceLeadOne {
			sawToLead = true
		}
		if tr.From == model.SourceLeadOne && tr.To.IsCruise() {
			sawBackToCruise = true
		}
	}
	require.True(t, sawToLead, "the slower lead must take the plan over")
	require.True(t, sawBackToCruise, "cruise must take the plan back once the lane clears")

	// The cut-in forces a hard planned brake and pulls the ego down near
	// the lead's speed, with a bounded undershoot while the gap opens.
	minATarget, minVEgo := 0.0, res.Trace[0].VEgo
	for _, row := range res.Trace {
		if row.ATarget < minATarget {
			minATarget = row.ATarget
		}
		if row.VEgo < minVEgo {
			minVEgo = row.VEgo
		}
	}
	require.Less(t, minATarget, -2.0)
	require.Greater(t, minVEgo, 16.0)
	require.Less(t, minVEgo, 20.6)
	for i := 430; i < 500; i++ {
		require.InDelta(t, 19.0, res.Trace[i].VEgo, 1.5, "cycle %d should be settled behind the lead", i)
	}

	// Recovery: back on cruise and climbing once the lane is clear.
	require.True(t, res.Final.Source.IsCruise())
	require.Greater(t, res.Trace[len(res.Trace)-1].VEgo, 24.0)
	require.Zero(t, res.FCWCycles, "a benign cut-in must not warn")
}

func TestRun_ForcedDecelSettlesOnAwarenessDecel(t *testing.T) {
	res := runFixture(t, "testdata/forced_decel.json")

	// Well into the forced phase the plan holds the awareness decel no
	// matter how far below the setpoint the ego has sunk.
	for i := 150; i < len(res.Trace); i++ {
		require.InDelta(t, planner.AwarenessDecel, res.Trace[i].ATarget, 0.02, "cycle %d", i)
	}
	require.Less(t, res.Trace[len(res.Trace)-1].VEgo, res.Trace[59].VEgo-1.0)
}

func TestRun_PullAwayUsesPlatformSeeds(t *testing.T) {
	sc := &Scenario{
		Name: "pull_away",
		Segments: []Segment{
			{Name: "hold", Cycles: 20, State: "starting", SetSpeedKph: 54, VEgo: floatPtr(0), AEgo: floatPtr(0)},
			{Name: "go", Cycles: 300, State: "pid", SetSpeedKph: 54},
		},
	}
	res := runScenario(t, sc)

	// While starting, the plan pins to the platform's pull-away seed, not
	// the measured zero speed.
	params := model.DefaultVehicleParams()
	for i := 0; i < 20; i++ {
		require.InDelta(t, params.MinTrackSpeed, res.Trace[i].VTarget, 1e-9, "cycle %d", i)
		require.InDelta(t, params.StartAccel, res.Trace[i].ATarget, 1e-9, "cycle %d", i)
	}

	require.Greater(t, res.Trace[len(res.Trace)-1].VEgo, 10.0, "the drive should be well on its way to 15 m/s")
}

func TestRun_DisengageMirrorsMeasuredState(t *testing.T) {
	sc := &Scenario{
		Name: "disengage",
		Segments: []Segment{
			{Name: "cruise", Cycles: 100, State: "pid", SetSpeedKph: 90, VEgo: floatPtr(22), AEgo: floatPtr(0)},
			{Name: "driver_takes_over", Cycles: 60, State: "off", Ego: EgoHold, AEgo: floatPtr(-0.4)},
		},
	}
	res := runScenario(t, sc)

	for i := 100; i < 160; i++ {
		row := res.Trace[i]
		require.InDelta(t, row.VEgo, row.VTarget, 1e-9, "cycle %d must mirror the measured speed", i)
		require.LessOrEqual(t, row.ATarget, 0.0, "cycle %d", i)
	}
	require.Less(t, res.Trace[159].VEgo, res.Trace[100].VEgo-0.8, "the held ego brakes under its own accel")
}

func TestRun_CollisionWarningFiresOnPanicBrakingLead(t *testing.T) {
	sc := &Scenario{
		Name: "lead_panic_brake",
		Segments: []Segment{
			{
				Name:        "following",
				Cycles:      300,
				State:       "pid",
				SetSpeedKph: 108,
				VEgo:        floatPtr(24),
				AEgo:        floatPtr(0),
				Lead:        &LeadSpec{DRel: 40, VLead: 22, ALead: -3.0, FCW: true},
			},
		},
	}
	res := runScenario(t, sc)

	// The warner needs the lead settled and several risky cycles in a row,
	// then re-raises are spaced out. A panic-braking lead yields a handful
	// of warning cycles, not a wall of them.
	require.GreaterOrEqual(t, res.FCWCycles, 1)
	require.LessOrEqual(t, res.FCWCycles, 5)
	require.Greater(t, res.Sources[model.SourceLeadOne], 100, "the braking lead should own the plan")
}

func TestRun_StaleWindowMarksPlansInvalid(t *testing.T) {
	sc := &Scenario{
		Name: "stale_feed",
		Segments: []Segment{
			{Cycles: 40, State: "pid", SetSpeedKph: 90, VEgo: floatPtr(20)},
			{Cycles: 25, State: "pid", SetSpeedKph: 90, Stale: true},
			{Cycles: 40, State: "pid", SetSpeedKph: 90},
		},
	}
	res := runScenario(t, sc)

	require.Equal(t, 25, res.StaleCycles)
	require.True(t, res.Trace[39].Valid)
	for i := 40; i < 65; i++ {
		require.False(t, res.Trace[i].Valid, "cycle %d", i)
	}
	require.True(t, res.Trace[65].Valid)
	require.Greater(t, res.Trace[104].VEgo, res.Trace[0].VEgo, "planning rides through the stale window")
}

func TestSummary_CondensesRun(t *testing.T) {
	sc := &Scenario{
		Name: "summary",
		Segments: []Segment{
			{Cycles: 30, State: "pid", SetSpeedKph: 72, VEgo: floatPtr(15)},
		},
	}
	res := runScenario(t, sc)
	sum := res.Summary()

	require.Equal(t, "summary", sum.Scenario)
	require.Equal(t, 30, sum.Cycles)
	require.InDelta(t, 1.5, sum.DriveSeconds, 1e-9)
	require.Equal(t, res.Final.Source.String(), sum.FinalSource)
	require.InDelta(t, res.Trace[29].VEgo, sum.FinalVEgo, 1e-9)

	total := 0
	for _, n := range sum.Sources {
		total += n
	}
	require.Equal(t, 30, total, "every cycle lands in exactly one source bucket")
}
