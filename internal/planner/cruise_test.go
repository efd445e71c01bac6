package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/smoother"
)

func cruiseEnvelope() (AccelLimits, JerkLimits) {
	l := AccelLimits{Min: -1.0, Max: 1.5}
	return l, JerkLimitsFor(l)
}

func TestPropose_GasBelowSetpoint(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	limits, jerk := cruiseEnvelope()

	res := c.Propose(CruiseInputs{
		VEgo: 20.0, AEgo: 0.0, Setpoint: 30.0,
		AnchorV: 20.0, AnchorA: 0.0,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})

	assert.Equal(t, model.SourceCruiseGas, res.Source)
	assert.Greater(t, res.A, 0.0)
	assert.Greater(t, res.V, 20.0)
}

func TestPropose_CoastInsideBand(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	limits, jerk := cruiseEnvelope()

	// Between the setpoint and setpoint+margin, rolling with light drag:
	// neither the gas plan nor the brake plan improves on coasting.
	res := c.Propose(CruiseInputs{
		VEgo: 27.0, AEgo: -0.05, Setpoint: 25.0,
		AnchorV: 27.0, AnchorA: -0.05,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})

	assert.Equal(t, model.SourceCruiseCoast, res.Source)
	assert.Equal(t, 27.0, res.V)
	assert.Equal(t, -0.05, res.A)
}

func TestPropose_BrakeAboveBand(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	limits, jerk := cruiseEnvelope()

	res := c.Propose(CruiseInputs{
		VEgo: 32.0, AEgo: -0.05, Setpoint: 25.0,
		AnchorV: 32.0, AnchorA: -0.05,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})

	assert.Equal(t, model.SourceCruiseBrake, res.Source)
	assert.Less(t, res.A, -0.05)
}

func TestPropose_ActuatorInFlightFreezesState(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	limits, jerk := cruiseEnvelope()

	// Enter the brake state above the band.
	res := c.Propose(CruiseInputs{
		VEgo: 32.0, AEgo: -0.05, Setpoint: 25.0,
		AnchorV: 32.0, AnchorA: -0.05,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})
	require.Equal(t, model.SourceCruiseBrake, res.Source)

	// Back inside the band with the brake actuator still applied the entry
	// conditions are frozen: the plan in progress is not abandoned even
	// though the speed no longer calls for braking.
	for i := 0; i < 60; i++ {
		res = c.Propose(CruiseInputs{
			VEgo: 29.0, AEgo: -0.1, Setpoint: 25.0,
			AnchorV: res.V, AnchorA: res.A,
			Limits: limits, Jerk: jerk,
			GasBrake:   -0.3,
			PrevSource: model.SourceCruiseBrake,
		})
		require.Equal(t, model.SourceCruiseBrake, res.Source)
	}

	// Once the actuator settles and the brake plan has converged, the entry
	// conditions run again and the in-band state hands over to coast.
	res = c.Propose(CruiseInputs{
		VEgo: 29.0, AEgo: -0.1, Setpoint: 25.0,
		AnchorV: res.V, AnchorA: res.A,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseBrake,
	})
	assert.Equal(t, model.SourceCruiseCoast, res.Source)
}

func TestPropose_LeadHandbackSeedsFromActuators(t *testing.T) {
	limits, jerk := cruiseEnvelope()

	gas := NewCruiseStrategy(smoother.New())
	res := gas.Propose(CruiseInputs{
		VEgo: 20.0, AEgo: 0.3, Setpoint: 25.0,
		AnchorV: 20.0, AnchorA: 0.3,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.2,
		PrevSource: model.SourceLeadOne,
	})
	assert.Equal(t, model.SourceCruiseGas, res.Source)

	brake := NewCruiseStrategy(smoother.New())
	res = brake.Propose(CruiseInputs{
		VEgo: 20.0, AEgo: -0.3, Setpoint: 25.0,
		AnchorV: 20.0, AnchorA: -0.3,
		Limits: limits, Jerk: jerk,
		GasBrake:   -0.2,
		PrevSource: model.SourceLeadTwo,
	})
	assert.Equal(t, model.SourceCruiseBrake, res.Source)
}

func TestPropose_CoastReanchorsToMeasuredState(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	limits, jerk := cruiseEnvelope()

	// After a coast stretch the carried anchor is stale; the plans restart
	// from the measured state.
	res := c.Propose(CruiseInputs{
		VEgo: 27.0, AEgo: -0.1, Setpoint: 25.0,
		AnchorV: 10.0, AnchorA: 1.0,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})

	assert.Equal(t, 27.0, res.AnchorV)
	assert.Equal(t, -0.1, res.AnchorA)
}

func TestPropose_NonCoastKeepsCarriedAnchor(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	limits, jerk := cruiseEnvelope()

	res := c.Propose(CruiseInputs{
		VEgo: 20.0, AEgo: 0.0, Setpoint: 30.0,
		AnchorV: 20.5, AnchorA: 0.4,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseGas,
	})

	assert.Equal(t, 20.5, res.AnchorV)
	assert.Equal(t, 0.4, res.AnchorA)
}

func TestPropose_CoastDisabledTracksSetpoint(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())
	c.SetCoastEnabled(false)
	limits, jerk := cruiseEnvelope()

	// Well above the setpoint, where the banded machine would coast, plain
	// setpoint tracking brakes immediately.
	res := c.Propose(CruiseInputs{
		VEgo: 27.0, AEgo: 0.0, Setpoint: 25.0,
		AnchorV: 27.0, AnchorA: 0.0,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})

	assert.Equal(t, model.SourceCruiseGas, res.Source)
	assert.Less(t, res.A, 0.0)
}

func TestPropose_NeverCommandsReverse(t *testing.T) {
	c := NewCruiseStrategy(smoother.New())

	// Forced-decel envelope at standstill: the raw plan would go negative.
	limits := ApplyForcedDecel(AccelLimits{Min: -1.0, Max: 1.5})
	jerk := JerkLimitsFor(AccelLimits{Min: -1.0, Max: 1.5})

	res := c.Propose(CruiseInputs{
		VEgo: 0.0, AEgo: -0.3, Setpoint: 5.0,
		AnchorV: 0.0, AnchorA: -0.3,
		Limits: limits, Jerk: jerk,
		GasBrake:   0.0,
		PrevSource: model.SourceCruiseCoast,
	})

	assert.GreaterOrEqual(t, res.V, 0.0)
}
