package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBridge_InterpolatesOneActuationStep(t *testing.T) {
	var b ContinuityBridge

	b.Advance(20.0, 0.0, 21.0, 0.8)

	v, a := b.Anchor()
	// A quarter of the acceleration delta is realized per actuation step,
	// and speed advances by the trapezoid over that step.
	assert.InDelta(t, 0.2, a, 1e-9)
	assert.InDelta(t, 20.0+ActuationStep*(0.2+0.0)/2, v, 1e-9)
}

func TestBridge_ConvergesOnStationaryTarget(t *testing.T) {
	var b ContinuityBridge

	b.Advance(15.0, 0.0, 15.0, 0.0)

	v, a := b.Anchor()
	assert.Equal(t, 15.0, v)
	assert.Equal(t, 0.0, a)
}

func TestBridge_CarriesAnchorAcrossCycles(t *testing.T) {
	var b ContinuityBridge

	// Repeatedly re-planning toward the same target walks the anchor
	// toward it without ever jumping.
	vStart, aStart := 10.0, 0.0
	for i := 0; i < 40; i++ {
		b.Advance(vStart, aStart, 12.0, 1.0)
		vNext, aNext := b.Anchor()
		assert.LessOrEqual(t, vStart, vNext)
		vStart, aStart = vNext, aNext
	}
	assert.Greater(t, vStart, 10.0)
	assert.LessOrEqual(t, vStart, 12.0)
}

func TestBridge_DecelerationInterpolation(t *testing.T) {
	var b ContinuityBridge

	b.Advance(20.0, -0.4, 19.0, -1.2)

	v, a := b.Anchor()
	assert.InDelta(t, -0.6, a, 1e-9)
	assert.InDelta(t, 20.0+ActuationStep*(-0.6-0.4)/2, v, 1e-9)
}
