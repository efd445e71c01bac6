package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initNoop(t *testing.T) func(context.Context) error {
	t.Helper()
	shutdown, err := Init(context.Background(), "plannerd-test", "", true, 0.1)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	return shutdown
}

func TestInit_EmptyEndpointInstallsNoop(t *testing.T) {
	shutdown := initNoop(t)
	assert.NoError(t, shutdown(context.Background()))
}

// A bench config with tracing disabled must never fail startup, whatever the
// ratio field holds.
func TestInit_EmptyEndpointSkipsRatioCheck(t *testing.T) {
	shutdown, err := Init(context.Background(), "plannerd-test", "", true, 7)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_ShutdownIdempotent(t *testing.T) {
	shutdown := initNoop(t)
	require.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_RejectsSampleRatioOutOfRange(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5, 100} {
		_, err := Init(context.Background(), "plannerd-test", "collector:4317", true, ratio)
		assert.Error(t, err, "ratio %v should be rejected", ratio)
	}
}

func TestTracer_ReturnsNonNil(t *testing.T) {
	shutdown := initNoop(t)
	defer shutdown(context.Background())

	assert.NotNil(t, Tracer("planner"))
}

func TestSampler_Selection(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOnSampler", sampler(1.5).Description())

	desc := sampler(0.25).Description()
	assert.Contains(t, desc, "ParentBased")
	assert.Contains(t, desc, "TraceIDRatioBased")
}
