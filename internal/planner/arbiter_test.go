package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/domain/model"
)

func TestArbitrate_SlowestCandidateWins(t *testing.T) {
	chosen, ok := Arbitrate([]Candidate{
		{Source: model.SourceCruiseGas, V: 28.0, A: 0.3},
		{Source: model.SourceLeadOne, V: 14.0, A: -1.2},
		{Source: model.SourceLeadTwo, V: 21.0, A: -0.4},
	})

	require.True(t, ok)
	assert.Equal(t, model.SourceLeadOne, chosen.Source)
	assert.Equal(t, 14.0, chosen.V)
	assert.Equal(t, -1.2, chosen.A)
}

func TestArbitrate_TieGoesToEarlierCandidate(t *testing.T) {
	// Candidates are ordered cruise, lead one, lead two. On equal speeds
	// the earlier entry keeps the plan, so an exact tie never flips the
	// source away from cruise.
	chosen, ok := Arbitrate([]Candidate{
		{Source: model.SourceCruiseCoast, V: 20.0, A: -0.1},
		{Source: model.SourceLeadOne, V: 20.0, A: -0.8},
	})
	require.True(t, ok)
	assert.Equal(t, model.SourceCruiseCoast, chosen.Source)

	chosen, ok = Arbitrate([]Candidate{
		{Source: model.SourceLeadOne, V: 17.0, A: -0.5},
		{Source: model.SourceLeadTwo, V: 17.0, A: -0.9},
	})
	require.True(t, ok)
	assert.Equal(t, model.SourceLeadOne, chosen.Source)
}

func TestArbitrate_EmptySet(t *testing.T) {
	_, ok := Arbitrate(nil)
	assert.False(t, ok)
}

func TestFutureFloor(t *testing.T) {
	assert.Equal(t, 12.0, FutureFloor(25.0, 12.0, 19.0))
	assert.Equal(t, 25.0, FutureFloor(25.0, 30.0, 27.5))
	assert.Equal(t, 25.0, FutureFloor(25.0))
}
