package tuning

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/domain/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeTuning(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSnapshot_ReadsFile(t *testing.T) {
	path := writeTuning(t, `{
		"accel_profile": "sport",
		"coast_enabled": false,
		"limit_accel_in_turns": true,
		"slow_on_curves": true
	}`)

	s := NewStore(path, testLogger)
	tun := s.Snapshot()
	assert.Equal(t, model.ProfileSport, tun.AccelProfile)
	assert.False(t, tun.CoastEnabled)
	assert.True(t, tun.LimitAccelInTurns)
	assert.True(t, tun.SlowOnCurves)
}

func TestSnapshot_AppliesDefaultsForMissingKeys(t *testing.T) {
	path := writeTuning(t, `{"accel_profile": "eco"}`)

	s := NewStore(path, testLogger)
	tun := s.Snapshot()
	assert.Equal(t, model.ProfileEco, tun.AccelProfile)
	assert.True(t, tun.CoastEnabled)
	assert.False(t, tun.LimitAccelInTurns)
}

func TestSnapshot_UnknownProfileFallsBackToNormal(t *testing.T) {
	path := writeTuning(t, `{"accel_profile": "ludicrous"}`)

	s := NewStore(path, testLogger)
	assert.Equal(t, model.ProfileNormal, s.Snapshot().AccelProfile)
}

func TestSnapshot_SeesEdits(t *testing.T) {
	path := writeTuning(t, `{"accel_profile": "normal"}`)
	s := NewStore(path, testLogger)
	require.Equal(t, model.ProfileNormal, s.Snapshot().AccelProfile)

	require.NoError(t, os.WriteFile(path, []byte(`{"accel_profile": "eco"}`), 0o644))
	assert.Equal(t, model.ProfileEco, s.Snapshot().AccelProfile)
}

func TestSnapshot_BrokenFileKeepsLastGood(t *testing.T) {
	path := writeTuning(t, `{"accel_profile": "sport"}`)
	s := NewStore(path, testLogger)
	require.Equal(t, model.ProfileSport, s.Snapshot().AccelProfile)

	require.NoError(t, os.WriteFile(path, []byte(`{"accel_profile": `), 0o644))
	assert.Equal(t, model.ProfileSport, s.Snapshot().AccelProfile)
}

func TestSnapshot_MissingFileServesDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.json"), testLogger)
	assert.Equal(t, Defaults(), s.Snapshot())
}

func TestSnapshot_EmptyPathIsStatic(t *testing.T) {
	s := NewStore("", testLogger)
	assert.Equal(t, Defaults(), s.Snapshot())
}

func TestFixed_ServesPinnedTuning(t *testing.T) {
	pinned := Defaults()
	pinned.AccelProfile = model.ProfileSport
	pinned.CoastEnabled = false

	s := Fixed(pinned)
	assert.Equal(t, pinned, s.Snapshot())
	assert.Equal(t, pinned, s.Snapshot(), "fixed tuning never changes between snapshots")
}
