// Package tuning loads runtime behavior tuning from a JSON file, the knobs a
// fleet operator adjusts between drives without rebuilding the daemon.
package tuning

import (
	"log/slog"
	"sync"

	"github.com/spf13/viper"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/planner"
)

// fileTuning is the on-disk schema.
type fileTuning struct {
	AccelProfile      string `mapstructure:"accel_profile"`
	CoastEnabled      bool   `mapstructure:"coast_enabled"`
	LimitAccelInTurns bool   `mapstructure:"limit_accel_in_turns"`
	SlowOnCurves      bool   `mapstructure:"slow_on_curves"`
}

// Store reads planner tuning from a JSON file. Snapshot re-reads the file on
// every call; the planner only asks once per refresh window, and a missing
// or broken file falls back to the last good snapshot so a half-written edit
// on the road never changes behavior mid-drive.
type Store struct {
	v      *viper.Viper
	logger *slog.Logger
	static bool

	mu   sync.Mutex
	last planner.Tuning
}

// NewStore builds a store over the given file. An empty path disables file
// reads entirely and serves the defaults.
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{
		logger: logger.With("component", "tuning"),
		static: path == "",
		last:   Defaults(),
	}
	if s.static {
		return s
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("accel_profile", string(model.ProfileNormal))
	v.SetDefault("coast_enabled", true)
	v.SetDefault("limit_accel_in_turns", false)
	v.SetDefault("slow_on_curves", false)
	s.v = v
	return s
}

// Fixed returns a store that always serves the given tuning. Replay runs use
// it to pin behavior to a scenario's recorded knobs.
func Fixed(t planner.Tuning) *Store {
	return &Store{static: true, last: t}
}

// Defaults is the tuning used when no file has ever been readable.
func Defaults() planner.Tuning {
	return planner.Tuning{
		AccelProfile:      model.ProfileNormal,
		CoastEnabled:      true,
		LimitAccelInTurns: false,
		SlowOnCurves:      false,
	}
}

// Snapshot returns the current tuning, re-reading the file when one is
// configured.
func (s *Store) Snapshot() planner.Tuning {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.static {
		return s.last
	}

	if err := s.v.ReadInConfig(); err != nil {
		s.logger.Warn("tuning file unreadable, keeping last snapshot", "error", err, "file", s.v.ConfigFileUsed())
		return s.last
	}
	var f fileTuning
	if err := s.v.Unmarshal(&f); err != nil {
		s.logger.Warn("tuning file malformed, keeping last snapshot", "error", err, "file", s.v.ConfigFileUsed())
		return s.last
	}

	s.last = planner.Tuning{
		AccelProfile:      model.ParseAccelProfile(f.AccelProfile),
		CoastEnabled:      f.CoastEnabled,
		LimitAccelInTurns: f.LimitAccelInTurns,
		SlowOnCurves:      f.SlowOnCurves,
	}
	return s.last
}
