// Package replay runs the planner offline against scripted drive scenarios.
// A scenario is a JSON fixture describing the environment segment by segment;
// the harness closes the loop by letting the ego vehicle track each emitted
// plan, so a fixture exercises the same convergence behavior a real drive
// would.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/planner"
)

// Ego behavior modes. A tracking ego integrates the emitted plan one
// actuation step per cycle; a holding ego keeps its speed, which is the
// right model for disengaged phases where the driver has the car.
const (
	EgoTrack = "track"
	EgoHold  = "hold"
)

// Scenario is one scripted drive. Segments play back to back; the cycle
// cadence is one ActuationStep per cycle, so a 20-cycle segment covers one
// second of drive time.
type Scenario struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Tuning      TuningSpec  `json:"tuning"`
	Params      *ParamsSpec `json:"params,omitempty"`
	Expect      *ExpectSpec `json:"expect,omitempty"`
	Segments    []Segment   `json:"segments"`
}

// TuningSpec mirrors the tuning file schema so fixtures read like the
// operator knobs they stand in for.
type TuningSpec struct {
	AccelProfile      string `json:"accel_profile,omitempty"`
	CoastEnabled      *bool  `json:"coast_enabled,omitempty"`
	LimitAccelInTurns bool   `json:"limit_accel_in_turns,omitempty"`
	SlowOnCurves      bool   `json:"slow_on_curves,omitempty"`
}

// ParamsSpec overrides vehicle parameters for the drive. Zero fields keep
// the default sedan profile.
type ParamsSpec struct {
	SteerRatio    float64 `json:"steer_ratio,omitempty"`
	Wheelbase     float64 `json:"wheelbase,omitempty"`
	MinTrackSpeed float64 `json:"min_track_speed,omitempty"`
	StartAccel    float64 `json:"start_accel,omitempty"`
}

// ExpectSpec is a scenario's pass criteria. The replay runner checks the
// finished run against it and exits nonzero on a miss, which makes a fixture
// usable as a regression gate.
type ExpectSpec struct {
	FinalSource    string   `json:"final_source,omitempty"`
	FinalVEgoMin   *float64 `json:"final_v_ego_min,omitempty"`
	FinalVEgoMax   *float64 `json:"final_v_ego_max,omitempty"`
	FCW            *bool    `json:"fcw,omitempty"`
	MaxStaleCycles *int     `json:"max_stale_cycles,omitempty"`
}

// Segment is one stretch of the drive under a fixed environment. VEgo and
// AEgo pin the ego state once at segment entry; Lead and LeadTwo seed a
// radar track at entry which the harness then integrates forward, so a lead
// driving slower than the ego closes the gap cycle by cycle on its own.
type Segment struct {
	Name   string `json:"name,omitempty"`
	Cycles int    `json:"cycles"`

	// Controls feed. State defaults to pid; Active follows the state's
	// engaged-ness unless pinned.
	State       string  `json:"state,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	SetSpeedKph float64 `json:"set_speed_kph,omitempty"`
	ForceDecel  bool    `json:"force_decel,omitempty"`

	// Ego behavior and entry pins.
	Ego  string   `json:"ego,omitempty"`
	VEgo *float64 `json:"v_ego,omitempty"`
	AEgo *float64 `json:"a_ego,omitempty"`

	// Driver inputs.
	SteeringDeg  float64 `json:"steering_deg,omitempty"`
	GasPressed   bool    `json:"gas_pressed,omitempty"`
	BrakePressed bool    `json:"brake_pressed,omitempty"`
	LeftBlinker  bool    `json:"left_blinker,omitempty"`
	RightBlinker bool    `json:"right_blinker,omitempty"`

	// Actuator feedback, both in [0, 1].
	Gas   float64 `json:"gas,omitempty"`
	Brake float64 `json:"brake,omitempty"`

	// Radar tracks. Omitted means the slot is empty for the segment.
	Lead    *LeadSpec `json:"lead,omitempty"`
	LeadTwo *LeadSpec `json:"lead_two,omitempty"`

	// Stale marks every cycle in the segment as missing its input window.
	Stale bool `json:"stale,omitempty"`
}

// LeadSpec seeds a radar track at segment entry. Speeds are absolute m/s.
type LeadSpec struct {
	DRel  float64 `json:"d_rel"`
	VLead float64 `json:"v_lead"`
	ALead float64 `json:"a_lead,omitempty"`
	YRel  float64 `json:"y_rel,omitempty"`
	FCW   bool    `json:"fcw,omitempty"`
}

// Load reads and validates a scenario fixture.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return &sc, nil
}

// Validate checks the fixture for authoring mistakes that would otherwise
// surface as a confusing planner trace.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Segments) == 0 {
		return fmt.Errorf("at least one segment is required")
	}
	if s.Expect != nil {
		if err := s.Expect.validate(); err != nil {
			return fmt.Errorf("expect: %w", err)
		}
	}
	for i := range s.Segments {
		seg := &s.Segments[i]
		if seg.Cycles <= 0 {
			return fmt.Errorf("segment %d: cycles must be positive, got %d", i, seg.Cycles)
		}
		switch seg.longControlState() {
		case model.LongControlOff, model.LongControlPID, model.LongControlStopping, model.LongControlStarting:
		default:
			return fmt.Errorf("segment %d: unknown state %q", i, seg.State)
		}
		switch seg.egoMode() {
		case EgoTrack, EgoHold:
		default:
			return fmt.Errorf("segment %d: unknown ego mode %q", i, seg.Ego)
		}
		if seg.longControlState().Engaged() && seg.SetSpeedKph <= 0 {
			return fmt.Errorf("segment %d: engaged segment needs set_speed_kph", i)
		}
		if seg.VEgo != nil && *seg.VEgo < 0 {
			return fmt.Errorf("segment %d: v_ego must be non-negative", i)
		}
		for slot, lead := range map[string]*LeadSpec{"lead": seg.Lead, "lead_two": seg.LeadTwo} {
			if lead != nil && lead.DRel <= 0 {
				return fmt.Errorf("segment %d: %s d_rel must be positive", i, slot)
			}
		}
	}
	return nil
}

func (e *ExpectSpec) validate() error {
	switch model.PlanSource(e.FinalSource) {
	case "", model.SourceCruiseCoast, model.SourceCruiseGas, model.SourceCruiseBrake,
		model.SourceLeadOne, model.SourceLeadTwo:
	default:
		return fmt.Errorf("unknown final_source %q", e.FinalSource)
	}
	if e.FinalVEgoMin != nil && e.FinalVEgoMax != nil && *e.FinalVEgoMin > *e.FinalVEgoMax {
		return fmt.Errorf("final_v_ego_min %v above final_v_ego_max %v", *e.FinalVEgoMin, *e.FinalVEgoMax)
	}
	if e.MaxStaleCycles != nil && *e.MaxStaleCycles < 0 {
		return fmt.Errorf("max_stale_cycles must be non-negative, got %d", *e.MaxStaleCycles)
	}
	return nil
}

// TotalCycles is the scripted drive length in planning cycles.
func (s *Scenario) TotalCycles() int {
	total := 0
	for i := range s.Segments {
		total += s.Segments[i].Cycles
	}
	return total
}

// Duration is the scripted drive length in drive time.
func (s *Scenario) Duration() time.Duration {
	return time.Duration(float64(s.TotalCycles()) * planner.ActuationStep * float64(time.Second))
}

// VehicleParams resolves the fixture's parameter overrides against the
// defaults.
func (s *Scenario) VehicleParams() model.VehicleParams {
	params := model.DefaultVehicleParams()
	if s.Params == nil {
		return params
	}
	if s.Params.SteerRatio > 0 {
		params.SteerRatio = s.Params.SteerRatio
	}
	if s.Params.Wheelbase > 0 {
		params.Wheelbase = s.Params.Wheelbase
	}
	if s.Params.MinTrackSpeed > 0 {
		params.MinTrackSpeed = s.Params.MinTrackSpeed
	}
	if s.Params.StartAccel > 0 {
		params.StartAccel = s.Params.StartAccel
	}
	return params
}

// PlannerTuning resolves the fixture tuning block. Coast defaults on, like
// the tuning store.
func (s *Scenario) PlannerTuning() planner.Tuning {
	coast := true
	if s.Tuning.CoastEnabled != nil {
		coast = *s.Tuning.CoastEnabled
	}
	return planner.Tuning{
		AccelProfile:      model.ParseAccelProfile(s.Tuning.AccelProfile),
		CoastEnabled:      coast,
		LimitAccelInTurns: s.Tuning.LimitAccelInTurns,
		SlowOnCurves:      s.Tuning.SlowOnCurves,
	}
}

func (seg *Segment) longControlState() model.LongControlState {
	if seg.State == "" {
		return model.LongControlPID
	}
	return model.LongControlState(seg.State)
}

func (seg *Segment) egoMode() string {
	if seg.Ego == "" {
		return EgoTrack
	}
	return seg.Ego
}

func (seg *Segment) active() bool {
	if seg.Active != nil {
		return *seg.Active
	}
	return seg.longControlState().Engaged()
}
