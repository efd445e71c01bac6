package replay

import (
	"context"
	"log/slog"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/fcw"
	"github.com/juny6654/longplan/internal/lead"
	"github.com/juny6654/longplan/internal/planner"
	"github.com/juny6654/longplan/internal/smoother"
)

// CycleTrace is one row of the run log.
type CycleTrace struct {
	Cycle   uint64           `json:"cycle"`
	VEgo    float64          `json:"v_ego"`
	Source  model.PlanSource `json:"source"`
	VTarget float64          `json:"v_target"`
	ATarget float64          `json:"a_target"`
	FCW     bool             `json:"fcw,omitempty"`
	Valid   bool             `json:"valid"`
}

// Transition records the plan source changing hands between cycles.
type Transition struct {
	Cycle uint64           `json:"cycle"`
	From  model.PlanSource `json:"from"`
	To    model.PlanSource `json:"to"`
}

// Result is the full outcome of one scenario run.
type Result struct {
	Scenario    string
	Trace       []CycleTrace
	Transitions []Transition
	Sources     map[model.PlanSource]int
	FCWCycles   int
	StaleCycles int
	Final       model.Plan
}

// Summary condenses a run for reporting.
type Summary struct {
	Scenario     string         `json:"scenario"`
	Cycles       int            `json:"cycles"`
	DriveSeconds float64        `json:"drive_seconds"`
	Sources      map[string]int `json:"sources"`
	Transitions  []Transition   `json:"transitions"`
	FCWCycles    int            `json:"fcw_cycles"`
	StaleCycles  int            `json:"stale_cycles"`
	FinalVEgo    float64        `json:"final_v_ego"`
	FinalSource  string         `json:"final_source"`
	FinalVTarget float64        `json:"final_v_target"`
	FinalATarget float64        `json:"final_a_target"`
}

func (r *Result) Summary() Summary {
	sources := make(map[string]int, len(r.Sources))
	for src, n := range r.Sources {
		sources[src.String()] = n
	}
	s := Summary{
		Scenario:     r.Scenario,
		Cycles:       len(r.Trace),
		DriveSeconds: float64(len(r.Trace)) * planner.ActuationStep,
		Sources:      sources,
		Transitions:  r.Transitions,
		FCWCycles:    r.FCWCycles,
		StaleCycles:  r.StaleCycles,
		FinalSource:  r.Final.Source.String(),
		FinalVTarget: r.Final.VTarget,
		FinalATarget: r.Final.ATarget,
	}
	if len(r.Trace) > 0 {
		s.FinalVEgo = r.Trace[len(r.Trace)-1].VEgo
	}
	return s
}

// fixedTuning serves the fixture's tuning block for the whole run.
type fixedTuning struct {
	tun planner.Tuning
}

func (f fixedTuning) Snapshot() planner.Tuning {
	return f.tun
}

// Harness wires a planner to the default collaborators and plays a scenario
// through it cycle by cycle, with the ego vehicle tracking each emitted plan.
type Harness struct {
	sc      *Scenario
	planner *planner.Planner
}

func NewHarness(sc *Scenario, logger *slog.Logger) *Harness {
	p := planner.New(
		sc.VehicleParams(),
		smoother.New(),
		lead.New(),
		lead.New(),
		fcw.New(),
		fixedTuning{tun: sc.PlannerTuning()},
		logger,
	)
	return &Harness{sc: sc, planner: p}
}

// Run plays the whole script and returns the collected trace. The context is
// checked between cycles so oversized fixtures stay interruptible.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	cur := newCursor(h.sc)
	total := h.sc.TotalCycles()

	res := &Result{
		Scenario: h.sc.Name,
		Trace:    make([]CycleTrace, 0, total),
		Sources:  make(map[model.PlanSource]int),
	}

	var prev model.PlanSource
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in := cur.input()
		plan := h.planner.Update(ctx, in)

		res.Trace = append(res.Trace, CycleTrace{
			Cycle:   plan.Cycle,
			VEgo:    in.Vehicle.VEgo,
			Source:  plan.Source,
			VTarget: plan.VTarget,
			ATarget: plan.ATarget,
			FCW:     plan.FCW,
			Valid:   plan.Valid,
		})
		res.Sources[plan.Source]++
		if plan.FCW {
			res.FCWCycles++
		}
		if !plan.Valid {
			res.StaleCycles++
		}
		if i > 0 && plan.Source != prev {
			res.Transitions = append(res.Transitions, Transition{Cycle: plan.Cycle, From: prev, To: plan.Source})
		}
		prev = plan.Source
		res.Final = plan

		cur.observe(plan)
	}
	return res, nil
}
