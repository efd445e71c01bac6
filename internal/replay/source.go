package replay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/juny6654/longplan/internal/domain/model"
)

// Source adapts a scenario into the planning loop's cycle source. Wiring the
// same value in as a plan sink closes the loop: each accepted plan advances
// the scripted ego, exactly like the offline harness. After the script ends
// the source keeps serving the final environment so the daemon idles there
// instead of erroring at the loop cadence.
type Source struct {
	logger *slog.Logger

	mu  sync.Mutex
	cur *cursor
}

func NewSource(sc *Scenario, logger *slog.Logger) *Source {
	return &Source{
		logger: logger.With("component", "replay_source"),
		cur:    newCursor(sc),
	}
}

// Snapshot serves the current scripted cycle.
func (s *Source) Snapshot(ctx context.Context) (model.CycleInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.input(), nil
}

// Accept advances the script using the plan emitted for the last snapshot.
func (s *Source) Accept(ctx context.Context, plan model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.cur.done
	s.cur.observe(plan)
	if !was && s.cur.done {
		s.logger.Info("scenario script exhausted, holding final environment",
			"scenario", s.cur.sc.Name,
			"cycles", s.cur.sc.TotalCycles(),
		)
	}
	return nil
}

// Done reports whether the script has been fully played.
func (s *Source) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.done
}
