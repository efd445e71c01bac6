package admin

import (
	"context"
	"sync"
	"time"

	"github.com/juny6654/longplan/internal/cache"
	"github.com/juny6654/longplan/internal/domain/model"
)

// defaultRingSize keeps ten seconds of plans at the 20 Hz cycle rate.
const defaultRingSize = 200

// Recorder is a plan sink feeding the ops API. It keeps a fixed ring of the
// newest plans, per-source counters, and a cycle-keyed cache for point
// lookups. Accept holds one mutex briefly and never blocks on I/O, so it is
// safe to register directly on the planning loop.
type Recorder struct {
	plans *cache.PlanCache

	mu      sync.RWMutex
	ring    []model.Plan
	next    int
	filled  bool
	total   uint64
	invalid uint64
	fcw     uint64
	sources map[model.PlanSource]uint64
	driveID string
	firstAt time.Time
	lastAt  time.Time
	last    model.Plan
	hasLast bool
}

// NewRecorder builds a recorder with the given ring size; zero or negative
// falls back to the default. plans may be nil to disable cycle lookups.
func NewRecorder(ringSize int, plans *cache.PlanCache) *Recorder {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &Recorder{
		plans:   plans,
		ring:    make([]model.Plan, ringSize),
		sources: make(map[model.PlanSource]uint64),
	}
}

// Accept records an emitted plan. It always returns nil: visibility must not
// fail the planning cycle.
func (rec *Recorder) Accept(_ context.Context, p model.Plan) error {
	if rec.plans != nil {
		rec.plans.Put(p)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.ring[rec.next] = p
	rec.next++
	if rec.next == len(rec.ring) {
		rec.next = 0
		rec.filled = true
	}

	rec.total++
	if !p.Valid {
		rec.invalid++
	}
	if p.FCW {
		rec.fcw++
	}
	rec.sources[p.Source]++
	rec.driveID = p.DriveID
	if rec.firstAt.IsZero() {
		rec.firstAt = p.CreatedAt
	}
	rec.lastAt = p.CreatedAt
	rec.last = p
	rec.hasLast = true

	return nil
}

// Recent returns up to limit plans, newest first.
func (rec *Recorder) Recent(limit int) []model.Plan {
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	n := rec.next
	if rec.filled {
		n = len(rec.ring)
	}
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]model.Plan, 0, n)
	for i := 1; i <= n; i++ {
		idx := rec.next - i
		if idx < 0 {
			idx += len(rec.ring)
		}
		out = append(out, rec.ring[idx])
	}
	return out
}

// At returns the cached plan for a cycle, if the cache still holds it.
func (rec *Recorder) At(cycle uint64) (model.Plan, bool) {
	if rec.plans == nil {
		return model.Plan{}, false
	}
	return rec.plans.At(cycle)
}

// RecorderStats is the counter snapshot served by the status endpoint.
type RecorderStats struct {
	DriveID     string            `json:"drive_id"`
	Plans       uint64            `json:"plans_total"`
	Invalid     uint64            `json:"plans_invalid"`
	FCWCycles   uint64            `json:"fcw_cycles"`
	Sources     map[string]uint64 `json:"sources"`
	FirstPlanAt time.Time         `json:"first_plan_at"`
	LastPlanAt  time.Time         `json:"last_plan_at"`
	LastPlan    *model.Plan       `json:"last_plan,omitempty"`
	CacheHits   int64             `json:"cache_hits"`
	CacheMisses int64             `json:"cache_misses"`
}

// Stats snapshots the recorder counters.
func (rec *Recorder) Stats() RecorderStats {
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	stats := RecorderStats{
		DriveID:     rec.driveID,
		Plans:       rec.total,
		Invalid:     rec.invalid,
		FCWCycles:   rec.fcw,
		Sources:     make(map[string]uint64, len(rec.sources)),
		FirstPlanAt: rec.firstAt,
		LastPlanAt:  rec.lastAt,
	}
	for src, count := range rec.sources {
		stats.Sources[src.String()] = count
	}
	if rec.hasLast {
		last := rec.last
		stats.LastPlan = &last
	}
	if rec.plans != nil {
		stats.CacheHits, stats.CacheMisses = rec.plans.Stats()
	}
	return stats
}
