package publish

import (
	"context"
	"sync"

	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/metrics"
)

// MemoryPublisher keeps the most recent plans in a fixed ring. It stands in
// for the stream transport when no broker is configured and gives tests and
// the replay tool direct access to what was published.
type MemoryPublisher struct {
	mu    sync.Mutex
	ring  []model.Plan
	next  int
	count int
}

func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &MemoryPublisher{ring: make([]model.Plan, capacity)}
}

func (p *MemoryPublisher) Accept(_ context.Context, plan model.Plan) error {
	p.mu.Lock()
	p.ring[p.next] = plan
	p.next = (p.next + 1) % len(p.ring)
	if p.count < len(p.ring) {
		p.count++
	}
	p.mu.Unlock()

	metrics.PublishedPlansTotal.WithLabelValues(transportMemory).Inc()
	return nil
}

// Plans returns the buffered plans, oldest first.
func (p *MemoryPublisher) Plans() []model.Plan {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.Plan, 0, p.count)
	for i := 0; i < p.count; i++ {
		idx := (p.next - p.count + i + len(p.ring)) % len(p.ring)
		out = append(out, p.ring[idx])
	}
	return out
}

// Last returns the most recently accepted plan.
func (p *MemoryPublisher) Last() (model.Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		return model.Plan{}, false
	}
	return p.ring[(p.next-1+len(p.ring))%len(p.ring)], true
}

func (p *MemoryPublisher) Name() string {
	return transportMemory
}

func (p *MemoryPublisher) Close() error {
	return nil
}
