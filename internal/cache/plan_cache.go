// Package cache keeps recently published plans in memory so the ops API can
// answer cycle lookups without a round trip to the archive.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/juny6654/longplan/internal/domain/model"
)

// shardCount must be a power of two. Cycles are sequential, so masking the
// cycle number spreads consecutive writes round-robin across shards.
const shardCount = 16

// PlanCache is a sharded LRU of plans keyed by cycle, with per-entry TTL.
// The planner writes one entry per cycle at 20 Hz while API readers probe
// arbitrary cycles; sharding keeps the two from serializing on one lock.
type PlanCache struct {
	shards [shardCount]*planShard
}

// NewPlanCache sizes the cache for capacity plans in total. 12000 entries
// holds ten minutes of driving at the 20 Hz cycle rate.
func NewPlanCache(capacity int, ttl time.Duration) *PlanCache {
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	c := &PlanCache{}
	for i := range c.shards {
		c.shards[i] = &planShard{
			capacity: perShard,
			ttl:      ttl,
			items:    make(map[uint64]*list.Element, perShard),
			order:    list.New(),
			nowFn:    time.Now,
		}
	}
	return c
}

// Put stores the plan under its cycle number.
func (c *PlanCache) Put(p model.Plan) {
	c.shard(p.Cycle).put(p)
}

// At returns the cached plan for a cycle, if present and not expired.
func (c *PlanCache) At(cycle uint64) (model.Plan, bool) {
	return c.shard(cycle).get(cycle)
}

// Len counts cached plans, including expired entries not yet evicted.
func (c *PlanCache) Len() int {
	total := 0
	for _, sh := range c.shards {
		total += sh.len()
	}
	return total
}

// Stats returns hit and miss counts aggregated across shards.
func (c *PlanCache) Stats() (hits, misses int64) {
	for _, sh := range c.shards {
		h, m := sh.stats()
		hits += h
		misses += m
	}
	return
}

func (c *PlanCache) shard(cycle uint64) *planShard {
	return c.shards[cycle&(shardCount-1)]
}

type planShard struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[uint64]*list.Element
	order    *list.List
	nowFn    func() time.Time

	hits   int64
	misses int64
}

type planEntry struct {
	cycle     uint64
	plan      model.Plan
	expiresAt time.Time
}

func (s *planShard) get(cycle uint64) (model.Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[cycle]
	if !ok {
		s.misses++
		return model.Plan{}, false
	}

	e := elem.Value.(*planEntry)
	if s.nowFn().After(e.expiresAt) {
		s.remove(elem)
		s.misses++
		return model.Plan{}, false
	}

	s.order.MoveToFront(elem)
	s.hits++
	return e.plan, true
}

func (s *planShard) put(p model.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[p.Cycle]; ok {
		s.order.MoveToFront(elem)
		e := elem.Value.(*planEntry)
		e.plan = p
		e.expiresAt = s.nowFn().Add(s.ttl)
		return
	}

	if s.order.Len() >= s.capacity {
		if oldest := s.order.Back(); oldest != nil {
			s.remove(oldest)
		}
	}

	elem := s.order.PushFront(&planEntry{
		cycle:     p.Cycle,
		plan:      p,
		expiresAt: s.nowFn().Add(s.ttl),
	})
	s.items[p.Cycle] = elem
}

func (s *planShard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *planShard) stats() (hits, misses int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *planShard) remove(elem *list.Element) {
	s.order.Remove(elem)
	e := elem.Value.(*planEntry)
	delete(s.items, e.cycle)
}
