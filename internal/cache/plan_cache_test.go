package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juny6654/longplan/internal/domain/model"
)

func testPlan(cycle uint64) model.Plan {
	return model.Plan{
		DriveID: "drive-test",
		Cycle:   cycle,
		VTarget: 12.5,
		ATarget: 0.4,
		Source:  model.SourceCruiseGas,
		Valid:   true,
	}
}

func TestPlanCache_PutAt(t *testing.T) {
	c := NewPlanCache(100, 5*time.Minute)

	c.Put(testPlan(1))
	c.Put(testPlan(2))

	p, ok := c.At(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), p.Cycle)
	assert.Equal(t, 12.5, p.VTarget)

	p, ok = c.At(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), p.Cycle)

	_, ok = c.At(999)
	assert.False(t, ok)
}

func TestPlanCache_EvictionBounded(t *testing.T) {
	// One slot per shard.
	c := NewPlanCache(shardCount, 5*time.Minute)

	for cycle := uint64(0); cycle < 100; cycle++ {
		c.Put(testPlan(cycle))
	}

	assert.LessOrEqual(t, c.Len(), shardCount)

	// Sequential cycles fill shards round-robin, so the newest shardCount
	// cycles survive.
	for cycle := uint64(100 - shardCount); cycle < 100; cycle++ {
		_, ok := c.At(cycle)
		assert.True(t, ok, "cycle %d should still be cached", cycle)
	}
}

func TestPlanCache_LRUOrderWithinShard(t *testing.T) {
	// Three slots per shard; cycles 0, 16, 32, 48 all land in shard 0.
	c := NewPlanCache(3*shardCount, 5*time.Minute)

	c.Put(testPlan(0))
	c.Put(testPlan(16))
	c.Put(testPlan(32))

	// Touch cycle 0 so 16 becomes the oldest in its shard.
	_, ok := c.At(0)
	require.True(t, ok)

	c.Put(testPlan(48))

	_, ok = c.At(16)
	assert.False(t, ok, "cycle 16 should have been evicted")

	_, ok = c.At(0)
	assert.True(t, ok, "recently used cycle 0 should survive")
}

func TestPlanCache_TTLExpiration(t *testing.T) {
	c := NewPlanCache(100, 5*time.Minute)

	now := time.Now()
	for _, sh := range c.shards {
		sh.nowFn = func() time.Time { return now }
	}

	c.Put(testPlan(7))

	_, ok := c.At(7)
	assert.True(t, ok)

	for _, sh := range c.shards {
		sh.nowFn = func() time.Time { return now.Add(6 * time.Minute) }
	}

	_, ok = c.At(7)
	assert.False(t, ok, "entry should have expired")
}

func TestPlanCache_UpdateExistingCycle(t *testing.T) {
	c := NewPlanCache(100, 5*time.Minute)

	first := testPlan(5)
	c.Put(first)

	second := testPlan(5)
	second.VTarget = 20.0
	second.Source = model.SourceLeadOne
	c.Put(second)

	p, ok := c.At(5)
	require.True(t, ok)
	assert.Equal(t, 20.0, p.VTarget)
	assert.Equal(t, model.SourceLeadOne, p.Source)
	assert.Equal(t, 1, c.Len())
}

func TestPlanCache_Stats(t *testing.T) {
	c := NewPlanCache(100, 5*time.Minute)

	c.Put(testPlan(1))

	c.At(1) // hit
	c.At(1) // hit
	c.At(2) // miss

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestPlanCache_ConcurrentAccess(t *testing.T) {
	c := NewPlanCache(10000, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			base := uint64(id) * 1000
			for i := uint64(0); i < 1000; i++ {
				c.Put(testPlan(base + i))
				c.At(base + i)
			}
		}(g)
	}
	wg.Wait()

	assert.NotZero(t, c.Len())
}
