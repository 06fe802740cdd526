package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferManager(t *testing.T) {
	t.Run("ZeroPoolSizeSelectsGCManager", func(t *testing.T) {
		m := NewBufferManager(0, 4096)
		_, ok := m.(gcBufferManager)
		require.True(t, ok)

		buf := m.TakeBuffer(10)
		assert.Len(t, buf, 10)
		m.ReturnBuffer(buf)
		m.Clear()
	})

	t.Run("PositivePoolSizeSelectsPooledManager", func(t *testing.T) {
		m := NewBufferManager(1<<20, 4096)
		_, ok := m.(*PooledBufferManager)
		assert.True(t, ok)
	})

	t.Run("NegativeArgumentsPanic", func(t *testing.T) {
		assert.Panics(t, func() { NewBufferManager(-1, 4096) })
		assert.Panics(t, func() { NewBufferManager(1024, -1) })
	})
}

func TestPooledBufferManager(t *testing.T) {
	t.Run("SizeClassesDoubleUpToMaximum", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1000)
		sizes := make([]int, 0)
		for _, s := range m.Stats() {
			sizes = append(sizes, s.BufferSize)
			assert.Equal(t, initialBufferCount, s.Limit)
		}
		assert.Equal(t, []int{128, 256, 512, 1000}, sizes)
		assert.Equal(t, int64(1<<20-(128+256+512+1000)), m.RemainingMemory())
	})

	t.Run("InitialLimitsBoundedByBudget", func(t *testing.T) {
		m := NewPooledBufferManager(300, 1024)
		stats := m.Stats()
		assert.Equal(t, 1, stats[0].Limit)
		assert.Equal(t, 0, stats[1].Limit, "256 no longer fits after the 128 class")
		assert.Equal(t, int64(300-128), m.RemainingMemory())
	})

	t.Run("TakeBufferNeverReturnsLess", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1000)
		tests := []struct {
			requested int
			length    int
		}{
			{1, 128},
			{128, 128},
			{129, 256},
			{513, 1000},
			{1000, 1000},
			{1001, 1001},
			{1 << 16, 1 << 16},
		}
		for _, tt := range tests {
			buf := m.TakeBuffer(tt.requested)
			assert.Len(t, buf, tt.length, "requested %d", tt.requested)
			assert.GreaterOrEqual(t, len(buf), tt.requested)
		}
	})

	t.Run("ReturnedBufferIsReused", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1024)
		buf := m.TakeBuffer(200)
		m.ReturnBuffer(buf)
		assert.Equal(t, 1, m.Stats()[1].Count)

		again := m.TakeBuffer(256)
		assert.Same(t, &buf[0], &again[0])
		assert.Equal(t, 0, m.Stats()[1].Count)
	})

	t.Run("MismatchedLengthsAreDropped", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1024)

		m.ReturnBuffer(make([]byte, 200))
		m.ReturnBuffer(make([]byte, 4096))
		m.ReturnBuffer(nil)
		for _, s := range m.Stats() {
			assert.Equal(t, 0, s.Count, "class %d", s.BufferSize)
		}

		buf := m.TakeBuffer(129)
		assert.Len(t, buf, 256)
	})

	t.Run("PoolHoldsAtMostLimit", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1024)
		m.ReturnBuffer(make([]byte, 128))
		m.ReturnBuffer(make([]byte, 128))

		stats := m.Stats()[0]
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, 1, stats.Peak)
	})

	t.Run("MissesGrowStarvedClass", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1024)
		before := m.RemainingMemory()

		// Fill the class once so it has been at capacity.
		m.ReturnBuffer(m.TakeBuffer(100))

		held := make([][]byte, 0, maxMissesBeforeTuning+1)
		for i := 0; i < maxMissesBeforeTuning+1; i++ {
			held = append(held, m.TakeBuffer(100))
		}

		stats := m.Stats()[0]
		assert.Equal(t, 2, stats.Limit)
		assert.Equal(t, 0, stats.Misses, "misses reset after tuning")
		assert.Equal(t, before-128, m.RemainingMemory())

		for _, buf := range held {
			m.ReturnBuffer(buf)
		}
		assert.Equal(t, 2, m.Stats()[0].Count)
	})

	t.Run("TuningStealsFromIdleClass", func(t *testing.T) {
		m := NewPooledBufferManager(128+256, 256)
		require.Equal(t, int64(0), m.RemainingMemory())

		m.ReturnBuffer(m.TakeBuffer(64))
		for i := 0; i < maxMissesBeforeTuning+1; i++ {
			m.TakeBuffer(64)
		}

		stats := m.Stats()
		assert.Equal(t, 2, stats[0].Limit)
		assert.Equal(t, 0, stats[1].Limit)
		assert.Equal(t, int64(128), m.RemainingMemory())
	})

	t.Run("ClearDropsPooledBuffers", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 1024)
		m.ReturnBuffer(m.TakeBuffer(128))
		m.ReturnBuffer(m.TakeBuffer(1024))

		m.Clear()
		for _, s := range m.Stats() {
			assert.Equal(t, 0, s.Count)
		}
	})

	t.Run("LargeClassesUseStack", func(t *testing.T) {
		m := NewPooledBufferManager(1<<24, 1<<17)
		stats := m.Stats()
		last := len(stats) - 1
		require.Equal(t, 1<<17, stats[last].BufferSize)

		p := m.pools[last].Load()
		_, isStack := p.store.(*stackStore)
		assert.True(t, isStack)
		_, isChan := m.pools[0].Load().store.(*chanStore)
		assert.True(t, isChan)

		buf := m.TakeBuffer(100000)
		m.ReturnBuffer(buf)
		again := m.TakeBuffer(1 << 17)
		assert.Same(t, &buf[0], &again[0])
	})

	t.Run("ConcurrentTakeAndReturn", func(t *testing.T) {
		m := NewPooledBufferManager(1<<20, 8192)
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					size := 1 + (g*977+i*131)%8192
					buf := m.TakeBuffer(size)
					if len(buf) < size {
						t.Errorf("buffer too small: %d < %d", len(buf), size)
					}
					m.ReturnBuffer(buf)
				}
			}(g)
		}
		wg.Wait()

		for _, s := range m.Stats() {
			assert.LessOrEqual(t, s.Count, s.Limit)
		}
	})
}
