package bufpool

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/marmos91/framingd/internal/logger"
)

// ============================================================================
// Buffer Manager
// ============================================================================
//
// A BufferManager hands out byte slices for connection reads and message
// bodies. Two implementations exist:
//
// - gcBufferManager allocates a fresh slice on every call and ignores returns.
//   It is selected when the pool budget is zero.
// - PooledBufferManager keeps per-size-class pools whose capacity is tuned at
//   runtime: classes that keep missing while full receive more slots, paid for
//   by classes whose slots sit idle.
//
// Thread Safety:
// - Both implementations are safe for concurrent use from any number of
//   connections. Callers never lock externally.

const (
	// minBufferSize is the smallest size class.
	minBufferSize = 128

	// maxMissesBeforeTuning is the number of misses across all classes that
	// triggers a tuning pass.
	maxMissesBeforeTuning = 8

	// initialBufferCount is the initial slot limit of every class.
	initialBufferCount = 1

	// largeBufferThreshold is the class size from which pools switch from a
	// channel to a mutex-protected stack.
	largeBufferThreshold = 85000
)

// BufferManager rents byte slices and takes them back.
type BufferManager interface {
	// TakeBuffer returns a slice whose length is at least size. The length
	// may be rounded up to the size class.
	TakeBuffer(size int) []byte

	// ReturnBuffer gives buf back to the manager. The caller must not use buf
	// afterwards. Slices whose length does not match a size class exactly are
	// dropped.
	ReturnBuffer(buf []byte)

	// Clear drops every pooled buffer.
	Clear()
}

// NewBufferManager returns a GC-backed manager when maxPoolSize is zero and a
// PooledBufferManager otherwise. Negative arguments panic.
func NewBufferManager(maxPoolSize int64, maxBufferSize int) BufferManager {
	if maxPoolSize < 0 {
		panic(fmt.Sprintf("bufpool: negative max pool size %d", maxPoolSize))
	}
	if maxBufferSize < 0 {
		panic(fmt.Sprintf("bufpool: negative max buffer size %d", maxBufferSize))
	}
	if maxPoolSize == 0 {
		return gcBufferManager{}
	}
	return NewPooledBufferManager(maxPoolSize, maxBufferSize)
}

// gcBufferManager leaves buffer lifetime to the garbage collector.
type gcBufferManager struct{}

func (gcBufferManager) TakeBuffer(size int) []byte { return make([]byte, size) }
func (gcBufferManager) ReturnBuffer([]byte)        {}
func (gcBufferManager) Clear()                     {}

// ============================================================================
// Pooled Buffer Manager
// ============================================================================

// PooledBufferManager pools buffers in size classes starting at 128 bytes and
// doubling up to the configured maximum buffer size. Requests larger than the
// maximum are allocated exactly and never pooled.
type PooledBufferManager struct {
	bufferSizes []int
	pools       []atomic.Pointer[classPool]

	remainingMemory atomic.Int64
	totalMisses     atomic.Int32
	tuning          atomic.Bool
}

// ClassStats is a snapshot of one size class.
type ClassStats struct {
	BufferSize int
	Limit      int
	Count      int
	Peak       int
	Misses     int
}

// NewPooledBufferManager builds the size classes, giving each an initial
// limit bounded by maxMemoryToPool.
func NewPooledBufferManager(maxMemoryToPool int64, maxBufferSize int) *PooledBufferManager {
	m := &PooledBufferManager{}
	remaining := maxMemoryToPool

	var classes []*classPool
	for bufferSize := minBufferSize; ; {
		count := remaining / int64(bufferSize)
		if count > initialBufferCount {
			count = initialBufferCount
		}
		classes = append(classes, newClassPool(bufferSize, int(count)))
		remaining -= count * int64(bufferSize)

		if bufferSize >= maxBufferSize {
			break
		}
		next := int64(bufferSize) * 2
		if next > int64(maxBufferSize) {
			bufferSize = maxBufferSize
		} else {
			bufferSize = int(next)
		}
	}

	m.remainingMemory.Store(remaining)
	m.bufferSizes = make([]int, len(classes))
	m.pools = make([]atomic.Pointer[classPool], len(classes))
	for i, p := range classes {
		m.bufferSizes[i] = p.bufferSize
		m.pools[i].Store(p)
	}
	return m
}

// TakeBuffer implements BufferManager.
func (m *PooledBufferManager) TakeBuffer(size int) []byte {
	idx := m.findPool(size)
	if idx < 0 {
		return make([]byte, size)
	}

	p := m.pools[idx].Load()
	if buf := p.take(); buf != nil {
		return buf
	}

	if p.atCapacity() {
		p.misses.Add(1)
		if m.totalMisses.Add(1) >= maxMissesBeforeTuning {
			m.tuneQuotas()
		}
	}
	return make([]byte, p.bufferSize)
}

// ReturnBuffer implements BufferManager.
func (m *PooledBufferManager) ReturnBuffer(buf []byte) {
	idx := m.findPool(len(buf))
	if idx < 0 || m.bufferSizes[idx] != len(buf) {
		return
	}
	m.pools[idx].Load().put(buf)
}

// Clear implements BufferManager.
func (m *PooledBufferManager) Clear() {
	for i := range m.pools {
		p := m.pools[i].Load()
		for p.take() != nil {
		}
	}
}

// Stats returns a snapshot of every size class, smallest first.
func (m *PooledBufferManager) Stats() []ClassStats {
	stats := make([]ClassStats, len(m.pools))
	for i := range m.pools {
		p := m.pools[i].Load()
		stats[i] = ClassStats{
			BufferSize: p.bufferSize,
			Limit:      p.limit,
			Count:      int(p.count.Load()),
			Peak:       int(p.peak.Load()),
			Misses:     int(p.misses.Load()),
		}
	}
	return stats
}

// RemainingMemory returns the pool budget not yet assigned to any class.
func (m *PooledBufferManager) RemainingMemory() int64 {
	return m.remainingMemory.Load()
}

// findPool returns the index of the smallest class that fits size, or -1.
func (m *PooledBufferManager) findPool(size int) int {
	idx := sort.SearchInts(m.bufferSizes, size)
	if idx == len(m.bufferSizes) {
		return -1
	}
	return idx
}

// tuneQuotas moves one slot from the class with the most idle bytes to the
// class with the most missed bytes. Concurrent callers skip the pass.
func (m *PooledBufferManager) tuneQuotas() {
	if !m.tuning.CompareAndSwap(false, true) {
		return
	}
	defer m.tuning.Store(false)

	if starved := m.findMostStarvedPool(); starved >= 0 {
		size := int64(m.bufferSizes[starved])
		if m.remainingMemory.Load() < size {
			if excessive := m.findMostExcessivePool(); excessive >= 0 {
				m.changeQuota(excessive, -1)
			}
		}
		if m.remainingMemory.Load() >= size {
			m.changeQuota(starved, 1)
		}
	}

	for i := range m.pools {
		m.pools[i].Load().misses.Store(0)
	}
	m.totalMisses.Store(0)
}

func (m *PooledBufferManager) findMostStarvedPool() int {
	var maxBytesMissed int64
	index := -1
	for i := range m.pools {
		p := m.pools[i].Load()
		if !p.atCapacity() {
			continue
		}
		if missed := int64(p.misses.Load()) * int64(p.bufferSize); missed > maxBytesMissed {
			maxBytesMissed = missed
			index = i
		}
	}
	return index
}

func (m *PooledBufferManager) findMostExcessivePool() int {
	var maxBytesInExcess int64
	index := -1
	for i := range m.pools {
		p := m.pools[i].Load()
		peak := int(p.peak.Load())
		if peak >= p.limit {
			continue
		}
		if excess := int64(p.limit-peak) * int64(p.bufferSize); excess > maxBytesInExcess {
			maxBytesInExcess = excess
			index = i
		}
	}
	return index
}

// changeQuota replaces the pool at idx with one whose limit differs by delta,
// moving as many pooled buffers as the new limit allows.
func (m *PooledBufferManager) changeQuota(idx, delta int) {
	old := m.pools[idx].Load()
	replacement := newClassPool(old.bufferSize, old.limit+delta)
	for i := 0; i < replacement.limit; i++ {
		buf := old.take()
		if buf == nil {
			break
		}
		replacement.put(buf)
	}

	m.remainingMemory.Add(-int64(old.bufferSize) * int64(delta))
	m.pools[idx].Store(replacement)

	logger.Debug("Buffer pool quota for %d-byte class changed from %d to %d (remaining budget %d bytes)",
		old.bufferSize, old.limit, replacement.limit, m.remainingMemory.Load())
}
