package bufpool

import (
	"sync"
	"sync/atomic"
)

// classPool is the bounded pool of one size class. count is the number of
// buffers currently pooled and peak its high-water mark since creation.
type classPool struct {
	bufferSize int
	limit      int

	count  atomic.Int32
	peak   atomic.Int32
	misses atomic.Int32

	store bufferStore
}

// bufferStore holds at most limit buffers.
type bufferStore interface {
	take() []byte
	put(buf []byte) bool
}

func newClassPool(bufferSize, limit int) *classPool {
	p := &classPool{bufferSize: bufferSize, limit: limit}
	if bufferSize < largeBufferThreshold {
		p.store = &chanStore{ch: make(chan []byte, limit)}
	} else {
		p.store = &stackStore{limit: limit}
	}
	return p
}

func (p *classPool) take() []byte {
	buf := p.store.take()
	if buf != nil {
		p.count.Add(-1)
	}
	return buf
}

func (p *classPool) put(buf []byte) {
	if !p.store.put(buf) {
		return
	}
	count := p.count.Add(1)
	for {
		peak := p.peak.Load()
		if count <= peak || p.peak.CompareAndSwap(peak, count) {
			return
		}
	}
}

// atCapacity reports whether the pool has been full at some point, which
// makes a miss a sign of real demand above the limit.
func (p *classPool) atCapacity() bool {
	return int(p.peak.Load()) == p.limit
}

// chanStore is a lock-free store for small buffers.
type chanStore struct {
	ch chan []byte
}

func (s *chanStore) take() []byte {
	select {
	case buf := <-s.ch:
		return buf
	default:
		return nil
	}
}

func (s *chanStore) put(buf []byte) bool {
	select {
	case s.ch <- buf:
		return true
	default:
		return false
	}
}

// stackStore keeps large buffers on a mutex-protected stack so the most
// recently used (and most likely cache-warm) buffer is reused first.
type stackStore struct {
	mu    sync.Mutex
	items [][]byte
	limit int
}

func (s *stackStore) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	if n == 0 {
		return nil
	}
	buf := s.items[n-1]
	s.items[n-1] = nil
	s.items = s.items[:n-1]
	return buf
}

func (s *stackStore) put(buf []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= s.limit {
		return false
	}
	s.items = append(s.items, buf)
	return true
}
