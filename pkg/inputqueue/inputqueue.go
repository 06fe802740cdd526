// Package inputqueue provides InputQueue, the producer/consumer hand-off used
// to pass accepted connections and decoded messages to their consumers.
//
// An enqueued item either goes straight to the oldest waiting reader or is
// buffered. Items enqueued while a reader is waiting but dispatching on the
// calling goroutine is not allowed are buffered as pending and become
// visible to readers only when Dispatch runs.
package inputqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/framingd/internal/logger"
)

// ErrQueueClosed is returned to readers of a closed queue.
var ErrQueueClosed = errors.New("inputqueue: queue closed")

// State is the lifecycle state of a queue. Transitions only move forward.
type State int

const (
	StateOpen State = iota
	StateShutdown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateShutdown:
		return "shutdown"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// InputQueue is a FIFO queue with blocking, cancellable readers.
type InputQueue[T any] struct {
	mu      sync.Mutex
	state   State
	items   itemQueue[T]
	readers []*queueReader[T]
	waiters []*queueWaiter

	disposeItem func(T)
}

// Option configures an InputQueue.
type Option[T any] func(*InputQueue[T])

// WithDisposeItemCallback sets the function used to release buffered items
// that do not implement io.Closer when the queue is closed or refuses them.
func WithDisposeItemCallback[T any](fn func(T)) Option[T] {
	return func(q *InputQueue[T]) {
		q.disposeItem = fn
	}
}

// New returns an open queue.
func New[T any](opts ...Option[T]) *InputQueue[T] {
	q := &InputQueue[T]{}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// queueReader is a parked Dequeue call. set is called exactly once, by the
// goroutine that removed the reader from the queue.
type queueReader[T any] struct {
	done chan struct{}
	item item[T]
}

func newQueueReader[T any]() *queueReader[T] {
	return &queueReader[T]{done: make(chan struct{})}
}

func (r *queueReader[T]) set(it item[T]) {
	r.item = it
	close(r.done)
}

// queueWaiter is a parked WaitForItem call.
type queueWaiter struct {
	done          chan struct{}
	itemAvailable bool
}

func (w *queueWaiter) set(itemAvailable bool) {
	w.itemAvailable = itemAvailable
	close(w.done)
}

// ============================================================================
// Enqueue
// ============================================================================

// EnqueueAndDispatch adds value to the queue. When a reader is waiting and
// canDispatchOnThisThread is true, the reader is completed before this call
// returns; otherwise the hand-off runs on another goroutine. dequeued, if
// non-nil, runs once when the item leaves the queue.
func (q *InputQueue[T]) EnqueueAndDispatch(value T, dequeued func(), canDispatchOnThisThread bool) {
	q.enqueueAndDispatch(item[T]{value: value, dequeued: dequeued}, canDispatchOnThisThread, true)
}

// TryEnqueueAndDispatch is EnqueueAndDispatch for producers that must know
// whether the item was taken. It returns false when the queue no longer
// accepts items; the item is then left with the caller, not disposed, and
// dequeued is not run.
func (q *InputQueue[T]) TryEnqueueAndDispatch(value T, dequeued func(), canDispatchOnThisThread bool) bool {
	return q.enqueueAndDispatch(item[T]{value: value, dequeued: dequeued}, canDispatchOnThisThread, false)
}

// EnqueueErrorAndDispatch is EnqueueAndDispatch for an error: the reader that
// receives it gets err instead of a value.
func (q *InputQueue[T]) EnqueueErrorAndDispatch(err error, dequeued func(), canDispatchOnThisThread bool) {
	q.enqueueAndDispatch(item[T]{err: err, dequeued: dequeued}, canDispatchOnThisThread, true)
}

// EnqueueWithoutDispatch adds value without completing any reader. It
// returns true when the item was parked as pending; the caller must then call
// Dispatch.
func (q *InputQueue[T]) EnqueueWithoutDispatch(value T, dequeued func()) bool {
	return q.enqueueWithoutDispatch(item[T]{value: value, dequeued: dequeued})
}

// EnqueueErrorWithoutDispatch is EnqueueWithoutDispatch for an error.
func (q *InputQueue[T]) EnqueueErrorWithoutDispatch(err error, dequeued func()) bool {
	return q.enqueueWithoutDispatch(item[T]{err: err, dequeued: dequeued})
}

func (q *InputQueue[T]) enqueueAndDispatch(it item[T], canDispatchOnThisThread, disposeRefused bool) bool {
	var (
		reader        *queueReader[T]
		dispatchLater bool
		disposeItem   bool
	)

	q.mu.Lock()
	itemAvailable := q.state == StateOpen
	waiters := q.takeWaiters()
	if q.state == StateOpen {
		switch {
		case len(q.readers) == 0:
			q.items.enqueueAvailableItem(it)
		case canDispatchOnThisThread:
			reader = q.popReader()
		default:
			q.items.enqueuePendingItem(it)
			dispatchLater = true
		}
	} else {
		disposeItem = true
	}
	q.mu.Unlock()

	if waiters != nil {
		if canDispatchOnThisThread {
			completeWaiters(itemAvailable, waiters)
		} else {
			go completeWaiters(itemAvailable, waiters)
		}
	}

	switch {
	case reader != nil:
		invokeDequeued(it.dequeued)
		reader.set(it)
	case dispatchLater:
		go q.Dispatch()
	case disposeItem && disposeRefused:
		invokeDequeued(it.dequeued)
		q.dispose(it)
	}
	return !disposeItem
}

func (q *InputQueue[T]) enqueueWithoutDispatch(it item[T]) bool {
	q.mu.Lock()
	if q.state == StateOpen {
		defer q.mu.Unlock()
		if len(q.readers) == 0 && len(q.waiters) == 0 {
			q.items.enqueueAvailableItem(it)
			return false
		}
		q.items.enqueuePendingItem(it)
		return true
	}
	q.mu.Unlock()

	q.dispose(it)
	if it.dequeued != nil {
		go it.dequeued()
	}
	return false
}

// Dispatch makes the oldest pending item available and hands it to the
// oldest reader, if any.
func (q *InputQueue[T]) Dispatch() {
	var (
		reader      *queueReader[T]
		it          item[T]
		outstanding []*queueReader[T]
	)

	q.mu.Lock()
	itemAvailable := q.state != StateClosed
	waiters := q.takeWaiters()
	if itemAvailable {
		q.items.makePendingItemAvailable()
		if len(q.readers) > 0 && q.items.hasAvailableItem() {
			it = q.items.dequeueAvailableItem()
			reader = q.popReader()
		}

		// A drained shut-down queue will never produce another item.
		if q.state == StateShutdown && q.items.itemCount() == 0 {
			if len(q.readers) > 0 {
				outstanding = q.readers
				q.readers = nil
			}
			itemAvailable = false
		}
	}
	q.mu.Unlock()

	if outstanding != nil {
		go releaseReaders(outstanding, nil)
	}
	if waiters != nil {
		go completeWaiters(itemAvailable, waiters)
	}
	if reader != nil {
		invokeDequeued(it.dequeued)
		reader.set(it)
	}
}

// ============================================================================
// Dequeue
// ============================================================================

// Dequeue blocks until an item is available and returns it. When ctx ends
// first the context error is returned. On a shut-down queue with nothing left
// to drain it returns the zero value, or the error produced by the Shutdown
// callback.
func (q *InputQueue[T]) Dequeue(ctx context.Context) (T, error) {
	value, ok, err := q.TryDequeue(ctx)
	if err != nil {
		return value, err
	}
	if !ok {
		var zero T
		return zero, ctx.Err()
	}
	return value, nil
}

// TryDequeue is Dequeue with a soft timeout: when ctx ends before an item
// arrives it returns ok == false and a nil error.
func (q *InputQueue[T]) TryDequeue(ctx context.Context) (T, bool, error) {
	it, reader, err := q.beginDequeue()
	if err != nil {
		var zero T
		return zero, false, err
	}
	if reader == nil {
		invokeDequeued(it.dequeued)
		value, err := it.get()
		return value, true, err
	}
	return q.endDequeue(ctx, reader)
}

// beginDequeue takes an available item or registers a reader.
func (q *InputQueue[T]) beginDequeue() (item[T], *queueReader[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case StateOpen:
		if q.items.hasAvailableItem() {
			return q.items.dequeueAvailableItem(), nil, nil
		}
		return item[T]{}, q.pushReader(), nil

	case StateShutdown:
		if q.items.hasAvailableItem() {
			return q.items.dequeueAvailableItem(), nil, nil
		}
		if q.items.hasAnyItem() {
			return item[T]{}, q.pushReader(), nil
		}
		return item[T]{}, nil, nil

	default:
		return item[T]{}, nil, ErrQueueClosed
	}
}

// endDequeue waits for reader to be completed. A reader that can no longer
// be withdrawn after ctx ends has already been handed an item, so the wait
// continues until that item arrives.
func (q *InputQueue[T]) endDequeue(ctx context.Context, reader *queueReader[T]) (T, bool, error) {
	select {
	case <-reader.done:
	case <-ctx.Done():
		if q.removeReader(reader) {
			var zero T
			return zero, false, nil
		}
		<-reader.done
	}

	value, err := reader.item.get()
	return value, true, err
}

// WaitForItem blocks until an item can be dequeued without waiting and
// reports true. It reports false with a nil error once no item will ever
// arrive, that is when the queue is closed or shut down with nothing left
// to drain, whether that was already so on entry or happens while waiting.
// It reports false with the context error when ctx ends first.
func (q *InputQueue[T]) WaitForItem(ctx context.Context) (bool, error) {
	q.mu.Lock()
	var waiter *queueWaiter
	switch q.state {
	case StateOpen:
		if q.items.hasAvailableItem() {
			q.mu.Unlock()
			return true, nil
		}
		waiter = q.pushWaiter()
	case StateShutdown:
		if q.items.hasAvailableItem() {
			q.mu.Unlock()
			return true, nil
		}
		if !q.items.hasAnyItem() {
			q.mu.Unlock()
			return false, nil
		}
		waiter = q.pushWaiter()
	default:
		q.mu.Unlock()
		return false, nil
	}
	q.mu.Unlock()

	select {
	case <-waiter.done:
		return waiter.itemAvailable, nil
	case <-ctx.Done():
		if q.removeWaiter(waiter) {
			return false, ctx.Err()
		}
		<-waiter.done
		return waiter.itemAvailable, nil
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Shutdown stops the queue from accepting items while letting buffered items
// drain. Readers that can never receive an item are released; pendingErr, if
// non-nil, produces the error each of them receives. WaitForItem callers are
// released with false under the same condition.
func (q *InputQueue[T]) Shutdown(pendingErr func() error) {
	var (
		outstanding []*queueReader[T]
		waiters     []*queueWaiter
	)

	q.mu.Lock()
	if q.state != StateOpen {
		q.mu.Unlock()
		return
	}
	q.state = StateShutdown
	if q.items.itemCount() == 0 {
		outstanding = q.readers
		q.readers = nil
		waiters = q.takeWaiters()
	}
	q.mu.Unlock()

	releaseReaders(outstanding, pendingErr)
	completeWaiters(false, waiters)
}

// Close fails every waiting reader with ErrQueueClosed and disposes every
// buffered item. Calling Close more than once has no further effect.
func (q *InputQueue[T]) Close() {
	var (
		readers []*queueReader[T]
		items   []item[T]
		waiters []*queueWaiter
	)

	q.mu.Lock()
	if q.state == StateClosed {
		q.mu.Unlock()
		return
	}
	q.state = StateClosed
	readers = q.readers
	q.readers = nil
	waiters = q.takeWaiters()
	for q.items.hasAnyItem() {
		items = append(items, q.items.dequeueAnyItem())
	}
	q.mu.Unlock()

	for _, r := range readers {
		r.set(item[T]{err: ErrQueueClosed})
	}
	for _, it := range items {
		q.dispose(it)
		invokeDequeued(it.dequeued)
	}
	completeWaiters(false, waiters)
}

// PendingCount returns the number of buffered items, available or pending.
func (q *InputQueue[T]) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.itemCount()
}

// ReaderCount returns the number of parked readers.
func (q *InputQueue[T]) ReaderCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.readers)
}

// State returns the current lifecycle state.
func (q *InputQueue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// ============================================================================
// Helpers (callers hold q.mu unless noted)
// ============================================================================

func (q *InputQueue[T]) pushReader() *queueReader[T] {
	r := newQueueReader[T]()
	q.readers = append(q.readers, r)
	return r
}

func (q *InputQueue[T]) popReader() *queueReader[T] {
	r := q.readers[0]
	q.readers[0] = nil
	q.readers = q.readers[1:]
	return r
}

// removeReader withdraws r and reports whether it was still parked. It takes
// q.mu itself.
func (q *InputQueue[T]) removeReader(r *queueReader[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.readers {
		if candidate == r {
			q.readers = append(q.readers[:i], q.readers[i+1:]...)
			return true
		}
	}
	return false
}

func (q *InputQueue[T]) pushWaiter() *queueWaiter {
	w := &queueWaiter{done: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	return w
}

// removeWaiter withdraws w and reports whether it was still parked. It takes
// q.mu itself.
func (q *InputQueue[T]) removeWaiter(w *queueWaiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.waiters {
		if candidate == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (q *InputQueue[T]) takeWaiters() []*queueWaiter {
	if len(q.waiters) == 0 {
		return nil
	}
	waiters := q.waiters
	q.waiters = nil
	return waiters
}

// dispose releases an item the queue will never deliver. Called without
// q.mu.
func (q *InputQueue[T]) dispose(it item[T]) {
	if it.err != nil {
		return
	}
	if closer, ok := any(it.value).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Debug("inputqueue: closing disposed item: %v", err)
		}
		return
	}
	if q.disposeItem != nil {
		q.disposeItem(it.value)
	}
}

func releaseReaders[T any](readers []*queueReader[T], pendingErr func() error) {
	for _, r := range readers {
		var err error
		if pendingErr != nil {
			err = pendingErr()
		}
		r.set(item[T]{err: err})
	}
}

func completeWaiters(itemAvailable bool, waiters []*queueWaiter) {
	for _, w := range waiters {
		w.set(itemAvailable)
	}
}

func invokeDequeued(fn func()) {
	if fn != nil {
		fn()
	}
}
