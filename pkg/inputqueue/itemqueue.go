package inputqueue

// item is either a value or an error, plus the callback to run when the
// item leaves the queue.
type item[T any] struct {
	value    T
	err      error
	dequeued func()
}

func (it item[T]) get() (T, error) {
	if it.err != nil {
		var zero T
		return zero, it.err
	}
	return it.value, nil
}

// itemQueue is a growable FIFO ring. The last pendingCount items are pending:
// they are buffered but not yet visible to readers.
type itemQueue[T any] struct {
	items        []item[T]
	head         int
	totalCount   int
	pendingCount int
}

func (q *itemQueue[T]) hasAvailableItem() bool {
	return q.totalCount > q.pendingCount
}

func (q *itemQueue[T]) hasAnyItem() bool {
	return q.totalCount > 0
}

func (q *itemQueue[T]) itemCount() int {
	return q.totalCount
}

func (q *itemQueue[T]) dequeueAvailableItem() item[T] {
	if !q.hasAvailableItem() {
		panic("inputqueue: no available item")
	}
	return q.dequeueCore()
}

func (q *itemQueue[T]) dequeueAnyItem() item[T] {
	if q.pendingCount == q.totalCount {
		q.pendingCount--
	}
	return q.dequeueCore()
}

func (q *itemQueue[T]) enqueueAvailableItem(it item[T]) {
	q.enqueueCore(it)
}

func (q *itemQueue[T]) enqueuePendingItem(it item[T]) {
	q.enqueueCore(it)
	q.pendingCount++
}

// makePendingItemAvailable promotes the oldest pending item. It reports
// false when nothing is pending.
func (q *itemQueue[T]) makePendingItemAvailable() bool {
	if q.pendingCount == 0 {
		return false
	}
	q.pendingCount--
	return true
}

func (q *itemQueue[T]) enqueueCore(it item[T]) {
	if q.totalCount == len(q.items) {
		grown := make([]item[T], max(2*len(q.items), 4))
		for i := 0; i < q.totalCount; i++ {
			grown[i] = q.items[(q.head+i)%len(q.items)]
		}
		q.items = grown
		q.head = 0
	}
	q.items[(q.head+q.totalCount)%len(q.items)] = it
	q.totalCount++
}

func (q *itemQueue[T]) dequeueCore() item[T] {
	if q.totalCount == 0 {
		panic("inputqueue: dequeue from empty item queue")
	}
	it := q.items[q.head]
	q.items[q.head] = item[T]{}
	q.head = (q.head + 1) % len(q.items)
	q.totalCount--
	return it
}
