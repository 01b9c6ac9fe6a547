package server

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// queueNode is a single element of the delivery queue
type queueNode[T any] struct {
	value *T
	next  atomic.Pointer[queueNode[T]]
}

// deliveryQueue is an unbounded multi-producer single-consumer queue.
// Producers append with a lock-free CAS on the tail of a linked list, the single
// consumer pops from the head. Items of one producer are delivered in push order.
// The mutex is only taken to wake a consumer that is parked on an empty queue.
type deliveryQueue[T any] struct {
	head    atomic.Pointer[queueNode[T]]
	tail    atomic.Pointer[queueNode[T]]
	closed  atomic.Bool
	waiting atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// newDeliveryQueue creates an empty queue
func newDeliveryQueue[T any]() *deliveryQueue[T] {
	// sentinel node, head always points to the last consumed node
	sentinel := &queueNode[T]{}

	q := &deliveryQueue[T]{}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push appends value. It returns false if value is nil or the queue is closed.
// Safe for concurrent use by any number of producers.
func (q *deliveryQueue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &queueNode[T]{value: value}
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already advanced the tail, that is fine
				q.tail.CompareAndSwap(tail, n)
				break
			}
		} else {
			// help a producer that appended but did not advance the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// exponential backoff under contention
		if backoff < 6 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		} else {
			runtime.Gosched()
		}
	}

	// the consumer publishes waiting before it re-checks the list, so either it sees
	// our node or we see its flag
	if q.waiting.Load() {
		q.mu.Lock()
		q.cond.Signal()
		q.mu.Unlock()
	}
	return true
}

// Pop blocks until an item is available and returns it. After Close it keeps
// returning the remaining items and then (nil, false). Only one goroutine may call Pop.
func (q *deliveryQueue[T]) Pop() (*T, bool) {
	for {
		if v, ok := q.tryPop(); ok {
			return v, true
		}

		q.mu.Lock()
		q.waiting.Store(true)
		if q.head.Load().next.Load() == nil {
			if q.closed.Load() {
				q.waiting.Store(false)
				q.mu.Unlock()
				return nil, false
			}
			q.cond.Wait()
		}
		q.waiting.Store(false)
		q.mu.Unlock()
	}
}

// tryPop removes the oldest item without blocking
func (q *deliveryQueue[T]) tryPop() (*T, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}

	value := next.value
	q.head.Store(next)

	// help the gc, next is the new sentinel
	next.value = nil
	return value, true
}

// Close prevents further pushes and wakes the consumer. It must be called after the last Push.
func (q *deliveryQueue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued items. This is O(n) and meant for tests and debugging.
func (q *deliveryQueue[T]) Len() int {
	count := 0
	for current := q.head.Load().next.Load(); current != nil; current = current.next.Load() {
		count++
	}
	return count
}
