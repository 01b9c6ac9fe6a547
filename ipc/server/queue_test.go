package server

import (
	"sync"
	"testing"
	"time"
)

// TestQueueOrder pushes and pops on one goroutine
func TestQueueOrder(t *testing.T) {
	q := newDeliveryQueue[int]()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}
	if q.Len() != 10 {
		t.Errorf("Expected 10 queued items, got %d", q.Len())
	}

	for i := 0; i < 10; i++ {
		v, ok := q.Pop()
		if !ok || *v != i {
			t.Fatalf("Expected %d, got %v (%v)", i, v, ok)
		}
	}

	if q.Push(nil) {
		t.Errorf("Pushing nil should fail")
	}
}

// TestQueueConcurrentProducers checks that nothing is lost or reordered per producer
func TestQueueConcurrentProducers(t *testing.T) {
	q := newDeliveryQueue[[2]int]()

	const numProducers = 8
	const itemsPerProducer = 2000

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push(&[2]int{p, i}) {
					t.Errorf("Failed to push item %d of producer %d", i, p)
					return
				}
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	next := make([]int, numProducers)
	total := 0
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		p, i := v[0], v[1]
		if next[p] != i {
			t.Fatalf("Producer %d: expected item %d, got %d", p, next[p], i)
		}
		next[p]++
		total++
	}

	if total != numProducers*itemsPerProducer {
		t.Errorf("Expected %d items, got %d", numProducers*itemsPerProducer, total)
	}
}

// TestQueueBlockingPop checks that a parked consumer is woken by a later push
func TestQueueBlockingPop(t *testing.T) {
	q := newDeliveryQueue[int]()

	got := make(chan int, 1)
	go func() {
		v, ok := q.Pop()
		if ok {
			got <- *v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	v := 7
	q.Push(&v)

	select {
	case val := <-got:
		if val != 7 {
			t.Errorf("Expected 7, got %d", val)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Consumer was not woken")
	}
}

// TestQueueCloseDrains checks that items pushed before Close are still delivered
func TestQueueCloseDrains(t *testing.T) {
	q := newDeliveryQueue[int]()
	for i := 0; i < 3; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	if q.Push(new(int)) {
		t.Errorf("Push after close should fail")
	}

	for i := 0; i < 3; i++ {
		if v, ok := q.Pop(); !ok || *v != i {
			t.Fatalf("Expected %d after close, got %v (%v)", i, v, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Errorf("Expected closed queue to be empty")
	}
}

// TestQueueCloseWakesConsumer checks that Close releases a consumer parked on an empty queue
func TestQueueCloseWakesConsumer(t *testing.T) {
	q := newDeliveryQueue[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Errorf("Expected no item from closed queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Consumer was not woken by close")
	}
}
