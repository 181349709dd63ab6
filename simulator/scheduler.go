package simulator

import (
	"container/heap"
	"time"
)

// Scheduler delivers deferred completions.
//
// Implementations must never run fn on the goroutine calling Schedule.
// Deliveries due at the same instant fire in the order they were scheduled.
type Scheduler interface {
	// Schedule arranges for fn to run once d has elapsed. A negative d is treated as zero.
	// It returns ErrSchedulerStopped after Stop.
	Schedule(d time.Duration, fn func()) error

	// Now returns the scheduler's notion of the current time.
	Now() time.Time

	// Pending returns the number of deliveries that have not fired yet.
	Pending() int

	// Stop discards every pending delivery without running it. Further calls to Schedule fail.
	Stop()
}

type delivery struct {
	due time.Time
	seq uint64
	fn  func()
}

// deliveryHeap is a min-heap of deliveries ordered by due time, then by scheduling sequence.
type deliveryHeap []*delivery

func (h deliveryHeap) Len() int { return len(h) }

func (h deliveryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}

	return h[i].due.Before(h[j].due)
}

func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deliveryHeap) Push(x any) {
	*h = append(*h, x.(*delivery))
}

func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}

// deliveryQueue wraps deliveryHeap with sequence numbering. It is not safe for concurrent use.
type deliveryQueue struct {
	items deliveryHeap
	seq   uint64
}

func (q *deliveryQueue) push(due time.Time, fn func()) {
	q.seq++
	heap.Push(&q.items, &delivery{due: due, seq: q.seq, fn: fn})
}

func (q *deliveryQueue) peek() (*delivery, bool) {
	if len(q.items) == 0 {
		return nil, false
	}

	return q.items[0], true
}

func (q *deliveryQueue) pop() *delivery {
	return heap.Pop(&q.items).(*delivery)
}

// popDue removes every delivery due at or before now, in firing order.
func (q *deliveryQueue) popDue(now time.Time) []*delivery {
	var due []*delivery
	for len(q.items) > 0 && !q.items[0].due.After(now) {
		due = append(due, q.pop())
	}

	return due
}

func (q *deliveryQueue) size() int { return len(q.items) }

func (q *deliveryQueue) reset() {
	clear(q.items)
	q.items = q.items[:0]
}
