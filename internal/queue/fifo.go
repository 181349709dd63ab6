package queue

// FIFO implements the Queue interface on top of a slice.
//
// FIFO is not safe for concurrent use; callers serialize access themselves.
type FIFO[T any] struct {
	items []T
	head  int
}

var _ Queue[int] = (*FIFO[int])(nil)

// NewFIFO creates an empty FIFO with room for prealloc items.
func NewFIFO[T any](prealloc int) *FIFO[T] {
	return &FIFO[T]{items: make([]T, 0, prealloc)}
}

// NewFIFOFrom creates a FIFO holding a copy of items, head first.
func NewFIFOFrom[T any](items []T) *FIFO[T] {
	q := NewFIFO[T](len(items))
	q.items = append(q.items, items...)

	return q
}

// Enqueue adds an item to the tail of the queue.
func (q *FIFO[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
func (q *FIFO[T]) Dequeue() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero // release reference held by the backing array
	q.head++

	// reclaim the consumed prefix once it dominates the backing array
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *FIFO[T]) Peek() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}

	return q.items[q.head], true
}

// Reset resets the queue to an empty state.
func (q *FIFO[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *FIFO[T]) IsEmpty() bool {
	return q.Length() == 0
}

// Length returns the number of items in the queue.
func (q *FIFO[T]) Length() int {
	return len(q.items) - q.head
}

// Items returns a copy of the queued items, head first.
func (q *FIFO[T]) Items() []T {
	out := make([]T, q.Length())
	copy(out, q.items[q.head:])

	return out
}
