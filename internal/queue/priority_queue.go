// Package queue provides the ordered container used for task and batch scheduling.
package queue

import (
	"sort"
	"time"
)

// Item is anything that can be scheduled. Lower priority values are more urgent.
type Item interface {
	QueuePriority() int
	QueueCreatedAt() time.Time
}

// PriorityQueue orders items by (priority ascending, creation time ascending).
// Items with identical keys keep their enqueue order, so dequeue order is deterministic.
// PriorityQueue is not safe for concurrent use; owners serialise access.
type PriorityQueue[T Item] struct {
	items []T
}

// New creates an empty queue
func New[T Item]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

// Enqueue inserts item after every element that sorts before or equal to it
func (q *PriorityQueue[T]) Enqueue(item T) {
	idx := sort.Search(len(q.items), func(i int) bool {
		return less(item, q.items[i])
	})
	var zero T
	q.items = append(q.items, zero)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
}

// Dequeue removes and returns the head. ok is false when the queue is empty.
func (q *PriorityQueue[T]) Dequeue() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Peek returns the head without removing it
func (q *PriorityQueue[T]) Peek() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[0], true
}

// Remove extracts the first item matching pred
func (q *PriorityQueue[T]) Remove(pred func(T) bool) (item T, ok bool) {
	for i, it := range q.items {
		if pred(it) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return it, true
		}
	}
	return item, false
}

// RemoveAll extracts every matching item, up to limit when limit > 0, preserving queue order
func (q *PriorityQueue[T]) RemoveAll(pred func(T) bool, limit int) []T {
	var removed []T
	kept := q.items[:0]
	for _, it := range q.items {
		if (limit <= 0 || len(removed) < limit) && pred(it) {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	var zero T
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept
	return removed
}

// Items returns a copy of the queue contents in dequeue order
func (q *PriorityQueue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Size returns the number of queued items
func (q *PriorityQueue[T]) Size() int { return len(q.items) }

// IsEmpty reports whether the queue holds no items
func (q *PriorityQueue[T]) IsEmpty() bool { return len(q.items) == 0 }

func less(a, b Item) bool {
	if a.QueuePriority() != b.QueuePriority() {
		return a.QueuePriority() < b.QueuePriority()
	}
	return a.QueueCreatedAt().Before(b.QueueCreatedAt())
}
