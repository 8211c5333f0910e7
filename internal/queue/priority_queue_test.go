package queue

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type job struct {
	id       int
	priority int
	created  time.Time
}

func (j job) QueuePriority() int         { return j.priority }
func (j job) QueueCreatedAt() time.Time { return j.created }

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPriorityQueue_OrdersByPriorityThenCreation(t *testing.T) {
	q := New[job]()
	q.Enqueue(job{id: 1, priority: 2, created: base})
	q.Enqueue(job{id: 2, priority: 0, created: base.Add(time.Second)})
	q.Enqueue(job{id: 3, priority: 2, created: base.Add(-time.Second)})
	q.Enqueue(job{id: 4, priority: 1, created: base})

	var got []int
	for !q.IsEmpty() {
		j, ok := q.Dequeue()
		require.True(t, ok)
		got = append(got, j.id)
	}
	assert.Equal(t, []int{2, 4, 3, 1}, got)
}

func TestPriorityQueue_FIFOForIdenticalKeys(t *testing.T) {
	q := New[job]()
	for i := 0; i < 5; i++ {
		q.Enqueue(job{id: i, priority: 1, created: base})
	}
	for i := 0; i < 5; i++ {
		j, _ := q.Dequeue()
		assert.Equal(t, i, j.id)
	}
}

func TestPriorityQueue_EmptyOperations(t *testing.T) {
	q := New[job]()
	_, ok := q.Dequeue()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
	_, ok = q.Remove(func(job) bool { return true })
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
	assert.Zero(t, q.Size())
}

func TestPriorityQueue_PeekIsNonDestructive(t *testing.T) {
	q := New[job]()
	q.Enqueue(job{id: 7, priority: 3, created: base})
	j, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 7, j.id)
	assert.Equal(t, 1, q.Size())
}

func TestPriorityQueue_Remove(t *testing.T) {
	q := New[job]()
	q.Enqueue(job{id: 1, priority: 1, created: base})
	q.Enqueue(job{id: 2, priority: 1, created: base.Add(time.Second)})
	q.Enqueue(job{id: 3, priority: 1, created: base.Add(2 * time.Second)})

	j, ok := q.Remove(func(j job) bool { return j.id == 2 })
	require.True(t, ok)
	assert.Equal(t, 2, j.id)
	assert.Equal(t, 2, q.Size())

	ids := []int{}
	for _, it := range q.Items() {
		ids = append(ids, it.id)
	}
	assert.Equal(t, []int{1, 3}, ids)
}

func TestPriorityQueue_RemoveAllWithLimit(t *testing.T) {
	q := New[job]()
	for i := 0; i < 6; i++ {
		q.Enqueue(job{id: i, priority: i % 2, created: base.Add(time.Duration(i) * time.Second)})
	}
	removed := q.RemoveAll(func(j job) bool { return j.priority == 1 }, 2)
	require.Len(t, removed, 2)
	assert.Equal(t, 1, removed[0].id)
	assert.Equal(t, 3, removed[1].id)
	assert.Equal(t, 4, q.Size())
}

func TestPriorityQueue_OrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("dequeue yields priority order, FIFO within a priority", prop.ForAll(
		func(priorities []int) bool {
			q := New[job]()
			for i, p := range priorities {
				q.Enqueue(job{id: i, priority: p, created: base})
			}
			prev := job{id: -1, priority: -1}
			for !q.IsEmpty() {
				j, _ := q.Dequeue()
				if j.priority < prev.priority {
					return false
				}
				if j.priority == prev.priority && j.id < prev.id {
					return false
				}
				prev = j
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
