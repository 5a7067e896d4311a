package distributor

import "sync"

// taskQueue is the bounded FIFO of pending tasks. When full, pushing evicts
// the oldest task so the newest failure information is preserved; evictions
// are reported to the caller and surface through the dropped counter.
type taskQueue struct {
	mu       sync.Mutex
	items    []Task
	capacity int
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &taskQueue{capacity: capacity}
}

// Push appends t, evicting the oldest entry if the queue is full. The
// returned task is the evicted one, if any.
func (q *taskQueue) Push(t Task) (evicted Task, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == q.capacity {
		evicted = q.items[0]
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, t)
	return evicted, dropped
}

// Pop removes and returns the oldest task.
func (q *taskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Len returns the number of pending tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
