package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is an in-memory FIFO of pending fetch tasks. All state lives in
// memory; the queue re-initializes empty on every process start.
type Queue struct {
	mu       sync.Mutex
	tasks    []*Task
	capacity int
}

// New creates a queue. If capacity <= 0 the queue is unbounded.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Enqueue appends a task to the tail and assigns it a request ID.
// Options are not validated here; a malformed URL fails at transport level.
func (q *Queue) Enqueue(opts Options) (*Task, error) {
	if opts.Method == "" {
		opts.Method = "GET"
	}

	t := &Task{
		ID:        uuid.NewString(),
		Options:   opts,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.tasks) >= q.capacity {
		return nil, ErrQueueFull
	}
	q.tasks = append(q.tasks, t)
	return t, nil
}

// Dequeue pops the oldest queued task and marks it running.
// Returns nil if the queue is empty.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]

	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	return t
}

// Depth returns the number of tasks waiting (not counting any in-flight task).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
