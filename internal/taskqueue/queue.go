package taskqueue

import (
	"errors"
	"sync"
)

// DefaultCapacity is the queue capacity used when none is given.
const DefaultCapacity = 25

var (
	// ErrShutdown is returned by Insert and Extract once the queue is shut down.
	ErrShutdown = errors.New("task queue is shut down")

	// ErrNilTask is returned when inserting a nil task.
	ErrNilTask = errors.New("nil task")
)

// Task is a deferred unit of work executed exactly once by a Worker.
type Task func() error

// Queue is a bounded, blocking FIFO of tasks. It is safe for concurrent use.
//
// Producers block in Insert while the queue is full and consumers block in
// Extract while it is empty. Shutdown wakes every waiter; from then on both
// operations fail with ErrShutdown without blocking. Items still queued at
// shutdown are not drained.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	tasks    []Task
	capacity int
	shutdown bool
}

// NewQueue creates a queue holding at most capacity tasks. A capacity of
// zero or less selects DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		tasks:    make([]Task, 0, capacity),
		capacity: capacity,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Insert appends task at the tail, blocking while the queue is full.
func (q *Queue) Insert(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) >= q.capacity && !q.shutdown {
		q.notFull.Wait()
	}
	if q.shutdown {
		return ErrShutdown
	}

	q.tasks = append(q.tasks, task)
	queueDepth.Set(float64(len(q.tasks)))
	q.notEmpty.Signal()
	return nil
}

// Extract removes and returns the oldest task, blocking while the queue is empty.
func (q *Queue) Extract() (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.shutdown {
		q.notEmpty.Wait()
	}
	if q.shutdown {
		return nil, ErrShutdown
	}

	task := q.tasks[0]
	// Release the reference held by the backing array.
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	queueDepth.Set(float64(len(q.tasks)))
	q.notFull.Signal()
	return task, nil
}

// Shutdown marks the queue as interrupted and wakes all waiters. It is idempotent.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shutdown = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// IsShutdown reports whether Shutdown has been called.
func (q *Queue) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Cap returns the capacity limit of the queue.
func (q *Queue) Cap() int {
	return q.capacity
}
