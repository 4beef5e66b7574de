package recorder

import (
	"context"
	"sync"
)

// taskQueue is the unbounded FIFO between producers and the engine
// goroutine. It is the only structure both sides touch.
//
// Enqueue never blocks. Growth is watched by the backlog monitor instead of
// being bounded here.
//
// The signal channel (buffered, size 1) coalesces wakeups so Get can wait
// with a context.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Put appends t. Returns false if the queue is closed.
func (q *taskQueue) Put(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.notify()
	return true
}

// PushFront inserts t ahead of everything queued. Returns false if the
// queue is closed.
func (q *taskQueue) PushFront(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, Task{})
	copy(q.tasks[1:], q.tasks)
	q.tasks[0] = t
	q.notify()
	return true
}

// notify must be called with mu held.
func (q *taskQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryGet removes and returns the front task without blocking.
func (q *taskQueue) TryGet() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	// Clear the slot so the backing array does not pin the task's event.
	q.tasks[0] = Task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Get blocks until a task is available, the queue is closed and empty, or
// ctx ends.
func (q *taskQueue) Get(ctx context.Context) (Task, bool) {
	for {
		if t, ok := q.TryGet(); ok {
			return t, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Task{}, false
		}
		select {
		case <-ctx.Done():
			return Task{}, false
		case <-q.signal:
		}
	}
}

// DrainAll removes and returns every queued task.
func (q *taskQueue) DrainAll() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	clear(q.tasks)
	q.tasks = q.tasks[:0]
	return out
}

// Len returns the backlog.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further tasks and wakes a blocked Get. Tasks already queued
// can still be drained.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
