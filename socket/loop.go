package socket

import (
	"context"
	"sync"
)

// Loop is a single-threaded task queue. Every Socket bound to a Loop mutates
// its state only from tasks running on it, so socket state needs no locking.
//
// Tasks run in the order they were posted. Only one goroutine may drive the
// loop at a time, through either Run or RunPending.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
}

func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post queues task. It reports false once the loop has been closed.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || len(l.tasks) == 0 {
		return nil, false
	}
	task := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return task, true
}

// RunPending runs tasks on the calling goroutine until none are queued,
// including tasks posted while it runs. It returns how many ran.
func (l *Loop) RunPending() int {
	n := 0
	for {
		task, ok := l.next()
		if !ok {
			return n
		}
		task()
		n++
	}
}

// Run drives the loop until ctx is done, then closes it.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()

	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops the loop. Queued tasks are discarded.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.tasks = nil
}

// Len reports the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}
