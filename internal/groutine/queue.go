package groutine

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Queue runs posted jobs one at a time, in order, on a single named
// goroutine. Posting never blocks, so a job may post further jobs.
type Queue struct {
	mu     sync.Mutex
	jobs   deque.Deque[func()]
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewQueue starts the queue goroutine. It stops when ctx is cancelled or
// Close has been called and every job posted before it has run.
func NewQueue(ctx context.Context, name string) *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	Go(ctx, name, q.run)
	return q
}

// Post appends fn. It reports false when the queue is closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs.PushBack(fn)
	q.mu.Unlock()

	q.signal()
	return true
}

// Close stops accepting jobs; already posted jobs still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Done is closed once the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len reports the number of jobs waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest job. ok is false when the queue is empty.
func (q *Queue) next() (job func(), closed, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs.Len() == 0 {
		return nil, q.closed, false
	}
	return q.jobs.PopFront(), q.closed, true
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		job, closed, ok := q.next()
		if ok {
			job()
			continue
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}
