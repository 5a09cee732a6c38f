// Package worker provides the serialized closure queue that each task uses
// to own its state without locks.
package worker

import "sync"

// Queue is an unbounded FIFO of closures. Post never blocks, so tasks can
// post to each other without risk of deadlock.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues f. It returns false once the queue is closed.
func (q *Queue) Post(f func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Wake is signalled after a Post.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) take() (items []func(), closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, q.items = q.items, nil
	return items, q.closed
}

// Drain runs everything queued so far on the calling goroutine and
// reports how many closures ran.
func (q *Queue) Drain() int {
	items, _ := q.take()
	for _, f := range items {
		f()
	}
	return len(items)
}

// Run executes closures on the calling goroutine until the queue is closed
// and empty.
func (q *Queue) Run() {
	defer close(q.done)
	for {
		items, closed := q.take()
		for _, f := range items {
			f()
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// Close stops accepting closures. Already queued closures still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
