package session

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a session that has been closed.
var ErrClosed = errors.New("session is closed")

const defaultQueueSize = 256

// queue runs posted tasks one at a time on a single goroutine. Every mutation
// of executor state goes through it.
type queue struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &queue{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post schedules fn and reports false once the queue is closed. It blocks
// while the buffer is full.
func (q *queue) Post(fn func()) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.tasks <- fn:
		return true
	case <-q.done:
		return false
	}
}

// Do runs fn on the queue and waits for it. It must not be called from a
// queued task.
func (q *queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !q.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is done or the queue is closed.
func (q *queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case fn := <-q.tasks:
			fn()
		}
	}
}

func (q *queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
