// Package queue provides a bounded FIFO executor.
//
// A Queue with concurrency 1 acts as a single lane that serializes access to
// a shared resource (the bare repository). Larger concurrencies bound the
// number of build tool processes running at once.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("queue closed")

// Func is a unit of work run by a Queue.
type Func func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Func
	done chan error
}

// Queue runs submitted functions in submission order with at most a fixed
// number executing at any instant.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     []job
	running     int
	closed      bool
	concurrency int
	wg          sync.WaitGroup
}

// New creates a Queue and starts its workers. A concurrency below 1 is
// treated as 1.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}

	q := &Queue{concurrency: concurrency}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.work()
	}

	return q
}

// Go enqueues fn and returns a channel that receives its result exactly once.
// The job is enqueued before Go returns, so successive calls from one
// goroutine start in call order. If ctx is done before the job starts, fn is
// skipped and the context error is delivered instead.
func (q *Queue) Go(ctx context.Context, fn Func) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		done <- ErrClosed
		return done
	}

	q.pending = append(q.pending, job{ctx: ctx, fn: fn, done: done})
	q.cond.Signal()

	return done
}

// Do enqueues fn and waits for it to finish or for ctx to be done.
func (q *Queue) Do(ctx context.Context, fn Func) error {
	select {
	case err := <-q.Go(ctx, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Concurrency returns the maximum number of functions run at once.
func (q *Queue) Concurrency() int {
	return q.concurrency
}

// Running returns the number of functions currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the number of functions waiting for a free slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting work, lets already queued work finish and waits for
// all workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}

		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.running++
		q.mu.Unlock()

		err := j.ctx.Err()
		if err == nil {
			err = j.fn(j.ctx)
		}
		j.done <- err

		q.mu.Lock()
		q.running--
		q.mu.Unlock()
	}
}
