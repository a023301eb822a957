// Package buildtool runs the external build tool with bounded concurrency.
package buildtool

import (
	"context"
	"strings"
	"time"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/queue"
)

// Pool runs build tool invocations through a Runner with at most a fixed
// number executing at once. Excess submissions wait in FIFO order.
type Pool struct {
	queue   *queue.Queue
	runner  Runner
	timeout time.Duration
	writer  internal.Writer
}

// NewPool creates a Pool running up to workers invocations at once. A
// positive timeout bounds each run, measured from when it starts.
func NewPool(runner Runner, workers int, timeout time.Duration, w internal.Writer) *Pool {
	return &Pool{
		queue:   queue.New(workers),
		runner:  runner,
		timeout: timeout,
		writer:  w,
	}
}

// Submit queues inv and waits for it to run. It returns the captured
// standard output, or a *BuildToolError when the run fails, writes to
// standard error or times out.
func (p *Pool) Submit(ctx context.Context, inv Invocation) (string, error) {
	var stdout string

	err := <-p.queue.Go(ctx, func(ctx context.Context) error {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		p.writer.Printf("executing %s in %s", strings.Join(inv.Args, " "), inv.Dir)

		result, err := p.runner.Run(ctx, inv)
		if err != nil || result.TimedOut || result.ExitCode != 0 || result.Stderr != "" {
			return &BuildToolError{
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
				ExitCode: result.ExitCode,
				TimedOut: result.TimedOut,
				Err:      err,
			}
		}

		stdout = result.Stdout
		return nil
	})
	if err != nil {
		return "", err
	}

	return stdout, nil
}

// Running returns the number of invocations currently executing.
func (p *Pool) Running() int {
	return p.queue.Running()
}

// Pending returns the number of invocations waiting for a free worker.
func (p *Pool) Pending() int {
	return p.queue.Pending()
}

// Close waits for queued invocations and stops the workers.
func (p *Pool) Close() {
	p.queue.Close()
}
