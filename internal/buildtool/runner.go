package buildtool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/jarvus/sencha-buildd/internal"
)

// DefaultGracePeriod is how long a cancelled build tool process may run
// after SIGTERM before it is killed.
const DefaultGracePeriod = 10 * time.Second

// Invocation is one run of the build tool: a working directory and the
// arguments passed to the tool.
type Invocation struct {
	Dir  string
	Args internal.Command
}

// Result is the captured outcome of a finished run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner executes a build tool invocation. Implementations stop the run when
// ctx is done and report a deadline as Result.TimedOut.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// ExecRunner runs the build tool as a local process in its own process
// group.
type ExecRunner struct {
	Path        string
	Env         internal.Environment
	GracePeriod time.Duration
}

func (r ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd := exec.Command(r.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to start %s: %w", r.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	var runErr error
	stopped := false
	select {
	case runErr = <-done:
	case <-ctx.Done():
		stopped = true
		signalProcess(cmd, syscall.SIGTERM)
		timer := time.NewTimer(grace)
		select {
		case runErr = <-done:
			timer.Stop()
		case <-timer.C:
			signalProcess(cmd, syscall.SIGKILL)
			runErr = <-done
		}
	}

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if stopped {
		result.ExitCode = -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			return result, nil
		}
		return result, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("%s execution failed: %w", r.Path, runErr)
	}

	return result, nil
}

func signalProcess(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	if pid > 0 {
		if err := syscall.Kill(-pid, sig); err == nil {
			return
		}
	}
	_ = cmd.Process.Signal(sig)
}
