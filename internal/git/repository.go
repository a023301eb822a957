package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Repository runs git plumbing commands against a single repository path.
// A Repository value is immutable: WithEnv returns a copy carrying extra
// environment, so concurrent callers never observe each other's overrides.
type Repository struct {
	path string
	git  string
	env  map[string]string
}

// NewRepository returns a facade for the existing repository at path.
func NewRepository(path string) (Repository, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return Repository{}, fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Repository{}, fmt.Errorf("not a git repository: %q: %w", path, err)
	}
	if !info.IsDir() {
		return Repository{}, fmt.Errorf("not a git repository: %q is not a directory", path)
	}

	git, err := exec.LookPath("git")
	if err != nil {
		return Repository{}, fmt.Errorf("git binary not found in PATH: %w\nInstall git or ensure it's in your PATH environment variable", err)
	}

	return Repository{path: path, git: git}, nil
}

// InitBare creates a bare repository at path when none exists and returns a
// facade for it.
func InitBare(ctx context.Context, path string) (Repository, error) {
	if _, err := os.Stat(filepath.Join(path, "HEAD")); err == nil {
		return NewRepository(path)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return Repository{}, fmt.Errorf("failed to create repository directory %q: %w\nCheck disk space and permissions", path, err)
	}

	cmd := exec.CommandContext(ctx, "git", "-c", "init.defaultBranch=main", "init", "--bare", "--quiet", path)
	if output, err := cmd.CombinedOutput(); err != nil {
		return Repository{}, fmt.Errorf("failed to initialize bare repository at %q: %w: %s", path, err, strings.TrimSpace(string(output)))
	}

	return NewRepository(path)
}

// Path returns the absolute repository path.
func (r Repository) Path() string {
	return r.path
}

// WithEnv returns a copy of the repository whose commands run with the given
// variables layered over the existing overrides.
func (r Repository) WithEnv(overrides map[string]string) Repository {
	env := make(map[string]string, len(r.env)+len(overrides))
	for k, v := range r.env {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}

	r.env = env
	return r
}

// Env returns the value of an override and whether it is set.
func (r Repository) Env(key string) (string, bool) {
	v, ok := r.env[key]
	return v, ok
}

// Run executes a git command to completion and returns its standard output.
// Any output on standard error is treated as a failure.
func (r Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.RunWithInput(ctx, nil, args...)
}

// RunWithInput is Run with stdin connected to the given reader.
func (r Repository) RunWithInput(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := r.command(ctx, args)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil || stderr.Len() > 0 {
		return "", newCommandError(args, stdout.String(), stderr.String(), err)
	}

	return stdout.String(), nil
}

// Stream starts a git command and returns a Process exposing its standard
// input and output. The caller must call Wait or Abort.
func (r Repository) Stream(ctx context.Context, args ...string) (*Process, error) {
	cmd := r.command(ctx, args)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin for git %s: %w", commandName(args), err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout for git %s: %w", commandName(args), err)
	}

	p := &Process{
		Stdin:  stdin,
		Stdout: stdout,
		cmd:    cmd,
		args:   args,
	}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, newCommandError(args, "", "", err)
	}

	return p, nil
}

func (r Repository) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.git, args...)
	cmd.Env = r.environ()
	cmd.Dir = r.path
	if tree, ok := r.env["GIT_WORK_TREE"]; ok {
		cmd.Dir = tree
	}

	return cmd
}

func (r Repository) environ() []string {
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append(os.Environ(), "GIT_DIR="+r.path)
	for _, k := range keys {
		env = append(env, k+"="+r.env[k])
	}

	return env
}

// Process is a running git command with live standard input and output.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	cmd    *exec.Cmd
	args   []string
	stderr bytes.Buffer
	done   bool
}

// Wait closes standard input, reads the remaining standard output and waits
// for the command to exit. Like Run, any standard error output is a failure.
func (p *Process) Wait() (string, error) {
	if p.done {
		return "", fmt.Errorf("git %s already finished", commandName(p.args))
	}
	p.done = true

	if err := p.Stdin.Close(); err != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
		return "", newCommandError(p.args, "", p.stderr.String(), err)
	}

	output, readErr := io.ReadAll(p.Stdout)
	err := p.cmd.Wait()
	if err == nil {
		err = readErr
	}
	if err != nil || p.stderr.Len() > 0 {
		return "", newCommandError(p.args, string(output), p.stderr.String(), err)
	}

	return string(output), nil
}

// Abort kills the command and releases its resources. It is safe to call
// after Wait, in which case it does nothing.
func (p *Process) Abort() {
	if p.done {
		return
	}
	p.done = true

	_ = p.Stdin.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
}

func newCommandError(args []string, stdout, stderr string, err error) *GitCommandError {
	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	return &GitCommandError{
		Command:  commandName(args),
		Args:     args,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Err:      err,
	}
}

func commandName(args []string) string {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
	}

	return ""
}
