package git

import (
	"fmt"
	"strings"
)

// GitCommandError reports a git subprocess that exited non-zero or wrote to
// standard error.
type GitCommandError struct {
	Command  string
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *GitCommandError) Error() string {
	message := fmt.Sprintf("git %s failed (exit code %d)", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		message += ": " + stderr
	} else if e.Err != nil {
		message += ": " + e.Err.Error()
	}

	return message
}

func (e *GitCommandError) Unwrap() error {
	return e.Err
}
