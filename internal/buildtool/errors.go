package buildtool

import (
	"fmt"
	"strings"
)

// BuildToolError reports a build tool run that timed out, exited non-zero or
// wrote anything to standard error.
type BuildToolError struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *BuildToolError) Error() string {
	var reason string
	switch {
	case e.TimedOut:
		reason = "timed out"
	case e.Err != nil:
		reason = e.Err.Error()
	default:
		reason = fmt.Sprintf("exit code %d", e.ExitCode)
	}

	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		first, _, _ := strings.Cut(stderr, "\n")
		return fmt.Sprintf("build tool failed (%s): %s", reason, first)
	}

	return fmt.Sprintf("build tool failed (%s)", reason)
}

func (e *BuildToolError) Unwrap() error {
	return e.Err
}
