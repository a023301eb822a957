package pipeline

import (
	"fmt"

	"github.com/jarvus/sencha-buildd/internal"
)

// PreconditionError reports a build branch that is not in the state a run
// requires. Nothing has been written to the repository when it is returned.
type PreconditionError struct {
	BuildID internal.BuildID
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("build %s: %s", e.BuildID, e.Message)
}

// StageError wraps the first error returned by a stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AlreadyRunningError is returned when a run is requested for a build that
// already has one in progress.
type AlreadyRunningError struct {
	BuildID internal.BuildID
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("build %s is already running", e.BuildID)
}

// GraphError reports an invalid stage graph.
type GraphError struct {
	Reason string
}

func (e *GraphError) Error() string {
	return "invalid stage graph: " + e.Reason
}
