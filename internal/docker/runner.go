package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/buildtool"
)

// logMountPath is where the private output directory is mounted inside the
// build container.
const logMountPath = "/var/run/sencha-buildd"

// captureScript redirects the build tool's output to files in the log mount
// so stdout and stderr are captured separately without attaching.
const captureScript = `exec "$@" >` + logMountPath + `/stdout 2>` + logMountPath + `/stderr`

// Runner runs build tool invocations in a container. The parent of the
// invocation directory (the scratch work tree) is bind-mounted at the same
// path inside the container.
type Runner struct {
	Client      Client
	Image       Image
	Command     string
	StopTimeout int
	Env         internal.Environment
	Writer      internal.Writer
}

func (r Runner) Run(ctx context.Context, inv buildtool.Invocation) (buildtool.Result, error) {
	logDir, err := os.MkdirTemp("", "sencha-buildd-logs-*")
	if err != nil {
		return buildtool.Result{ExitCode: -1}, fmt.Errorf("failed to create log directory: %w\nCheck disk space and /tmp permissions", err)
	}
	defer os.RemoveAll(logDir)

	tree := filepath.Dir(inv.Dir)
	command := r.Command
	if command == "" {
		command = buildtool.ExecutableName
	}

	spec := ContainerSpec{
		Name:       "sencha-build-" + uuid.NewString(),
		Image:      r.Image,
		Cmd:        append([]string{"sh", "-c", captureScript, "sh", command}, inv.Args...),
		Env:        r.Env,
		Binds:      []string{tree + ":" + tree, logDir + ":" + logMountPath},
		WorkingDir: inv.Dir,
		User:       strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid()),
	}

	container, err := r.Client.CreateContainer(ctx, spec, r.StopTimeout)
	if err != nil {
		return buildtool.Result{ExitCode: -1}, err
	}
	defer func() {
		if err := container.ForceRemove(context.WithoutCancel(ctx)); err != nil && r.Writer != nil {
			r.Writer.Warningf("%v", err)
		}
	}()

	if err := container.Start(ctx); err != nil {
		return buildtool.Result{ExitCode: -1}, err
	}

	status, waitErr := container.Wait(ctx)

	result := buildtool.Result{
		Stdout:   readLog(logDir, "stdout"),
		Stderr:   readLog(logDir, "stderr"),
		ExitCode: int(status),
	}

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			result.TimedOut = true
			return result, nil
		}
		return result, waitErr
	}

	return result, nil
}

func readLog(dir, name string) string {
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return string(content)
}

