package docker_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/buildtool"
	"github.com/jarvus/sencha-buildd/internal/docker"
	containertypes "github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	type fakeRun struct {
		stdout, stderr string
		status         int64
	}

	setup := func(t *testing.T, run fakeRun) (*mockDockerClient, *client.ContainerCreateOptions, *bool) {
		var options client.ContainerCreateOptions
		removed := false

		mock := &mockDockerClient{
			containerCreateFunc: func(ctx context.Context, opts client.ContainerCreateOptions) (client.ContainerCreateResult, error) {
				options = opts
				return client.ContainerCreateResult{ID: "container123"}, nil
			},
			containerStartFunc: func(ctx context.Context, containerID string, opts client.ContainerStartOptions) (client.ContainerStartResult, error) {
				return client.ContainerStartResult{}, nil
			},
			containerWaitFunc: func(ctx context.Context, containerID string, opts client.ContainerWaitOptions) client.ContainerWaitResult {
				for _, bind := range options.HostConfig.Binds {
					host, target, _ := strings.Cut(bind, ":")
					if target == "/var/run/sencha-buildd" {
						_ = os.WriteFile(filepath.Join(host, "stdout"), []byte(run.stdout), 0644)
						_ = os.WriteFile(filepath.Join(host, "stderr"), []byte(run.stderr), 0644)
					}
				}
				return waitResult(run.status, nil)
			},
			containerRemoveFunc: func(ctx context.Context, containerID string, opts client.ContainerRemoveOptions) (client.ContainerRemoveResult, error) {
				removed = opts.Force
				return client.ContainerRemoveResult{}, nil
			},
		}

		return mock, &options, &removed
	}

	t.Run("runs the invocation with the work tree mounted at the same path", func(t *testing.T) {
		mock, options, removed := setup(t, fakeRun{stdout: "[INF] Build complete\n"})

		runner := docker.Runner{
			Client:      docker.NewClient(mock),
			Image:       docker.Image{Name: "sencha-cmd:latest"},
			StopTimeout: 10,
			Writer:      internal.NewCustomWriter(io.Discard, false),
		}

		result, err := runner.Run(context.Background(), buildtool.Invocation{
			Dir:  "/tmp/run/tree/app",
			Args: []string{"ant", "production", "build"},
		})
		require.NoError(t, err)
		assert.Equal(t, buildtool.Result{Stdout: "[INF] Build complete\n"}, result)
		assert.True(t, *removed)

		assert.Equal(t, "sencha-cmd:latest", options.Config.Image)
		assert.Equal(t, "/tmp/run/tree/app", options.Config.WorkingDir)
		assert.Equal(t, []string{"sh", "-c", `exec "$@" >/var/run/sencha-buildd/stdout 2>/var/run/sencha-buildd/stderr`, "sh", "sencha", "ant", "production", "build"}, options.Config.Cmd)
		require.Len(t, options.HostConfig.Binds, 2)
		assert.Equal(t, "/tmp/run/tree:/tmp/run/tree", options.HostConfig.Binds[0])
		assert.True(t, strings.HasSuffix(options.HostConfig.Binds[1], ":/var/run/sencha-buildd"))
		assert.True(t, strings.HasPrefix(options.Name, "sencha-build-"))
	})

	t.Run("reports standard error and the exit status", func(t *testing.T) {
		mock, _, _ := setup(t, fakeRun{stdout: "partial\n", stderr: "[ERR] broken\n", status: 1})

		runner := docker.Runner{Client: docker.NewClient(mock), Command: "/opt/sencha/sencha"}
		result, err := runner.Run(context.Background(), buildtool.Invocation{Dir: "/tmp/run/tree/app"})
		require.NoError(t, err)
		assert.Equal(t, buildtool.Result{Stdout: "partial\n", Stderr: "[ERR] broken\n", ExitCode: 1}, result)
	})

	t.Run("reports a deadline as a timeout", func(t *testing.T) {
		mock, _, removed := setup(t, fakeRun{})
		resCh := make(chan containertypes.WaitResponse, 1)
		mock.containerWaitFunc = func(ctx context.Context, containerID string, opts client.ContainerWaitOptions) client.ContainerWaitResult {
			return client.ContainerWaitResult{Result: resCh, Error: make(chan error)}
		}
		mock.containerStopFunc = func(ctx context.Context, containerID string, opts client.ContainerStopOptions) (client.ContainerStopResult, error) {
			resCh <- containertypes.WaitResponse{StatusCode: 137}
			return client.ContainerStopResult{}, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()

		runner := docker.Runner{Client: docker.NewClient(mock)}
		result, err := runner.Run(ctx, buildtool.Invocation{Dir: "/tmp/run/tree/app"})
		require.NoError(t, err)
		assert.True(t, result.TimedOut)
		assert.True(t, *removed)
	})
}
