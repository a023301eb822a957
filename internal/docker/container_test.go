package docker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jarvus/sencha-buildd/internal/docker"
	containertypes "github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createContainer(t *testing.T, mock *mockDockerClient) docker.Container {
	t.Helper()

	mock.containerCreateFunc = func(ctx context.Context, options client.ContainerCreateOptions) (client.ContainerCreateResult, error) {
		return client.ContainerCreateResult{ID: "container123"}, nil
	}

	container, err := docker.NewClient(mock).CreateContainer(context.Background(), docker.ContainerSpec{Name: "test"}, 5)
	require.NoError(t, err)
	return container
}

func waitResult(status int64, err error) client.ContainerWaitResult {
	resCh := make(chan containertypes.WaitResponse, 1)
	errCh := make(chan error, 1)
	if err != nil {
		errCh <- err
	} else {
		resCh <- containertypes.WaitResponse{StatusCode: status}
	}
	return client.ContainerWaitResult{Result: resCh, Error: errCh}
}

func TestContainerStart(t *testing.T) {
	t.Run("starts the container", func(t *testing.T) {
		startCalled := false
		mock := &mockDockerClient{
			containerStartFunc: func(ctx context.Context, containerID string, options client.ContainerStartOptions) (client.ContainerStartResult, error) {
				startCalled = true
				assert.Equal(t, "container123", containerID)
				return client.ContainerStartResult{}, nil
			},
		}

		require.NoError(t, createContainer(t, mock).Start(context.Background()))
		assert.True(t, startCalled)
	})

	t.Run("fails when ContainerStart returns an error", func(t *testing.T) {
		mock := &mockDockerClient{
			containerStartFunc: func(ctx context.Context, containerID string, options client.ContainerStartOptions) (client.ContainerStartResult, error) {
				return client.ContainerStartResult{}, errors.New("container not found")
			},
		}

		err := createContainer(t, mock).Start(context.Background())
		require.ErrorContains(t, err, "failed to start container")
	})
}

func TestContainerWait(t *testing.T) {
	t.Run("returns the exit status", func(t *testing.T) {
		mock := &mockDockerClient{
			containerWaitFunc: func(ctx context.Context, containerID string, options client.ContainerWaitOptions) client.ContainerWaitResult {
				assert.Equal(t, containertypes.WaitConditionNotRunning, options.Condition)
				return waitResult(3, nil)
			},
		}

		status, err := createContainer(t, mock).Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), status)
	})

	t.Run("fails when waiting fails", func(t *testing.T) {
		mock := &mockDockerClient{
			containerWaitFunc: func(ctx context.Context, containerID string, options client.ContainerWaitOptions) client.ContainerWaitResult {
				return waitResult(0, errors.New("daemon gone"))
			},
		}

		_, err := createContainer(t, mock).Wait(context.Background())
		require.ErrorContains(t, err, "failed to wait for container")
	})

	t.Run("stops the container when the context is done", func(t *testing.T) {
		stopped := make(chan int, 1)
		resCh := make(chan containertypes.WaitResponse, 1)

		mock := &mockDockerClient{
			containerWaitFunc: func(ctx context.Context, containerID string, options client.ContainerWaitOptions) client.ContainerWaitResult {
				return client.ContainerWaitResult{Result: resCh, Error: make(chan error)}
			},
			containerStopFunc: func(ctx context.Context, containerID string, options client.ContainerStopOptions) (client.ContainerStopResult, error) {
				stopped <- *options.Timeout
				resCh <- containertypes.WaitResponse{StatusCode: 143}
				return client.ContainerStopResult{}, nil
			},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		status, err := createContainer(t, mock).Wait(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int64(-1), status)
		assert.Equal(t, 5, <-stopped)
	})
}

func TestContainerForceRemove(t *testing.T) {
	t.Run("removes the container with force", func(t *testing.T) {
		removeCalled := false
		mock := &mockDockerClient{
			containerRemoveFunc: func(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error) {
				removeCalled = true
				assert.Equal(t, "container123", containerID)
				assert.True(t, options.Force)
				return client.ContainerRemoveResult{}, nil
			},
		}

		require.NoError(t, createContainer(t, mock).ForceRemove(context.Background()))
		assert.True(t, removeCalled)
	})

	t.Run("fails when ContainerRemove returns an error", func(t *testing.T) {
		mock := &mockDockerClient{
			containerRemoveFunc: func(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error) {
				return client.ContainerRemoveResult{}, errors.New("removal in progress")
			},
		}

		err := createContainer(t, mock).ForceRemove(context.Background())
		require.ErrorContains(t, err, "failed to force remove container")
	})
}
