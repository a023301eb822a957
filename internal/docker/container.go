package docker

import (
	"context"
	"fmt"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

type Container struct {
	client DockerClient

	ID          string
	Name        string
	StopTimeout int
}

// Start starts the container. Returns an error if the container fails to start,
// which may indicate a misconfiguration or an unhealthy Docker daemon.
func (c Container) Start(ctx context.Context) error {
	_, err := c.client.ContainerStart(ctx, c.ID, client.ContainerStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to start container %q: %w\nContainer may be misconfigured or Docker daemon may be unhealthy", c.Name, err)
	}

	return nil
}

// Wait waits for the container to exit and returns its exit status. When ctx
// is done first, the container is stopped (SIGTERM, then SIGKILL after
// StopTimeout seconds) and ctx's error is returned.
func (c Container) Wait(ctx context.Context) (int64, error) {
	wait := c.client.ContainerWait(context.WithoutCancel(ctx), c.ID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	select {
	case err := <-wait.Error:
		return -1, fmt.Errorf("failed to wait for container %q: %w\nDocker daemon may have encountered an error", c.Name, err)
	case status := <-wait.Result:
		return status.StatusCode, nil
	case <-ctx.Done():
	}

	timeout := c.StopTimeout
	_, err := c.client.ContainerStop(context.WithoutCancel(ctx), c.ID, client.ContainerStopOptions{Timeout: &timeout})
	if err != nil {
		return -1, fmt.Errorf("failed to stop container %q: %w", c.Name, err)
	}

	select {
	case <-wait.Result:
	case <-wait.Error:
	}

	return -1, ctx.Err()
}

// ForceRemove forcibly removes the container from the Docker daemon, even if it is still running.
// Returns an error if the container cannot be removed, which may indicate an inconsistent state.
func (c Container) ForceRemove(ctx context.Context) error {
	_, err := c.client.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("failed to force remove container %q: %w\nContainer may be in an inconsistent state", c.Name, err)
	}

	return nil
}
