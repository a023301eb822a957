package docker_test

import (
	"github.com/jarvus/sencha-buildd/internal/docker"
	"github.com/moby/moby/client"
)

var _ docker.DockerClient = (*client.Client)(nil)
