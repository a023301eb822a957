package docker

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

type Image struct {
	Name string
}

// ContainerSpec describes a one-shot build container.
type ContainerSpec struct {
	Name       string
	Image      Image
	Cmd        []string
	Env        []string
	Binds      []string
	WorkingDir string
	User       string
}

type Client struct {
	client DockerClient
}

// NewClient creates a Client that wraps the provided Docker client interface.
func NewClient(dockerClient DockerClient) Client {
	return Client{
		client: dockerClient,
	}
}

// NewDefaultClient creates a Client with a real Docker client from the environment.
func NewDefaultClient() (Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return Client{}, fmt.Errorf("failed to create docker client: %w\nEnsure Docker is running and DOCKER_HOST is set correctly", err)
	}

	return NewClient(cli), nil
}

// Close closes the underlying Docker client connection.
func (c Client) Close() {
	c.client.Close()
}

// buildMessage is one line of the JSON stream returned by an image build.
type buildMessage struct {
	Stream      string `json:"stream"`
	ErrorDetail struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// BuildImage builds imageName from the Dockerfile at dockerfilePath and logs
// the build output. The directory holding the Dockerfile is the build
// context, so the Dockerfile may COPY a build tool distribution placed next
// to it.
func (c Client) BuildImage(ctx context.Context, dockerfilePath, imageName string, w internal.Writer) (Image, error) {
	if _, err := os.Stat(dockerfilePath); err != nil {
		return Image{}, fmt.Errorf("failed to read Dockerfile at %q: %w\nCheck that the file exists and is readable", dockerfilePath, err)
	}

	pr, pw := io.Pipe()
	defer pr.Close()

	go func() {
		pw.CloseWithError(writeBuildContext(pw, filepath.Dir(dockerfilePath)))
	}()

	response, err := c.client.ImageBuild(ctx, pr, client.ImageBuildOptions{
		Dockerfile: filepath.Base(dockerfilePath),
		Tags:       []string{imageName},
		Remove:     true,
	})
	if err != nil {
		return Image{}, fmt.Errorf("failed to build image %q: %w\nCheck Docker daemon logs for details", imageName, err)
	}
	defer response.Body.Close()

	logger := w.WithField("image", imageName)
	decoder := json.NewDecoder(response.Body)
	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return Image{}, err
		}

		var message buildMessage
		if err := decoder.Decode(&message); err != nil {
			return Image{}, fmt.Errorf("failed to decode build output: %w\nDocker may have returned malformed JSON", err)
		}

		if message.ErrorDetail.Code != 0 || message.ErrorDetail.Message != "" {
			return Image{}, fmt.Errorf("docker build failed: %s\nCheck your Dockerfile syntax and base image availability", message.ErrorDetail.Message)
		}

		if line := strings.TrimRight(message.Stream, "\n"); line != "" {
			logger.Printf("%s", line)
		}
	}

	return Image{Name: imageName}, nil
}

// writeBuildContext writes the regular files and directories under dir to
// out as a tar stream.
func writeBuildContext(out io.Writer, dir string) error {
	tw := tar.NewWriter(out)

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && !entry.Type().IsRegular() {
			return nil
		}

		name, err := filepath.Rel(dir, path)
		if err != nil || name == "." {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(name)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive build context %q: %w", dir, err)
	}

	return tw.Close()
}

// CreateContainer creates a container that runs spec.Cmd once without a
// TTY or stdin. Returns a Container handle or an error if creation fails.
func (c Client) CreateContainer(ctx context.Context, spec ContainerSpec, stopTimeout int) (Container, error) {
	response, err := c.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:      spec.Image.Name,
			Cmd:        spec.Cmd,
			Env:        spec.Env,
			WorkingDir: spec.WorkingDir,
			User:       spec.User,
		},
		HostConfig: &container.HostConfig{
			Binds: spec.Binds,
		},
		Name: spec.Name,
	})
	if err != nil {
		return Container{}, fmt.Errorf("failed to create container %q from image %q: %w\nEnsure image exists and container config is valid", spec.Name, spec.Image.Name, err)
	}

	return Container{
		ID:          response.ID,
		Name:        spec.Name,
		client:      c.client,
		StopTimeout: stopTimeout,
	}, nil
}

// Ping pings the Docker daemon and returns the API version if successful.
func (c Client) Ping(ctx context.Context) (string, error) {
	ping, err := c.client.Ping(ctx, client.PingOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to ping docker daemon: %w\nEnsure Docker is running and DOCKER_HOST is set correctly", err)
	}
	return ping.APIVersion, nil
}
