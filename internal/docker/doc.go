// Package docker runs the build tool inside a container.
//
// The scratch work tree of a build is bind-mounted into the container at
// the same path, so the invocation computed for a local run works
// unchanged. The Client type wraps the Docker API; Runner adapts it to
// buildtool.Runner.
package docker
