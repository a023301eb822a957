package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarvus/sencha-buildd/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("prints the version", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCommand(nil)
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})

		require.NoError(t, cmd.Execute())
		require.Equal(t, "sencha-buildd dev\n", out.String())
	})

	t.Run("rejects unknown flags", func(t *testing.T) {
		err := run([]string{"serve", "--no-such-flag"}, nil)
		require.ErrorContains(t, err, "unknown flag: --no-such-flag")
	})

	t.Run("rejects an invalid configuration", func(t *testing.T) {
		err := run([]string{"serve", "--workers", "0"}, nil)
		require.ErrorContains(t, err, "invalid configuration: invalid workers 0")
	})

	t.Run("fails when the config file is missing", func(t *testing.T) {
		err := run([]string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yml")}, nil)
		require.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("fails when no build tool is installed", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "dist"), 0o755))

		err := run([]string{"serve", "--service-path", dir, "--port", "0"}, nil)
		require.ErrorContains(t, err, "no build tool versions installed")
	})
}

func TestServe(t *testing.T) {
	t.Run("starts the service and stops when the context ends", func(t *testing.T) {
		dir := t.TempDir()

		config := internal.DefaultConfig(nil)
		config.Port = 0
		config.ServicePath = dir
		config.CmdPath = "/bin/true"
		require.NoError(t, config.Finalize())

		var logs bytes.Buffer
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		require.NoError(t, serve(ctx, config, internal.NewCustomWriter(&logs, false)))

		assert.DirExists(t, filepath.Join(dir, "builds.git"))
		assert.Contains(t, logs.String(), "using /bin/true")
		assert.Contains(t, logs.String(), "shutting down")
	})
}

func TestNewWriter(t *testing.T) {
	t.Run("does not color output that is not a terminal", func(t *testing.T) {
		var out bytes.Buffer
		w := newWriter(&out, false)
		w.Printf("hello")

		assert.Contains(t, out.String(), "msg=hello")
		assert.NotContains(t, out.String(), "\x1b[")
	})
}
