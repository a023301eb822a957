package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/docker/cli/cli/streams"
	"github.com/jarvus/sencha-buildd/internal"
	"github.com/jarvus/sencha-buildd/internal/buildtool"
	"github.com/jarvus/sencha-buildd/internal/docker"
	"github.com/jarvus/sencha-buildd/internal/service"
	"github.com/moby/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := run(os.Args[1:], os.Environ()); err != nil {
		msg := strings.Join(strings.Fields(err.Error()), " ")
		if msg == "" {
			msg = "error"
		}
		_, _ = os.Stderr.WriteString(msg + "\n")
		os.Exit(1)
	}
}

func run(args, env []string) error {
	cmd := newRootCommand(env)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func newRootCommand(env []string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sencha-buildd",
		Short: "Build Sencha applications pushed to a git repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand(env))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sencha-buildd %s\n", Version)
			return err
		},
	})

	return cmd
}

func newServeCommand(env []string) *cobra.Command {
	config := internal.DefaultConfig(env)
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the builds repository and build pushed applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				explicit := map[string]bool{}
				cmd.Flags().Visit(func(f *pflag.Flag) {
					explicit[f.Name] = true
				})
				if err := config.LoadFile(configPath, explicit); err != nil {
					return err
				}
			}
			if err := config.Finalize(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, config, newWriter(cmd.ErrOrStderr(), config.Debug))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	config.BindFlags(cmd.Flags())

	return cmd
}

// newWriter logs to out, with colors when out is the terminal's stderr.
func newWriter(out io.Writer, debug bool) internal.Writer {
	colors := false
	if out == os.Stderr {
		_, _, stderr := term.StdStreams()
		colors = streams.NewOut(stderr).IsTerminal()
	}

	w := internal.NewCustomWriter(out, colors)
	w.SetDebug(debug)
	return w
}

func serve(ctx context.Context, config internal.Config, w internal.Writer) error {
	cleanupMgr := internal.NewCleanupManager(w)
	defer cleanupMgr.Execute()

	runner, err := newRunner(ctx, config, cleanupMgr, w)
	if err != nil {
		return err
	}

	svc, err := service.New(ctx, config, runner, w)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	cleanupMgr.Add("service", svc.Close)

	w.Printf("serving %s on port %d", config.RepositoryPath, svc.Port())

	<-ctx.Done()
	w.Printf("shutting down")

	return nil
}

func newRunner(ctx context.Context, config internal.Config, cleanupMgr *internal.CleanupManager, w internal.Writer) (buildtool.Runner, error) {
	if config.Runner == internal.RunnerDocker {
		return newDockerRunner(ctx, config, cleanupMgr, w)
	}

	cmdPath := config.CmdPath
	if cmdPath == "" {
		var err error
		cmdPath, err = buildtool.FindCmd(config.DistPath)
		if err != nil {
			return nil, err
		}
	}
	w.Printf("using %s", cmdPath)

	return buildtool.ExecRunner{Path: cmdPath}, nil
}

// newDockerRunner runs the build tool from the image's PATH unless an
// explicit path inside the image is configured.
func newDockerRunner(ctx context.Context, config internal.Config, cleanupMgr *internal.CleanupManager, w internal.Writer) (buildtool.Runner, error) {
	client, err := docker.NewDefaultClient()
	if err != nil {
		return nil, err
	}
	cleanupMgr.Add("docker-client", func() error {
		client.Close()
		return nil
	})

	version, err := client.Ping(ctx)
	if err != nil {
		return nil, err
	}
	w.Printf("connected to docker API %s", version)

	image := docker.Image{Name: config.DockerImage}
	if config.Dockerfile != "" {
		image, err = client.BuildImage(ctx, config.Dockerfile, config.DockerImage, w)
		if err != nil {
			return nil, fmt.Errorf("failed to build docker image %q from %q: %w", config.DockerImage, config.Dockerfile, err)
		}
	}

	command := config.CmdPath
	if command == "" {
		command = buildtool.ExecutableName
	}

	return docker.Runner{
		Client:      client,
		Image:       image,
		Command:     command,
		StopTimeout: 10,
		Writer:      w,
	}, nil
}
