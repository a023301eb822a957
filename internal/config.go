package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the HTTP port the service listens on.
	DefaultPort = 9083

	// DefaultServicePath is the directory holding the builds repository and installed build tools.
	DefaultServicePath = "/emergence/services/sencha-cmd"

	// DefaultWorkers bounds concurrent build tool executions.
	DefaultWorkers = 4

	// DefaultBuildTimeout bounds a single build tool execution.
	DefaultBuildTimeout = 30 * time.Minute

	// DefaultWebhookTimeout bounds a single webhook delivery.
	DefaultWebhookTimeout = 10 * time.Second

	// RunnerExec runs the build tool as a local subprocess.
	RunnerExec = "exec"

	// RunnerDocker runs the build tool inside a container.
	RunnerDocker = "docker"
)

type Config struct {
	Port           int           `yaml:"port"`
	ServicePath    string        `yaml:"servicePath"`
	RepositoryPath string        `yaml:"repositoryPath"`
	DistPath       string        `yaml:"distPath"`
	CmdPath        string        `yaml:"cmdPath"`
	TempDir        string        `yaml:"tempDir"`
	Workers        int           `yaml:"workers"`
	BuildTimeout   time.Duration `yaml:"buildTimeout"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
	GitUser        GitUserConfig `yaml:"gitUser"`
	Runner         string        `yaml:"runner"`
	DockerImage    string        `yaml:"dockerImage"`
	Dockerfile     string        `yaml:"dockerfile"`
	Debug          bool          `yaml:"debug"`
}

type GitUserConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Environment returns the author and committer identity variables for git subprocesses.
func (u GitUserConfig) Environment() map[string]string {
	return map[string]string{
		"GIT_AUTHOR_NAME":     u.Name,
		"GIT_AUTHOR_EMAIL":    u.Email,
		"GIT_COMMITTER_NAME":  u.Name,
		"GIT_COMMITTER_EMAIL": u.Email,
	}
}

// DefaultConfig builds the configuration defaults, reading SENCHA_BUILDD_* variables
// from the given environment. Paths left empty are derived from ServicePath by Finalize.
func DefaultConfig(environment []string) Config {
	lookup := make(map[string]string)
	for _, variable := range environment {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	config := Config{
		Port:           DefaultPort,
		ServicePath:    DefaultServicePath,
		Workers:        DefaultWorkers,
		BuildTimeout:   DefaultBuildTimeout,
		WebhookTimeout: DefaultWebhookTimeout,
		Runner:         RunnerExec,
		GitUser: GitUserConfig{
			Name:  "Sencha Cmd",
			Email: "sencha-cmd@" + hostname(),
		},
	}

	if value, ok := lookup["SENCHA_BUILDD_PORT"]; ok {
		if port, err := strconv.Atoi(value); err == nil {
			config.Port = port
		}
	}
	if value, ok := lookup["SENCHA_BUILDD_SERVICE_PATH"]; ok && value != "" {
		config.ServicePath = value
	}
	if value, ok := lookup["SENCHA_BUILDD_CMD_PATH"]; ok {
		config.CmdPath = value
	}
	if value, ok := lookup["SENCHA_BUILDD_RUNNER"]; ok && value != "" {
		config.Runner = value
	}
	if value, ok := lookup["SENCHA_BUILDD_DOCKER_IMAGE"]; ok {
		config.DockerImage = value
	}

	return config
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// BindFlags registers the configuration flags on fs, using the current values as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&c.Port, "port", "p", c.Port, "HTTP port to listen on")
	fs.StringVar(&c.ServicePath, "service-path", c.ServicePath, "directory holding builds.git and dist/")
	fs.StringVar(&c.RepositoryPath, "repository", c.RepositoryPath, "path to the bare builds repository (default <service-path>/builds.git)")
	fs.StringVar(&c.DistPath, "dist", c.DistPath, "directory of installed build tool versions (default <service-path>/dist)")
	fs.StringVar(&c.CmdPath, "cmd", c.CmdPath, "path to the sencha executable (default: newest version under --dist)")
	fs.StringVar(&c.TempDir, "temp-dir", c.TempDir, "directory for scratch build environments")
	fs.IntVar(&c.Workers, "workers", c.Workers, "maximum concurrent build tool executions")
	fs.DurationVar(&c.BuildTimeout, "build-timeout", c.BuildTimeout, "maximum duration of one build tool execution")
	fs.DurationVar(&c.WebhookTimeout, "webhook-timeout", c.WebhookTimeout, "maximum duration of one webhook delivery")
	fs.StringVar(&c.GitUser.Name, "git-user-name", c.GitUser.Name, "author name of commits written by the service")
	fs.StringVar(&c.GitUser.Email, "git-user-email", c.GitUser.Email, "author email of commits written by the service")
	fs.StringVar(&c.Runner, "runner", c.Runner, "build tool runner: exec or docker")
	fs.StringVar(&c.DockerImage, "docker-image", c.DockerImage, "image used by the docker runner")
	fs.StringVar(&c.Dockerfile, "dockerfile", c.Dockerfile, "Dockerfile to build --docker-image from at startup")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
}

// LoadFile overlays the YAML file at path onto c. Fields named in skip (flag names that
// were set explicitly on the command line) keep their current values.
func (c *Config) LoadFile(path string, skip map[string]bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	file := *c
	if err := yaml.Unmarshal(content, &file); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w\nThe file must be a YAML mapping of config fields", path, err)
	}

	values := pflag.NewFlagSet("config-file", pflag.ContinueOnError)
	file.BindFlags(values)
	target := pflag.NewFlagSet("config", pflag.ContinueOnError)
	c.BindFlags(target)

	var setErr error
	values.VisitAll(func(f *pflag.Flag) {
		if skip[f.Name] || setErr != nil {
			return
		}
		if err := target.Set(f.Name, f.Value.String()); err != nil {
			setErr = fmt.Errorf("invalid value for %q in config file %q: %w", f.Name, path, err)
		}
	})

	return setErr
}

// Finalize derives unset paths from ServicePath and validates the result.
func (c *Config) Finalize() error {
	if c.RepositoryPath == "" {
		c.RepositoryPath = filepath.Join(c.ServicePath, "builds.git")
	}
	if c.DistPath == "" {
		c.DistPath = filepath.Join(c.ServicePath, "dist")
	}

	return c.Validate()
}

// Validate reports configuration values that cannot be served.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers %d: at least one worker is required", c.Workers)
	}
	if c.BuildTimeout <= 0 {
		return fmt.Errorf("invalid build timeout %s", c.BuildTimeout)
	}
	switch c.Runner {
	case RunnerExec:
	case RunnerDocker:
		if c.DockerImage == "" {
			return fmt.Errorf("the docker runner requires --docker-image")
		}
	default:
		return fmt.Errorf("unknown runner %q: expected %q or %q", c.Runner, RunnerExec, RunnerDocker)
	}
	if c.GitUser.Name == "" || c.GitUser.Email == "" {
		return fmt.Errorf("git user name and email are required")
	}

	return nil
}
