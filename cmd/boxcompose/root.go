package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/artpar/boxcompose/internal/shell/containercli"
	"github.com/artpar/boxcompose/internal/shell/docker"
	"github.com/artpar/boxcompose/internal/shell/workspace"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configPath string
	logLevel   string
	logFormat  string
	backend    string
	file       string
	workdir    string

	cfg    *Config
	logger *slog.Logger

	// newRuntime is swapped out in tests.
	newRuntime func(ctx context.Context, cfg *Config, logger *slog.Logger) (docker.Client, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, newRuntime: newRuntime}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "boxcompose",
		Short:         "Run Compose projects on a single-host container runtime",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")
	flags.StringVar(&a.backend, "runtime", "", "Runtime backend (docker, container)")
	flags.StringVarP(&a.file, "file", "f", "", "Compose file (default: first of compose.yaml, compose.yml, docker-compose.yaml, docker-compose.yml)")
	flags.StringVarP(&a.workdir, "workdir", "w", ".", "Project directory")

	root.AddCommand(newUpCmd(a), newDownCmd(a), newCheckpointCmd(a), newVersionCmd(a))
	return root
}

// setup loads config, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.backend != "" {
		cfg.Runtime.Backend = a.backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	a.logger.Debug("configuration loaded", "config", a.configPath, "runtime", cfg.Runtime.Backend, "command", cmd.Name())
	return nil
}

// newRuntime connects the configured backend.
func newRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (docker.Client, error) {
	switch cfg.Runtime.Backend {
	case BackendContainer:
		return containercli.New(cfg.Runtime.Binary, logger), nil
	default:
		return docker.NewDockerClient(ctx, cfg.Runtime.DockerHost)
	}
}

// prepare loads the workspace and connects the runtime.
func (a *app) prepare(ctx context.Context) (*workspace.Workspace, *docker.Orchestrator, func(), error) {
	ws, err := workspace.Load(a.workdir, a.file)
	if err != nil {
		return nil, nil, nil, err
	}

	runtime, err := a.newRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, nil, err
	}

	orch := docker.NewOrchestrator(runtime, a.logger, docker.Options{
		ReadinessTimeout: a.cfg.Readiness.Timeout,
		PollInterval:     a.cfg.Readiness.PollInterval,
		VolumeRoot:       a.cfg.Volumes.Root,
		Out:              a.stdout,
	})
	cleanup := func() {
		if err := runtime.Close(); err != nil {
			a.logger.Debug("failed to close runtime", "error", err)
		}
	}
	return ws, orch, cleanup, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "boxcompose %s (built %s)\n", Version, BuildTime)
		},
	}
}
