package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/artpar/boxcompose/internal/core/deployment"
	"github.com/artpar/boxcompose/internal/shell/docker"
	"github.com/artpar/boxcompose/internal/shell/workspace"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitLoadError     = 1 // config, compose file, or usage
	ExitGraphError    = 2
	ExitTemplateError = 3
	ExitRuntimeError  = 4
	ExitInterrupted   = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp(stdout, stderr))
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps an error class onto the process exit status.
func exitCode(err error) int {
	var (
		cycle    *deployment.CycleError
		parseErr *compose.ParseError
		rtErr    *docker.RuntimeError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &cycle):
		return ExitGraphError
	case errors.Is(err, deployment.ErrRequiredVariable):
		return ExitTemplateError
	case errors.As(err, &parseErr),
		errors.Is(err, workspace.ErrComposeFileNotFound),
		errors.Is(err, compose.ErrEmptyInput),
		errors.Is(err, compose.ErrNoServices):
		return ExitLoadError
	case errors.As(err, &rtErr):
		return ExitRuntimeError
	default:
		return ExitLoadError
	}
}
