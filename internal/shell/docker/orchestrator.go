package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/artpar/boxcompose/internal/core/deployment"
	"github.com/artpar/boxcompose/internal/shell/workspace"
	"github.com/google/uuid"
)

// Readiness defaults.
const (
	DefaultReadinessTimeout = 30 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
)

// =============================================================================
// Orchestrator - Drives a Compose Project
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	ReadinessTimeout time.Duration
	PollInterval     time.Duration
	VolumeRoot       string
	FS               deployment.HostFS
	Out              io.Writer // service output; defaults to os.Stdout
}

// UpOptions selects what an Up invocation does.
type UpOptions struct {
	Services   []string // empty means all
	Detach     bool
	Build      bool
	NoCache    bool
	NoRecreate bool // keep containers that are already running
}

// Orchestrator walks a project's services in dependency order against a
// runtime Client.
type Orchestrator struct {
	runtime Client
	logger  *slog.Logger
	opts    Options
	console *Console
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(runtime Client, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = DefaultReadinessTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FS == nil {
		opts.FS = workspace.OSFS{}
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.VolumeRoot == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.VolumeRoot = filepath.Join(home, ".containers", "Volumes")
		}
	}
	return &Orchestrator{
		runtime: runtime,
		logger:  logger,
		opts:    opts,
		console: NewConsole(opts.Out),
	}
}

// upRun is the state of one Up invocation. Only the driver goroutine
// touches it.
type upRun struct {
	ws      *workspace.Workspace
	project *deployment.ProjectContext
	opts    UpOptions
	runID   string
	logger  *slog.Logger
	phase   deployment.Phase
	images  []string
	streams sync.WaitGroup
}

func (r *upRun) transition(to deployment.Phase) {
	if !deployment.CanTransition(r.phase, to) {
		r.logger.Warn("unexpected phase transition", "from", r.phase, "to", to)
	}
	r.logger.Debug("phase", "from", r.phase, "to", to)
	r.phase = to
}

// =============================================================================
// Up
// =============================================================================

// Up brings the selected services up in dependency order.
//
// Graph and template errors abort the run. Runtime failures for a single
// service are logged and the next service is attempted. In attached mode Up
// returns when ctx is cancelled; in detached mode it returns once every
// launch call has returned.
func (o *Orchestrator) Up(ctx context.Context, ws *workspace.Workspace, opts UpOptions) error {
	run := &upRun{
		ws:      ws,
		project: ws.NewProject(o.opts.VolumeRoot),
		opts:    opts,
		runID:   uuid.NewString(),
		phase:   deployment.PhaseLoading,
	}
	run.logger = o.logger.With("project", ws.ProjectName, "run_id", run.runID)

	for _, note := range compose.Notes(ws.Document) {
		run.logger.Info(note)
	}

	graph, err := deployment.ResolveGraph(ws.Document.Services)
	if err != nil {
		run.transition(deployment.PhaseExited)
		return err
	}
	for _, name := range graph.Unknown(opts.Services) {
		run.logger.Warn("ignoring unknown service", "service", name)
	}
	selected := graph.Select(opts.Services)
	run.logger.Info("starting project", "services", selected, "detach", opts.Detach)

	run.transition(deployment.PhaseStoppingPrevious)
	if err := o.stopPrevious(ctx, run, selected); err != nil {
		run.transition(deployment.PhaseExited)
		return err
	}

	run.transition(deployment.PhaseProvisioningNetworks)
	o.provisionNetworks(ctx, run)

	run.transition(deployment.PhaseProvisioningVolumes)
	o.provisionVolumes(ctx, run)

	run.transition(deployment.PhaseLaunchingServices)
	for _, name := range selected {
		if err := ctx.Err(); err != nil {
			run.transition(deployment.PhaseExited)
			run.streams.Wait()
			return err
		}
		if err := o.launchService(ctx, run, name); err != nil {
			if isFatal(err) {
				run.transition(deployment.PhaseExited)
				run.streams.Wait()
				return err
			}
			run.logger.Error("failed to start service", "service", name, "error", err)
		}
	}

	run.transition(deployment.TerminalPhase(opts.Detach))
	if run.phase == deployment.PhaseSteady {
		run.logger.Info("project running, press Ctrl+C to detach", "services", len(selected))
		<-ctx.Done()
		run.streams.Wait()
		run.transition(deployment.PhaseExited)
		return nil
	}

	run.streams.Wait()
	run.logger.Info("project started", "services", len(selected))
	return nil
}

// isFatal reports whether an error must abort the whole run.
func isFatal(err error) bool {
	return errors.Is(err, deployment.ErrRequiredVariable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// stopPrevious stops and removes any existing container of the selected
// services so each one is recreated from the current document. With
// NoRecreate a running container is kept, unless images are being rebuilt.
func (o *Orchestrator) stopPrevious(ctx context.Context, run *upRun, selected []string) error {
	keepRunning := run.opts.NoRecreate && !run.opts.Build
	for _, name := range selected {
		containerName, err := o.containerName(run.project, name, run.ws.Document.Services[name])
		if err != nil {
			return err
		}

		info, err := o.runtime.FindContainer(ctx, containerName)
		if err != nil {
			if !errors.Is(err, ErrContainerNotFound) {
				run.logger.Warn("failed to inspect previous container", "service", name, "container", containerName, "error", err)
			}
			continue
		}
		if info.Running() && keepRunning {
			run.logger.Debug("keeping running container", "service", name, "container", containerName)
			continue
		}

		run.logger.Info("removing previous container", "service", name, "container", containerName)
		if info.Running() {
			if err := o.runtime.StopContainer(ctx, containerName); err != nil {
				run.logger.Warn("failed to stop container", "container", containerName, "error", err)
			}
		}
		if err := o.runtime.RemoveContainer(ctx, containerName); err != nil {
			run.logger.Warn("failed to remove container", "container", containerName, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) provisionNetworks(ctx context.Context, run *upRun) {
	for _, plan := range deployment.PlanNetworks(run.ws.Document.Networks, run.project.Name) {
		if plan.External {
			run.logger.Debug("skipping external network", "network", plan.Name)
			continue
		}
		if err := o.runtime.EnsureNetwork(ctx, plan); err != nil {
			run.logger.Warn("failed to create network", "network", plan.Name, "error", err)
			continue
		}
		run.logger.Debug("network ready", "network", plan.Name)
	}
}

func (o *Orchestrator) provisionVolumes(ctx context.Context, run *upRun) {
	for _, plan := range deployment.PlanVolumes(run.ws.Document.Volumes, run.project) {
		if plan.External {
			run.logger.Debug("skipping external volume", "volume", plan.Name)
			continue
		}
		if err := o.runtime.EnsureVolume(ctx, plan); err != nil {
			run.logger.Warn("failed to create volume", "volume", plan.Name, "error", err)
			continue
		}
		run.logger.Debug("volume ready", "volume", plan.Name)
	}
}

// =============================================================================
// Launch One Service
// =============================================================================

func (o *Orchestrator) launchService(ctx context.Context, run *upRun, name string) error {
	logger := run.logger.With("service", name)
	doc := run.ws.Document

	svc, err := deployment.InterpolateService(doc.Services[name], run.project.Lookup())
	if err != nil {
		return fmt.Errorf("service %s: %w", name, err)
	}

	envFiles, warnings := run.ws.ServiceEnvFiles(svc)
	for _, w := range warnings {
		logger.Warn("env file skipped", "reason", w)
	}
	env, err := deployment.ResolveServiceEnvironment(name, svc, envFiles, run.project)
	if err != nil {
		return err
	}
	if unresolved := deployment.UnresolvedVariables(env); len(unresolved) > 0 {
		logger.Warn("unresolved variables", "variables", unresolved)
	}

	imageRef, err := o.resolveImage(ctx, run, name, svc)
	if err != nil {
		return err
	}

	spec, warnings, err := deployment.BuildRunSpec(deployment.RunSpecParams{
		ServiceName: name,
		Service:     svc,
		Project:     run.project,
		Env:         env,
		Image:       imageRef,
		Detach:      run.opts.Detach,
		RunID:       run.runID,
		Networks:    doc.Networks,
		Volumes:     doc.Volumes,
		FS:          o.opts.FS,
	})
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn("run option skipped", "reason", w)
	}

	if status, err := o.runtime.Status(ctx, spec.Name); err == nil && status == ContainerStatusRunning {
		logger.Info("service already running", "container", spec.Name)
		o.recordAddress(ctx, run, name, spec.Name)
		return nil
	}

	logger.Info("starting service", "container", spec.Name, "image", spec.Image)
	logger.Debug("run spec", "argv", spec.Argv())

	// failed carries at most one Launch error and is closed when Launch
	// returns. Whoever is waiting on it reports the error.
	failed := make(chan error, 1)
	sink := o.console.Sink(name)
	run.streams.Add(1)
	go func() {
		defer run.streams.Done()
		defer close(failed)
		if err := o.runtime.Launch(ctx, spec, sink); err != nil && ctx.Err() == nil {
			failed <- err
		}
	}()

	err = o.waitUntilRunning(ctx, spec.Name, failed)
	var launchErr *launchFailure
	switch {
	case errors.As(err, &launchErr):
		return launchErr.err
	case errors.Is(err, ErrTimeout):
		logger.Warn("service not running yet", "container", spec.Name, "error", err)
	case err != nil:
		return err
	default:
		o.recordAddress(ctx, run, name, spec.Name)
	}

	run.streams.Add(1)
	go func() {
		defer run.streams.Done()
		for err := range failed {
			logger.Error("service stopped", "container", spec.Name, "error", err)
		}
	}()
	return nil
}

// launchFailure marks an error returned by Launch before the container was
// seen running.
type launchFailure struct{ err error }

func (e *launchFailure) Error() string { return e.err.Error() }
func (e *launchFailure) Unwrap() error { return e.err }

func (o *Orchestrator) recordAddress(ctx context.Context, run *upRun, service, containerName string) {
	addr, err := o.runtime.Address(ctx, containerName)
	if err != nil {
		run.logger.Warn("failed to read address", "service", service, "error", err)
		return
	}
	if addr == "" {
		return
	}
	run.project.RecordAddress(service, addr)
	run.logger.Debug("recorded address", "service", service, "address", addr)
}

// resolveImage makes the service image available locally and returns the
// reference to run.
func (o *Orchestrator) resolveImage(ctx context.Context, run *upRun, name string, svc compose.Service) (string, error) {
	if run.images == nil {
		images, err := o.runtime.ListImages(ctx)
		if err != nil {
			run.logger.Warn("failed to list images", "error", err)
		}
		run.images = append([]string{}, images...)
	}

	if svc.Build != nil {
		tag := deployment.ImageTag(name, svc.Image)
		if !deployment.NeedsBuild(run.opts.Build, run.images, tag) {
			return tag, nil
		}
		buildCtx := svc.Build.Context
		if !filepath.IsAbs(buildCtx) {
			buildCtx = filepath.Join(run.project.WorkDir, buildCtx)
		}
		run.logger.Info("building image", "service", name, "tag", tag, "context", buildCtx)
		built, err := o.runtime.BuildImage(ctx, BuildSpec{
			Context:    buildCtx,
			Dockerfile: svc.Build.Dockerfile,
			Args:       svc.Build.Args.Map(),
			Target:     svc.Build.Target,
			Platform:   svc.Platform,
			Tag:        tag,
			NoCache:    run.opts.NoCache,
		})
		if err != nil {
			return "", err
		}
		run.images = append(run.images, built)
		return built, nil
	}

	if deployment.HasImage(run.images, svc.Image) {
		return svc.Image, nil
	}
	run.logger.Info("pulling image", "service", name, "image", svc.Image)
	if err := o.runtime.PullImage(ctx, svc.Image, PullOptions{Platform: svc.Platform}); err != nil {
		return "", err
	}
	run.images = append(run.images, svc.Image)
	return svc.Image, nil
}

// waitUntilRunning polls the container status until it is running. An
// error received on failed ends the wait early as a *launchFailure; a closed
// failed channel without an error only stops watching it.
func (o *Orchestrator) waitUntilRunning(ctx context.Context, name string, failed <-chan error) error {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(o.opts.ReadinessTimeout)
	for {
		status, err := o.runtime.Status(ctx, name)
		if err == nil && status == ContainerStatusRunning {
			return nil
		}
		if time.Now().After(deadline) {
			return NewRuntimeError("WaitUntilRunning", "container", name,
				fmt.Sprintf("not running after %s", o.opts.ReadinessTimeout), ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-failed:
			if ok {
				return &launchFailure{err: err}
			}
			failed = nil
		case <-ticker.C:
		}
	}
}

// containerName computes a service's container identity after
// interpolating its fields.
func (o *Orchestrator) containerName(project *deployment.ProjectContext, name string, svc compose.Service) (string, error) {
	resolved, err := deployment.InterpolateService(svc, project.Lookup())
	if err != nil {
		return "", fmt.Errorf("service %s: %w", name, err)
	}
	return deployment.ContainerName(project.Name, name, resolved.ContainerName), nil
}

// =============================================================================
// Down
// =============================================================================

// Down stops and removes the selected services' containers in reverse
// dependency order. Runtime failures are logged and skipped.
func (o *Orchestrator) Down(ctx context.Context, ws *workspace.Workspace, services []string) error {
	logger := o.logger.With("project", ws.ProjectName)

	graph, err := deployment.ResolveGraph(ws.Document.Services)
	if err != nil {
		return err
	}
	for _, name := range graph.Unknown(services) {
		logger.Warn("ignoring unknown service", "service", name)
	}

	project := ws.NewProject(o.opts.VolumeRoot)
	for _, name := range deployment.Reversed(graph.Select(services)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		containerName, err := o.containerName(project, name, ws.Document.Services[name])
		if err != nil {
			return err
		}

		logger.Info("stopping service", "service", name, "container", containerName)
		if err := o.runtime.StopContainer(ctx, containerName); err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				logger.Debug("no container to remove", "service", name)
				continue
			}
			if !errors.Is(err, ErrContainerNotRunning) {
				logger.Warn("failed to stop container", "container", containerName, "error", err)
			}
		}
		if err := o.runtime.RemoveContainer(ctx, containerName); err != nil && !errors.Is(err, ErrContainerNotFound) {
			logger.Warn("failed to remove container", "container", containerName, "error", err)
		}
	}
	logger.Info("project stopped")
	return nil
}

// =============================================================================
// Checkpoint
// =============================================================================

// Checkpoint commits a service's container to an image and returns the tag.
// An empty tag defaults to {project}-{service}:checkpoint-{unix}.
func (o *Orchestrator) Checkpoint(ctx context.Context, ws *workspace.Workspace, service, tag string) (string, error) {
	svc, ok := ws.Document.Services[service]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	project := ws.NewProject(o.opts.VolumeRoot)
	containerName, err := o.containerName(project, service, svc)
	if err != nil {
		return "", err
	}
	if tag == "" {
		tag = deployment.CheckpointTag(project.Name, service, time.Now().Unix())
	}

	if _, err := o.runtime.FindContainer(ctx, containerName); err != nil {
		return "", err
	}
	o.logger.Info("checkpointing service", "service", service, "container", containerName, "tag", tag)
	if _, err := o.runtime.CommitContainer(ctx, containerName, tag); err != nil {
		return "", err
	}
	return tag, nil
}
