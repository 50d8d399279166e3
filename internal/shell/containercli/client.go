// Package containercli implements the runtime Client by invoking a
// container CLI binary (by default `container`) as a subprocess.
package containercli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/artpar/boxcompose/internal/core/deployment"
	"github.com/artpar/boxcompose/internal/shell/docker"
	"golang.org/x/sync/errgroup"
)

// DefaultBinary is the runtime CLI invoked when none is configured.
const DefaultBinary = "container"

var ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// =============================================================================
// Runner
// =============================================================================

// Runner executes the runtime binary with args in dir, copying its output to
// stdout and stderr. It returns when the process exits.
type Runner func(ctx context.Context, dir string, args []string, stdout, stderr io.Writer) error

// ExecRunner returns a Runner that starts binary as a subprocess.
func ExecRunner(binary string) Runner {
	return func(ctx context.Context, dir string, args []string, stdout, stderr io.Writer) error {
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Dir = dir

		outPipe, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		errPipe, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}

		// Both pipes must be drained before Wait.
		var g errgroup.Group
		g.Go(func() error {
			_, err := io.Copy(stdout, outPipe)
			return err
		})
		g.Go(func() error {
			_, err := io.Copy(stderr, errPipe)
			return err
		})
		copyErr := g.Wait()

		if err := cmd.Wait(); err != nil {
			return err
		}
		return copyErr
	}
}

// =============================================================================
// Client
// =============================================================================

// Client drives the runtime CLI.
type Client struct {
	run    Runner
	logger *slog.Logger
}

var _ docker.Client = (*Client)(nil)

// New creates a Client for the given binary.
func New(binary string, logger *slog.Logger) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return NewWithRunner(ExecRunner(binary), logger)
}

// NewWithRunner creates a Client over an arbitrary Runner.
func NewWithRunner(run Runner, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{run: run, logger: logger}
}

// Close is a no-op; the CLI holds no connection.
func (c *Client) Close() error { return nil }

// output runs one command to completion and returns its stdout.
func (c *Client) output(ctx context.Context, op, entity, id string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	c.logger.Debug("runtime command", "args", args)
	if err := c.run(ctx, "", args, &stdout, &stderr); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String(), docker.NewRuntimeError(op, entity, id, msg, classify(entity, msg, err))
	}
	return stdout.String(), nil
}

// classify maps CLI error text onto the runtime sentinels.
func classify(entity, msg string, err error) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found") || strings.Contains(lower, "notfound") || strings.Contains(lower, "no such"):
		switch entity {
		case "container":
			return docker.ErrContainerNotFound
		case "image":
			return docker.ErrImageNotFound
		case "network":
			return docker.ErrNetworkNotFound
		case "volume":
			return docker.ErrVolumeNotFound
		}
	case strings.Contains(lower, "not running"):
		return docker.ErrContainerNotRunning
	case strings.Contains(lower, "already exists"):
		return docker.ErrContainerAlreadyExists
	}
	return err
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// =============================================================================
// Networks and Volumes
// =============================================================================

// EnsureNetwork runs `network create`; an existing network is success.
func (c *Client) EnsureNetwork(ctx context.Context, plan deployment.NetworkPlan) error {
	if plan.External {
		return nil
	}
	args := append([]string{"network", "create"}, plan.CreateArgs()...)
	if _, err := c.output(ctx, "EnsureNetwork", "network", plan.Name, args...); err != nil && !alreadyExists(err) {
		return err
	}
	return nil
}

// EnsureVolume runs `volume create`; an existing volume is success.
func (c *Client) EnsureVolume(ctx context.Context, plan deployment.VolumePlan) error {
	if plan.External {
		return nil
	}
	args := append([]string{"volume", "create"}, plan.CreateArgs()...)
	if _, err := c.output(ctx, "EnsureVolume", "volume", plan.Name, args...); err != nil && !alreadyExists(err) {
		return err
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// containerStatuses are the state words recognised in `list --all` output.
var containerStatuses = map[string]docker.ContainerStatus{
	"running":  docker.ContainerStatusRunning,
	"stopped":  docker.ContainerStatusStopped,
	"created":  docker.ContainerStatusCreated,
	"exited":   docker.ContainerStatusExited,
	"stopping": docker.ContainerStatusRemoving,
	"paused":   docker.ContainerStatusPaused,
}

// FindContainer looks the container up in `list --all` by its first column.
func (c *Client) FindContainer(ctx context.Context, name string) (*docker.ContainerInfo, error) {
	out, err := c.output(ctx, "FindContainer", "container", name, "list", "--all")
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		if info, ok := parseListLine(line); ok && info.Name == name {
			return info, nil
		}
	}
	return nil, docker.NewRuntimeError("FindContainer", "container", name, "container not found", docker.ErrContainerNotFound)
}

// parseListLine parses one row of `list --all`: the name first, then the
// image, with a state word and an IPv4 address somewhere after.
func parseListLine(line string) (*docker.ContainerInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] == "ID" {
		return nil, false
	}
	info := &docker.ContainerInfo{
		ID:     fields[0],
		Name:   fields[0],
		Status: docker.ContainerStatusUnknown,
	}
	if len(fields) > 1 {
		info.Image = fields[1]
	}
	for _, f := range fields[1:] {
		if status, ok := containerStatuses[strings.ToLower(f)]; ok {
			info.Status = status
			break
		}
	}
	info.Address = ipv4Pattern.FindString(strings.Join(fields[1:], " "))
	return info, true
}

// Status returns the container's state.
func (c *Client) Status(ctx context.Context, name string) (docker.ContainerStatus, error) {
	info, err := c.FindContainer(ctx, name)
	if err != nil {
		return docker.ContainerStatusUnknown, err
	}
	return info.Status, nil
}

// Address returns the container's IPv4 address, empty if it has none.
func (c *Client) Address(ctx context.Context, name string) (string, error) {
	info, err := c.FindContainer(ctx, name)
	if err != nil {
		return "", err
	}
	return info.Address, nil
}

// StopContainer runs `stop`.
func (c *Client) StopContainer(ctx context.Context, name string) error {
	_, err := c.output(ctx, "StopContainer", "container", name, "stop", name)
	return err
}

// RemoveContainer runs `rm`.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	_, err := c.output(ctx, "RemoveContainer", "container", name, "rm", name)
	return err
}

// CommitContainer runs `commit` and returns the image reference.
func (c *Client) CommitContainer(ctx context.Context, name, image string) (string, error) {
	if _, err := c.output(ctx, "CommitContainer", "container", name, "commit", name, image); err != nil {
		return "", err
	}
	return image, nil
}

// Launch runs `run` with the spec's argv in the project directory, so
// relative mount sources resolve there. Output is forwarded to sink line by
// line.
func (c *Client) Launch(ctx context.Context, spec deployment.RunSpec, sink func(docker.LogLine)) error {
	args := append([]string{"run"}, spec.Argv()...)
	c.logger.Debug("runtime command", "args", args, "dir", spec.Dir)

	stdout := docker.NewLineWriter(spec.Service, docker.StreamStdout, sink)
	stderr := docker.NewLineWriter(spec.Service, docker.StreamStderr, sink)
	err := c.run(ctx, spec.Dir, args, stdout, stderr)
	stdout.Flush()
	stderr.Flush()
	if err != nil && ctx.Err() == nil {
		return docker.NewRuntimeError("Launch", "container", spec.Name, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Image Operations
// =============================================================================

// ListImages parses `images list` into name:tag references.
func (c *Client) ListImages(ctx context.Context) ([]string, error) {
	out, err := c.output(ctx, "ListImages", "image", "", "images", "list")
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "NAME" {
			continue
		}
		ref := fields[0]
		if len(fields) > 1 && !strings.Contains(ref, "@") {
			ref += ":" + fields[1]
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// PullImage runs `image pull`.
func (c *Client) PullImage(ctx context.Context, ref string, opts docker.PullOptions) error {
	args := []string{"image", "pull"}
	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}
	args = append(args, ref)
	if _, err := c.output(ctx, "PullImage", "image", ref, args...); err != nil {
		return fmt.Errorf("%w: %w", docker.ErrImagePullFailed, err)
	}
	return nil
}

// BuildImage runs `build` and returns the tag.
func (c *Client) BuildImage(ctx context.Context, spec docker.BuildSpec) (string, error) {
	if _, err := c.output(ctx, "BuildImage", "image", spec.Tag, BuildArgs(spec)...); err != nil {
		return "", fmt.Errorf("%w: %w", docker.ErrImageBuildFailed, err)
	}
	return spec.Tag, nil
}

// BuildArgs renders a build as CLI arguments, with build args sorted by key
// and the context last.
func BuildArgs(spec docker.BuildSpec) []string {
	args := []string{"build", "--tag", spec.Tag}
	if spec.Dockerfile != "" {
		dockerfile := spec.Dockerfile
		if !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(spec.Context, dockerfile)
		}
		args = append(args, "--file", dockerfile)
	}

	keys := make([]string, 0, len(spec.Args))
	for k := range spec.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+spec.Args[k])
	}

	if spec.Target != "" {
		args = append(args, "--target", spec.Target)
	}
	if spec.Platform != "" {
		args = append(args, "--platform", spec.Platform)
	}
	if spec.NoCache {
		args = append(args, "--no-cache")
	}
	return append(args, spec.Context)
}
