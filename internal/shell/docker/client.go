// Package docker drives a container runtime for a Compose project: the
// runtime Client capability, its Docker Engine backend, and the Orchestrator
// that walks services in dependency order.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/artpar/boxcompose/internal/core/deployment"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const stopTimeoutSeconds = 10

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

var _ Client = (*DockerClient)(nil)

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(ctx context.Context, host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewRuntimeError("NewDockerClient", "", "", err.Error(), ErrConnectionFailed)
	}

	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + filepath.Join(homeDir, ".docker", "run", "docker.sock")

		fallback, err := client.NewClientWithOpts(client.WithHost(desktopSocket), client.WithAPIVersionNegotiation())
		if err == nil {
			if _, err := fallback.Ping(ctx); err == nil {
				cli.Close()
				return &DockerClient{cli: fallback}, nil
			}
			fallback.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewRuntimeError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Networks and Volumes
// =============================================================================

// EnsureNetwork creates the planned network unless one with that name exists.
func (d *DockerClient) EnsureNetwork(ctx context.Context, plan deployment.NetworkPlan) error {
	if _, err := d.cli.NetworkInspect(ctx, plan.Name, network.InspectOptions{}); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return NewRuntimeError("EnsureNetwork", "network", plan.Name, err.Error(), err)
	}
	if plan.External {
		return NewRuntimeError("EnsureNetwork", "network", plan.Name, "external network does not exist", ErrNetworkNotFound)
	}

	opts := network.CreateOptions{
		Driver:     plan.Driver,
		Options:    plan.DriverOpts,
		Labels:     plan.Labels,
		Internal:   plan.Internal,
		Attachable: plan.Attachable,
	}
	if plan.EnableIPv6 {
		enabled := true
		opts.EnableIPv6 = &enabled
	}
	if len(plan.Subnets) > 0 {
		opts.IPAM = &network.IPAM{}
		for _, subnet := range plan.Subnets {
			opts.IPAM.Config = append(opts.IPAM.Config, network.IPAMConfig{Subnet: subnet})
		}
	}

	if _, err := d.cli.NetworkCreate(ctx, plan.Name, opts); err != nil {
		if errdefs.IsConflict(err) || errdefs.IsAlreadyExists(err) || strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return NewRuntimeError("EnsureNetwork", "network", plan.Name, err.Error(), err)
	}
	return nil
}

// EnsureVolume creates the planned volume unless one with that name exists.
func (d *DockerClient) EnsureVolume(ctx context.Context, plan deployment.VolumePlan) error {
	if _, err := d.cli.VolumeInspect(ctx, plan.Name); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return NewRuntimeError("EnsureVolume", "volume", plan.Name, err.Error(), err)
	}
	if plan.External {
		return NewRuntimeError("EnsureVolume", "volume", plan.Name, "external volume does not exist", ErrVolumeNotFound)
	}

	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:       plan.Name,
		Driver:     plan.Driver,
		DriverOpts: plan.DriverOpts,
		Labels:     plan.Labels,
	})
	if err != nil {
		return NewRuntimeError("EnsureVolume", "volume", plan.Name, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// FindContainer returns the container with the given name, or
// ErrContainerNotFound.
func (d *DockerClient) FindContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, NewRuntimeError("FindContainer", "container", name, "container not found", ErrContainerNotFound)
		}
		return nil, NewRuntimeError("FindContainer", "container", name, err.Error(), err)
	}

	info := &ContainerInfo{
		ID:     resp.ID,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		Status: ContainerStatusUnknown,
	}
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.NetworkSettings != nil {
		info.Address = firstAddress(resp.NetworkSettings.Networks)
	}
	return info, nil
}

// firstAddress returns the IPv4 address on the lexically first network.
func firstAddress(networks map[string]*network.EndpointSettings) string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ep := networks[name]; ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

// Status returns the runtime status of the named container.
func (d *DockerClient) Status(ctx context.Context, name string) (ContainerStatus, error) {
	info, err := d.FindContainer(ctx, name)
	if err != nil {
		return ContainerStatusUnknown, err
	}
	return info.Status, nil
}

// Address returns the IPv4 address of the named container.
func (d *DockerClient) Address(ctx context.Context, name string) (string, error) {
	info, err := d.FindContainer(ctx, name)
	if err != nil {
		return "", err
	}
	return info.Address, nil
}

// StopContainer stops a running container.
func (d *DockerClient) StopContainer(ctx context.Context, name string) error {
	timeout := stopTimeoutSeconds
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return NewRuntimeError("StopContainer", "container", name, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewRuntimeError("StopContainer", "container", name, "container is not running", ErrContainerNotRunning)
		}
		return NewRuntimeError("StopContainer", "container", name, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return NewRuntimeError("RemoveContainer", "container", name, "container not found", ErrContainerNotFound)
		}
		return NewRuntimeError("RemoveContainer", "container", name, err.Error(), err)
	}
	return nil
}

// CommitContainer snapshots a container's filesystem into an image.
func (d *DockerClient) CommitContainer(ctx context.Context, name, ref string) (string, error) {
	resp, err := d.cli.ContainerCommit(ctx, name, container.CommitOptions{Reference: ref})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", NewRuntimeError("CommitContainer", "container", name, "container not found", ErrContainerNotFound)
		}
		return "", NewRuntimeError("CommitContainer", "container", name, err.Error(), ErrCommitFailed)
	}
	return resp.ID, nil
}

// =============================================================================
// Launch
// =============================================================================

// Launch creates and starts the container described by spec.
func (d *DockerClient) Launch(ctx context.Context, spec deployment.RunSpec, sink func(LogLine)) error {
	req, err := translateRunSpec(spec)
	if err != nil {
		return NewRuntimeError("Launch", "container", spec.Name, err.Error(), ErrInvalidRunSpec)
	}

	resp, err := d.cli.ContainerCreate(ctx, req.Config, req.Host, req.Network, req.Platform, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return NewRuntimeError("Launch", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
		if errdefs.IsNotFound(err) {
			return NewRuntimeError("Launch", "image", spec.Image, err.Error(), ErrImageNotFound)
		}
		return NewRuntimeError("Launch", "container", spec.Name, err.Error(), err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if strings.Contains(err.Error(), "port is already allocated") {
			return NewRuntimeError("Launch", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return NewRuntimeError("Launch", "container", spec.Name, err.Error(), err)
	}

	if spec.Has(deployment.FlagDetach) {
		return nil
	}
	return d.follow(ctx, resp.ID, spec, req.Config.Tty, sink)
}

// follow streams container output to sink until the container exits.
func (d *DockerClient) follow(ctx context.Context, id string, spec deployment.RunSpec, tty bool, sink func(LogLine)) error {
	logs, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return NewRuntimeError("Launch", "container", spec.Name, err.Error(), err)
	}
	defer logs.Close()

	stdout := NewLineWriter(spec.Service, StreamStdout, sink)
	stderr := NewLineWriter(spec.Service, StreamStderr, sink)
	if tty {
		_, err = io.Copy(stdout, logs)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, logs)
	}
	stdout.Flush()
	stderr.Flush()
	if err != nil && ctx.Err() == nil {
		return NewRuntimeError("Launch", "container", spec.Name, err.Error(), err)
	}

	waitCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return NewRuntimeError("Launch", "container", spec.Name, err.Error(), err)
	case res := <-waitCh:
		if res.StatusCode != 0 {
			return NewRuntimeError("Launch", "container", spec.Name, fmt.Sprintf("exit status %d", res.StatusCode), ErrContainerExited)
		}
	}
	return nil
}

// createRequest holds the Engine API payload for one RunSpec.
type createRequest struct {
	Config   *container.Config
	Host     *container.HostConfig
	Network  *network.NetworkingConfig
	Platform *ocispec.Platform
}

// translateRunSpec maps runtime flags onto the Engine API. --init-image has
// no Engine equivalent and is ignored.
func translateRunSpec(spec deployment.RunSpec) (createRequest, error) {
	cfg := &container.Config{Image: spec.Image, Labels: map[string]string{}}
	host := &container.HostConfig{}
	req := createRequest{Config: cfg, Host: host}
	var publish []string

	if len(spec.Args) > 0 {
		cfg.Cmd = append([]string{}, spec.Args...)
	}

	for _, f := range spec.Flags {
		switch f.Name {
		case deployment.FlagRestart:
			host.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(f.Value)}
		case deployment.FlagUser:
			cfg.User = f.Value
		case deployment.FlagLabel:
			k, v, _ := strings.Cut(f.Value, "=")
			cfg.Labels[k] = v
		case deployment.FlagVolume:
			host.Binds = append(host.Binds, absoluteBind(f.Value, spec.Dir))
		case deployment.FlagEnv:
			cfg.Env = append(cfg.Env, f.Value)
		case deployment.FlagPublish:
			publish = append(publish, f.Value)
		case deployment.FlagNetwork:
			if req.Network == nil {
				req.Network = &network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{}}
				host.NetworkMode = container.NetworkMode(f.Value)
			}
			req.Network.EndpointsConfig[f.Value] = &network.EndpointSettings{Aliases: []string{spec.Service}}
		case deployment.FlagHostname:
			cfg.Hostname = f.Value
		case deployment.FlagWorkdir:
			cfg.WorkingDir = f.Value
		case deployment.FlagPrivileged:
			host.Privileged = true
		case deployment.FlagReadOnly:
			host.ReadonlyRootfs = true
		case deployment.FlagCPUs:
			cpus, err := compose.ParseCPUs(f.Value)
			if err != nil {
				return createRequest{}, err
			}
			host.NanoCPUs = int64(cpus * 1e9)
		case deployment.FlagMemory:
			mem, err := units.RAMInBytes(f.Value)
			if err != nil {
				return createRequest{}, fmt.Errorf("invalid memory %q: %w", f.Value, err)
			}
			host.Memory = mem
		case deployment.FlagInit:
			enabled := true
			host.Init = &enabled
		case deployment.FlagRuntime:
			host.Runtime = f.Value
		case deployment.FlagPlatform:
			req.Platform = parsePlatform(f.Value)
		case deployment.FlagInteractive:
			cfg.OpenStdin = true
		case deployment.FlagTTY:
			cfg.Tty = true
		case deployment.FlagEntrypoint:
			cfg.Entrypoint = []string{f.Value}
		}
	}

	if len(publish) > 0 {
		exposed, bindings, err := nat.ParsePortSpecs(publish)
		if err != nil {
			return createRequest{}, fmt.Errorf("invalid port: %w", err)
		}
		cfg.ExposedPorts = exposed
		host.PortBindings = bindings
	}
	return req, nil
}

// absoluteBind resolves a relative bind source against dir. The Engine only
// accepts absolute host paths.
func absoluteBind(bind, dir string) string {
	source, rest, found := strings.Cut(bind, ":")
	if !found || filepath.IsAbs(source) || !deployment.IsBindSource(source) || dir == "" {
		return bind
	}
	return filepath.Join(dir, source) + ":" + rest
}

// parsePlatform parses os/arch[/variant].
func parsePlatform(value string) *ocispec.Platform {
	parts := strings.SplitN(value, "/", 3)
	p := &ocispec.Platform{OS: parts[0]}
	if len(parts) > 1 {
		p.Architecture = parts[1]
	}
	if len(parts) > 2 {
		p.Variant = parts[2]
	}
	return p
}

// =============================================================================
// Image Operations
// =============================================================================

// ListImages returns every local image reference.
func (d *DockerClient) ListImages(ctx context.Context) ([]string, error) {
	summaries, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, NewRuntimeError("ListImages", "image", "", err.Error(), err)
	}
	var refs []string
	for _, s := range summaries {
		refs = append(refs, s.RepoTags...)
	}
	return refs, nil
}

// PullImage pulls an image from the registry.
func (d *DockerClient) PullImage(ctx context.Context, ref string, opts PullOptions) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{Platform: opts.Platform})
	if err != nil {
		errStr := err.Error()
		if errdefs.IsNotFound(err) ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewRuntimeError("PullImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewRuntimeError("PullImage", "image", ref, errStr, ErrImagePullFailed)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return NewRuntimeError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// BuildImage builds spec.Context and tags the result spec.Tag.
func (d *DockerClient) BuildImage(ctx context.Context, spec BuildSpec) (string, error) {
	buildContext, err := archive.TarWithOptions(spec.Context, &archive.TarOptions{})
	if err != nil {
		return "", NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer buildContext.Close()

	args := make(map[string]*string, len(spec.Args))
	for k, v := range spec.Args {
		value := v
		args[k] = &value
	}

	resp, err := d.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: spec.Dockerfile,
		BuildArgs:  args,
		Target:     spec.Target,
		Platform:   spec.Platform,
		NoCache:    spec.NoCache,
		Remove:     true,
	})
	if err != nil {
		return "", NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return "", NewRuntimeError("BuildImage", "image", spec.Tag, jerr.Message, ErrImageBuildFailed)
		}
		return "", NewRuntimeError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	return spec.Tag, nil
}
