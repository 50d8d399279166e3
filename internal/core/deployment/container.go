package deployment

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artpar/boxcompose/internal/core/compose"
	"github.com/compose-spec/compose-go/v2/format"
)

// =============================================================================
// Run Spec Building Functions
// =============================================================================

// BuildRunSpec synthesizes the launch instruction for one service.
//
// Flags are emitted in a fixed order so that identical inputs always produce
// identical output: detach, name, restart, user, labels, mounts, environment
// (sorted by key), ports, networks, hostname, workdir, privileged, read-only,
// cpus, memory, init, init-image, runtime, platform, stdin, tty, entrypoint.
// The image follows, then the remaining entrypoint tokens or the command.
//
// Mount sources are prepared through params.FS. Entries that cannot be
// mounted are dropped and reported in the returned warnings.
//
// Example:
//
//	spec, warnings, err := BuildRunSpec(RunSpecParams{
//	    ServiceName: "web",
//	    Service:     compose.Service{Image: "nginx:latest"},
//	    Project:     project,
//	    Image:       "nginx:latest",
//	    FS:          osFS,
//	})
//	// spec.Argv(): [--name shop-web --label ... nginx:latest]
func BuildRunSpec(params RunSpecParams) (RunSpec, []string, error) {
	svc := params.Service
	project := params.Project
	if project == nil {
		return RunSpec{}, nil, errors.New("run spec requires a project context")
	}

	name := ContainerName(project.Name, params.ServiceName, svc.ContainerName)
	spec := RunSpec{Service: params.ServiceName, Name: name, Image: params.Image, Dir: project.WorkDir}
	if spec.Image == "" {
		spec.Image = svc.Image
	}
	var warnings []string

	add := func(flag, value string) {
		spec.Flags = append(spec.Flags, Flag{Name: flag, Value: value})
	}
	addIf := func(flag, value string) {
		if value != "" {
			add(flag, value)
		}
	}
	addSwitch := func(flag string, on bool) {
		if on {
			add(flag, "")
		}
	}

	addSwitch(FlagDetach, params.Detach)
	add(FlagName, name)
	if svc.Restart != "" {
		add(FlagRestart, MapRestartPolicy(svc.Restart))
	}
	addIf(FlagUser, svc.User)

	for _, label := range buildLabels(project.Name, params.ServiceName, params.RunID, svc.Labels) {
		add(FlagLabel, label)
	}

	for _, entry := range svc.Volumes {
		mount, warning, err := resolveMount(entry, project, params.Volumes, params.FS)
		if err != nil {
			return RunSpec{}, warnings, fmt.Errorf("service %s: %w", params.ServiceName, err)
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
		addIf(FlagVolume, mount)
	}

	keys := make([]string, 0, len(params.Env))
	for k := range params.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(FlagEnv, k+"="+params.Env[k])
	}

	for _, port := range svc.Ports {
		if _, err := ParsePortSpec(port); err != nil {
			warnings = append(warnings, fmt.Sprintf("port %q skipped: %v", port, err))
			continue
		}
		add(FlagPublish, port)
	}

	for _, ref := range svc.Networks.Names() {
		add(FlagNetwork, NetworkName(ref, params.Networks))
	}

	addIf(FlagHostname, svc.Hostname)
	addIf(FlagWorkdir, svc.WorkingDir)
	addSwitch(FlagPrivileged, svc.Privileged)
	addSwitch(FlagReadOnly, svc.ReadOnly)

	cpus, memory := ResourceLimits(svc)
	addIf(FlagCPUs, cpus)
	addIf(FlagMemory, memory)

	addSwitch(FlagInit, svc.Init || svc.InitImage != "")
	addIf(FlagInitImage, svc.InitImage)
	addIf(FlagRuntime, svc.Runtime)
	addIf(FlagPlatform, svc.Platform)
	addSwitch(FlagInteractive, svc.StdinOpen)
	addSwitch(FlagTTY, svc.TTY)

	if len(svc.Entrypoint) > 0 {
		add(FlagEntrypoint, svc.Entrypoint[0])
	}

	switch {
	case len(svc.Entrypoint) > 1:
		spec.Args = append([]string{}, svc.Entrypoint[1:]...)
	case len(svc.Command) > 0:
		spec.Args = append([]string{}, svc.Command...)
	}

	return spec, warnings, nil
}

// buildLabels returns the identification labels followed by the service's
// own labels sorted by key, as key=value strings.
func buildLabels(project, service, runID string, extra compose.MappingOrList) []string {
	labels := []string{
		LabelProject + "=" + project,
		LabelService + "=" + service,
	}
	if runID != "" {
		labels = append(labels, LabelRun+"="+runID)
	}
	userLabels := extra.Map()
	keys := make([]string, 0, len(userLabels))
	for k := range userLabels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		labels = append(labels, k+"="+userLabels[k])
	}
	return labels
}

// =============================================================================
// Mounts
// =============================================================================

// IsBindSource reports whether a mount source names a host path: it contains
// a path separator or starts with a dot. Anything else is a named volume.
func IsBindSource(source string) bool {
	return strings.Contains(source, "/") || strings.HasPrefix(source, ".")
}

// resolveMount turns one short-syntax volume entry into a -v value.
// An empty mount with a warning means the entry is dropped.
func resolveMount(entry string, project *ProjectContext, volumes map[string]compose.Volume, hostFS HostFS) (string, string, error) {
	cfg, err := format.ParseVolume(entry)
	if err != nil {
		return "", fmt.Sprintf("volume %q skipped: %v", entry, err), nil
	}
	if cfg.Source == "" || cfg.Target == "" {
		return "", fmt.Sprintf("volume %q skipped: expected source:target", entry), nil
	}

	suffix := ""
	if cfg.ReadOnly {
		suffix = ":ro"
	}

	if IsBindSource(cfg.Source) {
		source := cfg.Source
		hostPath := source
		switch {
		case source == "~" || strings.HasPrefix(source, "~/"):
			source = filepath.Join(project.HomeDir, strings.TrimPrefix(source, "~"))
			hostPath = source
		case !filepath.IsAbs(source):
			hostPath = filepath.Join(project.WorkDir, source)
		}

		info, err := hostFS.Stat(hostPath)
		switch {
		case err == nil && !info.IsDir():
			return "", fmt.Sprintf("volume %q skipped: bind source %s is a file", entry, hostPath), nil
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			if err := hostFS.MkdirAll(hostPath, 0o755); err != nil {
				return "", fmt.Sprintf("volume %q skipped: cannot create %s: %v", entry, hostPath, err), nil
			}
		default:
			return "", fmt.Sprintf("volume %q skipped: %v", entry, err), nil
		}
		return source + ":" + cfg.Target + suffix, "", nil
	}

	volumeName := cfg.Source
	if decl, ok := volumes[cfg.Source]; ok && decl.Name != "" {
		volumeName = decl.Name
	}
	hostPath := VolumePath(project.VolumeRoot, project.Name, volumeName)
	if err := hostFS.MkdirAll(hostPath, 0o755); err != nil {
		return "", "", fmt.Errorf("create volume directory %s: %w", hostPath, err)
	}
	return hostPath + ":" + cfg.Target + suffix, "", nil
}

// =============================================================================
// Networks, Resources, Restart
// =============================================================================

// NetworkName returns the runtime name for a service's network reference:
// the top-level declaration's explicit name if it has one, else the
// reference itself.
func NetworkName(ref string, networks map[string]compose.Network) string {
	if decl, ok := networks[ref]; ok {
		if decl.External.IsExternal && decl.External.Name != "" {
			return decl.External.Name
		}
		if decl.Name != "" {
			return decl.Name
		}
	}
	return ref
}

// ResourceLimits returns the cpus and memory limits of a service. The
// service-level fields win over deploy.resources.limits.
func ResourceLimits(svc compose.Service) (cpus, memory string) {
	cpus, memory = svc.CPUs, svc.MemLimit
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		if cpus == "" {
			cpus = svc.Deploy.Resources.Limits.CPUs
		}
		if memory == "" {
			memory = svc.Deploy.Resources.Limits.Memory
		}
	}
	return cpus, memory
}

// MapRestartPolicy maps a Compose restart policy onto the runtime's smaller
// set. Unknown values pass through unchanged.
func MapRestartPolicy(policy string) string {
	switch policy {
	case compose.RestartNo:
		return "no"
	case compose.RestartAlways, compose.RestartUnlessStopped:
		return "always"
	case compose.RestartOnFailure:
		return "on-failure"
	default:
		return policy
	}
}

// =============================================================================
// Images
// =============================================================================

// HasImage reports whether ref is among the local image references.
// A reference without a tag matches its :latest form.
func HasImage(localImages []string, ref string) bool {
	want := normalizeRef(ref)
	for _, img := range localImages {
		if normalizeRef(img) == want {
			return true
		}
	}
	return false
}

// NeedsBuild reports whether a buildable service must be built: when a
// rebuild is forced or its tag is not present locally.
func NeedsBuild(rebuild bool, localImages []string, tag string) bool {
	return rebuild || !HasImage(localImages, tag)
}

func normalizeRef(ref string) string {
	if ref == "" {
		return ref
	}
	ref = strings.TrimPrefix(ref, "docker.io/library/")
	ref = strings.TrimPrefix(ref, "docker.io/")
	if strings.Contains(ref, "@") {
		return ref
	}
	if i := strings.LastIndex(ref, ":"); i < 0 || strings.Contains(ref[i:], "/") {
		ref += ":latest"
	}
	return ref
}
