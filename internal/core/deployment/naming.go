package deployment

import (
	"fmt"
	"path/filepath"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ContainerName returns the container identity for a service.
// Pattern: {project}-{service}, unless the service sets container_name.
//
// Example:
//
//	ContainerName("shop", "web", "") // returns "shop-web"
//	ContainerName("shop", "web", "frontend") // returns "frontend"
func ContainerName(project, service, override string) string {
	if override != "" {
		return override
	}
	return fmt.Sprintf("%s-%s", project, service)
}

// DeriveProjectName derives a project name from a working directory.
// Dots are not valid in container names and become underscores.
//
// Example:
//
//	DeriveProjectName("/home/me/my.app") // returns "my_app"
func DeriveProjectName(dir string) string {
	return strings.ReplaceAll(filepath.Base(filepath.Clean(dir)), ".", "_")
}

// VolumePath returns the host directory backing a named volume.
// Pattern: {root}/{project}/{name}
func VolumePath(root, project, name string) string {
	return filepath.Join(root, project, name)
}

// VolumeName returns the runtime name of a top-level volume: its explicit
// name if set, else {project}_{key}.
func VolumeName(project, key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return fmt.Sprintf("%s_%s", project, key)
}

// ImageTag returns the tag a buildable service is built as.
// Pattern: the declared image, else {service}:latest
func ImageTag(service, declared string) string {
	if declared != "" {
		return declared
	}
	return service + ":latest"
}

// CheckpointTag returns the default image tag for a checkpoint.
// Pattern: {project}-{service}:checkpoint-{unix}
func CheckpointTag(project, service string, unix int64) string {
	return fmt.Sprintf("%s-%s:checkpoint-%d", project, service, unix)
}
