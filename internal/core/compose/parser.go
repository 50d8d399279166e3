package compose

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/format"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse decodes a Compose document and validates it.
// This is a pure function - no I/O, no side effects.
// Interpolation is not performed here; template values are kept verbatim.
func Parse(content string) (*Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, NewParseError("", err.Error(), errors.Join(ErrInvalidYAML, err))
	}

	if len(doc.Services) == 0 {
		return nil, ErrNoServices
	}

	for name, svc := range doc.Services {
		svc.Name = name
		doc.Services[name] = svc
	}

	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the load-time invariants of a decoded document.
// Services are checked in name order so the reported error is stable.
func Validate(doc *Document) error {
	names := doc.ServiceNames()
	sort.Strings(names)

	for _, name := range names {
		if err := validateService(name, doc.Services[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateService(name string, svc Service) error {
	field := "services." + name

	if svc.Image == "" && svc.Build == nil {
		return NewParseError(field, "service must define either 'image' or 'build'", ErrServiceNoImage)
	}

	for i, spec := range svc.Volumes {
		if hasTemplate(spec) {
			continue
		}
		if err := validateVolume(spec); err != nil {
			return NewParseError(fmt.Sprintf("%s.volumes[%d]", field, i),
				fmt.Sprintf("invalid volume %q: %v", spec, err), ErrServiceInvalidVolume)
		}
	}

	cpus, memory := svc.CPUs, svc.MemLimit
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		if cpus == "" {
			cpus = svc.Deploy.Resources.Limits.CPUs
		}
		if memory == "" {
			memory = svc.Deploy.Resources.Limits.Memory
		}
	}
	if cpus != "" && !hasTemplate(cpus) {
		if _, err := ParseCPUs(cpus); err != nil {
			return NewParseError(field+".cpus", err.Error(), ErrInvalidCPU)
		}
	}
	if memory != "" && !hasTemplate(memory) {
		if _, err := ParseMemory(memory); err != nil {
			return NewParseError(field+".mem_limit", err.Error(), ErrInvalidMemory)
		}
	}
	return nil
}

// validateVolume checks a short-syntax mount: at most source:target:mode
// and an absolute container path.
func validateVolume(spec string) error {
	cfg, err := format.ParseVolume(spec)
	if err != nil {
		return err
	}
	parts := strings.Split(windowsDrive.ReplaceAllString(spec, ""), ":")
	if len(parts) > 3 {
		return fmt.Errorf("expected [source:]target[:mode], got %d fields", len(parts))
	}
	if cfg.Target == "" {
		return errors.New("missing container path")
	}
	if !path.IsAbs(cfg.Target) && !windowsDrive.MatchString(cfg.Target) {
		return fmt.Errorf("container path %q is not absolute", cfg.Target)
	}
	return nil
}

// windowsDrive matches a leading drive letter such as C:\ or C:/.
var windowsDrive = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// =============================================================================
// Resource Parsing
// =============================================================================

// ParseCPUs parses a CPU count such as "0.5" or "2".
func ParseCPUs(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("cpus must be a positive number, got %q", s)
	}
	return v, nil
}

// ParseMemory parses a memory size such as "512m" or "1g" into bytes.
func ParseMemory(s string) (int64, error) {
	v, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("memory must be a size like 512m or 1g, got %q", s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("memory must be positive, got %q", s)
	}
	return v, nil
}

// =============================================================================
// Informational Notes
// =============================================================================

// Notes reports parsed fields that are accepted but have no effect on a run.
// The result is sorted.
func Notes(doc *Document) []string {
	var notes []string
	if doc.Version != "" {
		notes = append(notes, "the 'version' field is obsolete and ignored")
	}
	if len(doc.Configs) > 0 {
		notes = append(notes, "top-level 'configs' are parsed but not attached")
	}
	if len(doc.Secrets) > 0 {
		notes = append(notes, "top-level 'secrets' are parsed but not attached")
	}
	for name, svc := range doc.Services {
		if svc.Deploy != nil {
			if svc.Deploy.Replicas != nil || svc.Deploy.RestartPolicy != nil || svc.Deploy.Resources.Reservations != nil {
				notes = append(notes, fmt.Sprintf("service %s: only deploy.resources.limits is honoured", name))
			}
		}
		if svc.HealthCheck != nil {
			notes = append(notes, fmt.Sprintf("service %s: healthcheck is parsed but not enforced", name))
		}
		if len(svc.Configs) > 0 || len(svc.Secrets) > 0 {
			notes = append(notes, fmt.Sprintf("service %s: configs and secrets are not mounted", name))
		}
	}
	sort.Strings(notes)
	return notes
}

func hasTemplate(s string) bool {
	return strings.Contains(s, "${")
}
