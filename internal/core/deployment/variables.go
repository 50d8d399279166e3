package deployment

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/artpar/boxcompose/internal/core/compose"
)

// =============================================================================
// Variable Errors
// =============================================================================

// ErrRequiredVariable is returned when a ${NAME:?message} placeholder names
// an unset variable.
var ErrRequiredVariable = errors.New("required variable is not set")

// RequiredVariableError carries the variable name and the document's message.
type RequiredVariableError struct {
	Name    string
	Message string
}

func (e *RequiredVariableError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("missing required environment variable %q: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("missing required environment variable %q", e.Name)
}

func (e *RequiredVariableError) Unwrap() error {
	return ErrRequiredVariable
}

// =============================================================================
// Template Interpolation
// =============================================================================

// placeholderRegex matches ${VAR}, ${VAR:-default}, ${VAR-default} and
// ${VAR:?message}. Clauses may not contain '$' or '}', so the innermost
// placeholder of a nested default is matched first.
// Groups:
//   - Group 1: Variable name
//   - Group 2: Default operator (":-" or "-")
//   - Group 3: Default value
//   - Group 4: Error operator (":?")
//   - Group 5: Error message
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)(?:(:?-)([^}$]*)|(:\?)([^}$]*))?\}`)

// maxInterpolationPasses bounds substitution of self-referencing values.
const maxInterpolationPasses = 64

// Interpolate resolves placeholders in value against table, one at a time
// from the left, until none remain.
//
// Behavior:
//   - ${VAR} - replaced with table["VAR"] if set (even empty)
//   - ${VAR:-default} - table["VAR"] if set, otherwise default (may be empty)
//   - ${VAR:?message} - table["VAR"] if set, otherwise *RequiredVariableError
//   - an unset ${VAR} with no clause is left as-is and scanning stops
//
// Examples:
//
//	Interpolate("${DB_HOST:-localhost}", map[string]string{})
//	// Returns: "localhost"
//
//	Interpolate("postgres://${HOST}:${PORT}", map[string]string{"HOST": "db", "PORT": "5432"})
//	// Returns: "postgres://db:5432"
func Interpolate(value string, table map[string]string) (string, error) {
	for pass := 0; pass < maxInterpolationPasses; pass++ {
		loc := placeholderRegex.FindStringSubmatchIndex(value)
		if loc == nil {
			return value, nil
		}
		match := value[loc[0]:loc[1]]
		name := value[loc[2]:loc[3]]

		var replacement string
		if v, ok := table[name]; ok && v != match {
			replacement = v
		} else if loc[4] >= 0 {
			replacement = value[loc[6]:loc[7]]
		} else if resolved, ok := resolveEnclosing(value, loc[0], loc[1], table); ok {
			value = resolved
			continue
		} else if loc[8] >= 0 {
			return "", &RequiredVariableError{Name: name, Message: value[loc[10]:loc[11]]}
		} else {
			return value, nil
		}
		value = value[:loc[0]] + replacement + value[loc[1]:]
	}
	return value, nil
}

// clauseHeadRegex matches the opening of a placeholder with a default or
// message clause, e.g. "${NAME:-".
var clauseHeadRegex = regexp.MustCompile(`^\$\{([A-Za-z0-9_]+)(?::?-|:\?)`)

// resolveEnclosing replaces the innermost placeholder whose clause contains
// value[start:end] and whose variable is set. An unresolved nested default
// must not hide the live value of the variable around it.
func resolveEnclosing(value string, start, end int, table map[string]string) (string, bool) {
	for open := strings.LastIndex(value[:start], "${"); open >= 0; open = strings.LastIndex(value[:open], "${") {
		head := clauseHeadRegex.FindStringSubmatch(value[open:])
		if head == nil {
			continue
		}
		closing := matchingBrace(value, open)
		if closing < end {
			continue
		}
		if v, ok := table[head[1]]; ok {
			return value[:open] + v + value[closing+1:], true
		}
	}
	return value, false
}

// matchingBrace returns the index of the '}' that closes the placeholder
// opened at open, or -1.
func matchingBrace(value string, open int) int {
	depth := 0
	for i := open; i < len(value); i++ {
		switch {
		case strings.HasPrefix(value[i:], "${"):
			depth++
			i++
		case value[i] == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// UnresolvedVariables returns the distinct variable names still referenced
// by placeholders in values, sorted.
func UnresolvedVariables(values map[string]string) []string {
	seen := make(map[string]bool)
	for _, v := range values {
		for _, m := range placeholderRegex.FindAllStringSubmatch(v, -1) {
			seen[m[1]] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasPlaceholder reports whether value still contains a template marker.
func HasPlaceholder(value string) bool {
	return strings.Contains(value, "${")
}

// =============================================================================
// Environment Layering
// =============================================================================

// MergeEnvironment layers tables in increasing precedence. A later value
// replaces an earlier one unless it still contains a placeholder and the
// earlier value is concrete.
func MergeEnvironment(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			if old, ok := merged[k]; ok && HasPlaceholder(v) && !HasPlaceholder(old) {
				continue
			}
			merged[k] = v
		}
	}
	return merged
}

// ResolveServiceEnvironment produces the environment emitted into a service
// container.
//
// Layers, lowest first: the ambient process environment, the project .env,
// each env_file in list order, then the inline environment. Every value is
// interpolated against the merged table. Values that are exactly the name of
// another service with a recorded address are replaced by that address.
//
// Only keys from .env, env_files and inline environment are returned; the
// ambient environment is used for lookups alone. A key-only inline entry
// that nothing else defines is omitted.
func ResolveServiceEnvironment(name string, svc compose.Service, envFiles []map[string]string, project *ProjectContext) (map[string]string, error) {
	layers := make([]map[string]string, 0, len(envFiles)+3)
	layers = append(layers, project.Ambient, project.Env)
	layers = append(layers, envFiles...)
	layers = append(layers, svc.Environment.Map())
	table := MergeEnvironment(layers...)

	emitted := make(map[string]bool)
	for _, layer := range layers[1:] {
		for k := range layer {
			emitted[k] = true
		}
	}

	keys := make([]string, 0, len(emitted))
	for k := range emitted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make(map[string]string, len(keys))
	for _, k := range keys {
		resolved, err := Interpolate(table[k], table)
		if err != nil {
			return nil, fmt.Errorf("service %s: %s: %w", name, k, err)
		}
		if resolved == "${"+k+"}" {
			continue
		}
		if addr, ok := project.Addresses[resolved]; ok && resolved != name {
			resolved = addr
		}
		env[k] = resolved
	}
	return env, nil
}

// =============================================================================
// Document Interpolation
// =============================================================================

// InterpolateService returns a copy of svc with templates resolved in every
// field that reaches the runtime, except environment, which is resolved by
// ResolveServiceEnvironment.
func InterpolateService(svc compose.Service, table map[string]string) (compose.Service, error) {
	var firstErr error
	str := func(s string) string {
		if firstErr != nil || !HasPlaceholder(s) {
			return s
		}
		out, err := Interpolate(s, table)
		if err != nil {
			firstErr = fmt.Errorf("service %s: %w", svc.Name, err)
			return s
		}
		return out
	}
	list := func(in []string) []string {
		if in == nil {
			return nil
		}
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = str(s)
		}
		return out
	}

	out := svc
	out.Image = str(svc.Image)
	out.ContainerName = str(svc.ContainerName)
	out.User = str(svc.User)
	out.Hostname = str(svc.Hostname)
	out.WorkingDir = str(svc.WorkingDir)
	out.Platform = str(svc.Platform)
	out.Runtime = str(svc.Runtime)
	out.InitImage = str(svc.InitImage)
	out.Restart = str(svc.Restart)
	out.CPUs = str(svc.CPUs)
	out.MemLimit = str(svc.MemLimit)
	out.Volumes = list(svc.Volumes)
	out.Ports = list(svc.Ports)
	out.Command = list(svc.Command)
	out.Entrypoint = list(svc.Entrypoint)
	out.EnvFile = list(svc.EnvFile)

	if svc.Networks != nil {
		out.Networks = make(compose.NetworkRefs, len(svc.Networks))
		for i, att := range svc.Networks {
			att.Name = str(att.Name)
			out.Networks[i] = att
		}
	}
	if svc.Labels != nil {
		out.Labels = interpolateEntries(svc.Labels, str)
	}
	if svc.Build != nil {
		b := *svc.Build
		b.Context = str(b.Context)
		b.Dockerfile = str(b.Dockerfile)
		b.Target = str(b.Target)
		b.Args = interpolateEntries(b.Args, str)
		out.Build = &b
	}
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		d := *svc.Deploy
		limits := *d.Resources.Limits
		limits.CPUs = str(limits.CPUs)
		limits.Memory = str(limits.Memory)
		d.Resources.Limits = &limits
		out.Deploy = &d
	}

	if firstErr != nil {
		return svc, firstErr
	}
	return out, nil
}

func interpolateEntries(in compose.MappingOrList, str func(string) string) compose.MappingOrList {
	if in == nil {
		return nil
	}
	out := make(compose.MappingOrList, len(in))
	for i, e := range in {
		if e.Value != nil {
			v := str(*e.Value)
			e.Value = &v
		}
		out[i] = e
	}
	return out
}
