package deployment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/boxcompose/internal/core/compose"
)

// =============================================================================
// Graph Types
// =============================================================================

// Graph is a resolved service dependency graph.
type Graph struct {
	// Order lists every service after all of its dependencies.
	Order []string

	// DependedBy maps a service to the services that declare it in
	// depends_on. Each list is sorted.
	DependedBy map[string][]string
}

// CycleError reports a dependency cycle. Service is the name that was
// reached while still being visited.
type CycleError struct {
	Service string
	Path    []string
}

func (e *CycleError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("circular dependency detected at service %q", e.Service)
}

func (e *CycleError) Unwrap() error {
	return compose.ErrCircularDependency
}

// =============================================================================
// Service Ordering Functions
// =============================================================================

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// ResolveGraph orders services so that each one follows its dependencies,
// using a depth-first traversal with three-colour marking.
//
// Roots are visited in lexicographic order and dependencies in declared
// order, so independent services keep a stable relative order between runs.
// Dependencies that name a service not present in the map are ignored.
// A cycle aborts resolution with a *CycleError and no partial order.
//
// Example:
//
//	// Services: web → app → db
//	graph, err := ResolveGraph(services)
//	// graph.Order: [db, app, web]
//	// graph.DependedBy["db"]: [app]
func ResolveGraph(services map[string]compose.Service) (*Graph, error) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	state := make(map[string]visitState, len(services))
	dependedBy := make(map[string]map[string]bool)
	order := make([]string, 0, len(services))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range services[name].DependsOn.Names() {
			if _, ok := services[dep]; !ok {
				continue
			}
			if dependedBy[dep] == nil {
				dependedBy[dep] = make(map[string]bool)
			}
			dependedBy[dep][name] = true

			switch state[dep] {
			case visiting:
				return &CycleError{Service: dep, Path: cyclePath(stack, dep)}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if state[name] != unvisited {
			continue
		}
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	graph := &Graph{
		Order:      order,
		DependedBy: make(map[string][]string, len(dependedBy)),
	}
	for dep, set := range dependedBy {
		list := make([]string, 0, len(set))
		for name := range set {
			list = append(list, name)
		}
		sort.Strings(list)
		graph.DependedBy[dep] = list
	}
	return graph, nil
}

// cyclePath returns the stack suffix starting at name, closed with name.
func cyclePath(stack []string, name string) []string {
	for i, s := range stack {
		if s == name {
			path := append([]string{}, stack[i:]...)
			return append(path, name)
		}
	}
	return []string{name}
}

// =============================================================================
// Selection Functions
// =============================================================================

// Select returns the services to act on for a user-supplied subset: the
// subset itself plus every service that transitively depends on a member.
// The result is in dependency order. An empty subset selects everything.
// Names not in the graph are ignored; see Unknown.
func (g *Graph) Select(names []string) []string {
	if len(names) == 0 {
		return append([]string{}, g.Order...)
	}

	selected := make(map[string]bool)
	queue := make([]string, 0, len(names))
	for _, name := range names {
		if g.Contains(name) && !selected[name] {
			selected[name] = true
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dependent := range g.DependedBy[name] {
			if !selected[dependent] {
				selected[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	result := make([]string, 0, len(selected))
	for _, name := range g.Order {
		if selected[name] {
			result = append(result, name)
		}
	}
	return result
}

// Unknown returns the names that are not services in the graph.
func (g *Graph) Unknown(names []string) []string {
	var unknown []string
	for _, name := range names {
		if !g.Contains(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Contains reports whether name is a service in the graph.
func (g *Graph) Contains(name string) bool {
	for _, n := range g.Order {
		if n == name {
			return true
		}
	}
	return false
}

// Reversed returns names in reverse order, for teardown.
func Reversed(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[len(names)-1-i] = name
	}
	return out
}
