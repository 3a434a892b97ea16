// Package dependency orders configured services so that each one starts
// after the services named in its after list.
package dependency

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dominikbraun/graph"

	"github.com/5gconnect/charmd/internal/config"
)

// UnknownDependencyError is returned when a service waits for a service that
// is not configured.
type UnknownDependencyError struct {
	Service    string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %s depends on unknown service %s", e.Service, e.Dependency)
}

// CycleError is returned when an after list closes a cycle.
type CycleError struct {
	Service    string
	Dependency string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s after %s", e.Service, e.Dependency)
}

// IsUnknownDependencyError checks if an error is an UnknownDependencyError.
func IsUnknownDependencyError(err error) bool {
	var target *UnknownDependencyError
	return errors.As(err, &target)
}

// IsCycleError checks if an error is a CycleError.
func IsCycleError(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

// Graph holds start-order edges. An edge runs from a dependency to its
// dependent.
type Graph struct {
	g graph.Graph[string, string]
}

// Build creates the graph for a service catalogue.
func Build(services []config.Service) (*Graph, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for _, svc := range services {
		if err := g.AddVertex(svc.Name); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("adding service %s: %w", svc.Name, err)
		}
	}

	for _, svc := range services {
		for _, dep := range svc.After {
			if dep == svc.Name {
				return nil, &CycleError{Service: svc.Name, Dependency: dep}
			}
			err := g.AddEdge(dep, svc.Name)
			switch {
			case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrVertexNotFound):
				return nil, &UnknownDependencyError{Service: svc.Name, Dependency: dep}
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, &CycleError{Service: svc.Name, Dependency: dep}
			default:
				return nil, fmt.Errorf("adding dependency %s -> %s: %w", dep, svc.Name, err)
			}
		}
	}

	return &Graph{g: g}, nil
}

// Dependencies returns the services name waits for, sorted.
func (g *Graph) Dependencies(name string) ([]string, error) {
	preds, err := g.g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	edges, ok := preds[name]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", name, graph.ErrVertexNotFound)
	}
	return sortedKeys(edges), nil
}

// Dependents returns the services waiting for name, sorted.
func (g *Graph) Dependents(name string) ([]string, error) {
	adj, err := g.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adj[name]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", name, graph.ErrVertexNotFound)
	}
	return sortedKeys(edges), nil
}

// Order returns a start order. With no names every service is included;
// otherwise the named services and everything they transitively wait for.
// Services with no ordering between them are sorted by name.
func (g *Graph) Order(names ...string) ([]string, error) {
	order, err := graph.StableTopologicalSort(g.g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return order, nil
	}

	preds, err := g.g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{})
	stack := slices.Clone(names)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := want[name]; seen {
			continue
		}
		edges, ok := preds[name]
		if !ok {
			return nil, fmt.Errorf("service %s: %w", name, config.ErrServiceNotConfigured)
		}
		want[name] = struct{}{}
		for dep := range edges {
			stack = append(stack, dep)
		}
	}

	return slices.DeleteFunc(order, func(name string) bool {
		_, ok := want[name]
		return !ok
	}), nil
}

// Order is a shorthand for Build followed by Graph.Order.
func Order(services []config.Service, names ...string) ([]string, error) {
	g, err := Build(services)
	if err != nil {
		return nil, err
	}
	return g.Order(names...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
