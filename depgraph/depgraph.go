// Package depgraph implements C9: the service dependency graph used to
// compute a safe initialization order and reject cycles up front.
package depgraph

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/edgebus/devicecore/errs"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// Graph is a directed graph of "depends on" edges between services. It is
// reachable both from Core's own init-order computation and from the app
// manager's StartApp/Uninstall calls on other goroutines, so spec.md §5's
// single-mutex model applies here exactly as it does to the registry: mu
// guards every field, and no caller ever holds it across a handler
// invocation.
type Graph struct {
	mu          sync.Mutex
	edges       map[regtypes.ServiceID]map[regtypes.ServiceID]bool
	initialized map[regtypes.ServiceID]bool
}

// New builds an empty dependency graph.
func New() *Graph {
	return &Graph{
		edges:       make(map[regtypes.ServiceID]map[regtypes.ServiceID]bool),
		initialized: make(map[regtypes.ServiceID]bool),
	}
}

func (g *Graph) ensure(id regtypes.ServiceID) {
	if g.edges[id] == nil {
		g.edges[id] = make(map[regtypes.ServiceID]bool)
	}
}

// Add records that service depends on dependsOn. It is rejected
// immediately, before the edge is committed, if it would close a cycle.
func (g *Graph) Add(service, dependsOn regtypes.ServiceID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(service, dependsOn)
}

func (g *Graph) addLocked(service, dependsOn regtypes.ServiceID) error {
	g.ensure(service)
	g.ensure(dependsOn)

	if service == dependsOn {
		return errs.ErrCircularDependency
	}
	if g.reaches(dependsOn, service) {
		return errs.ErrCircularDependency
	}
	g.edges[service][dependsOn] = true
	return nil
}

// Edge is one dependency pair for AddMultiple.
type Edge struct {
	Service   regtypes.ServiceID
	DependsOn regtypes.ServiceID
}

// AddMultiple validates an entire batch of edges against a scratch copy
// of the graph before committing any of them: either the whole batch
// applies cleanly or none of it does. Every rejected edge is reported,
// not just the first, via a multierror.
func (g *Graph) AddMultiple(edges []Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	scratch := g.cloneLocked()

	var result error
	ok := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if err := scratch.addLocked(e.Service, e.DependsOn); err != nil {
			result = multierror.Append(result, fmt.Errorf("service %d depends on %d: %w", e.Service, e.DependsOn, err))
			continue
		}
		ok = append(ok, e)
	}
	if result != nil {
		return result
	}

	for _, e := range ok {
		_ = g.addLocked(e.Service, e.DependsOn)
	}
	return nil
}

// cloneLocked returns an unlocked scratch copy for validating a batch
// before committing it to g; callers must already hold g.mu.
func (g *Graph) cloneLocked() *Graph {
	cp := New()
	for s, deps := range g.edges {
		cp.ensure(s)
		for d := range deps {
			cp.edges[s][d] = true
			cp.ensure(d)
		}
	}
	return cp
}

// reaches reports whether there is a path from -> to in the current
// edge set (depth-first), used by Add to detect a would-be cycle.
func (g *Graph) reaches(from, to regtypes.ServiceID) bool {
	if from == to {
		return true
	}
	visited := make(map[regtypes.ServiceID]bool)
	var dfs func(n regtypes.ServiceID) bool
	dfs = func(n regtypes.ServiceID) bool {
		if n == to {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for next := range g.edges[n] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// InitOrder returns a topological ordering (Kahn's algorithm) in which
// services may be initialized such that every dependency precedes its
// dependents. ErrCircularDependency is returned if a cycle is somehow
// present despite Add's up-front rejection (defensive: a corrupt graph
// should never silently produce a partial order).
func (g *Graph) InitOrder() ([]regtypes.ServiceID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// depCount[x] is the number of not-yet-resolved dependencies of x; the
	// Kahn queue starts from services with no unresolved dependency and
	// releases a dependent once its last dependency resolves.
	depCount := make(map[regtypes.ServiceID]int)
	dependents := make(map[regtypes.ServiceID][]regtypes.ServiceID)
	for s, deps := range g.edges {
		depCount[s] = len(deps)
		for d := range deps {
			dependents[d] = append(dependents[d], s)
			if _, ok := depCount[d]; !ok {
				depCount[d] = 0
			}
		}
	}

	var queue []regtypes.ServiceID
	for s := range g.edges {
		if depCount[s] == 0 {
			queue = append(queue, s)
		}
	}

	var order []regtypes.ServiceID
	resolved := make(map[regtypes.ServiceID]bool)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if resolved[n] {
			continue
		}
		resolved[n] = true
		order = append(order, n)
		for _, dependent := range dependents[n] {
			depCount[dependent]--
			if depCount[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.edges) {
		return nil, errs.ErrCircularDependency
	}
	return order, nil
}

// CheckReady reports whether every dependency of service has been marked
// initialized via MarkInitialized. This is the graph's own notion of
// readiness, distinct from and cheaper than asking the registry whether
// each dependency is currently RUNNING or PAUSED: a dependency that
// finished its one-time init and later moved to PAUSED (or even ERROR)
// does not retroactively become un-ready here, because depgraph has no
// registry handle to ask and spec.md §5 favors keeping this graph's lock
// independent of the registry's. Callers that need a stricter
// still-healthy check should combine CheckReady with their own
// registry.GetState lookup before starting a dependent.
func (g *Graph) CheckReady(service regtypes.ServiceID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for d := range g.edges[service] {
		if !g.initialized[d] {
			return false
		}
	}
	return true
}

// MarkInitialized records that service has completed initialization.
func (g *Graph) MarkInitialized(service regtypes.ServiceID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized[service] = true
}

// Remove drops service and every edge referencing it, used on
// unregister.
func (g *Graph) Remove(service regtypes.ServiceID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, service)
	delete(g.initialized, service)
	for _, deps := range g.edges {
		delete(deps, service)
	}
}
