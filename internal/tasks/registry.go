// Package tasks implements the Task Registry & DAG (C5): persisted
// TaskDefinitions, dependency-graph validation at registration, and
// topological queries used by the Scheduler Engine.
package tasks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/farmd/internal/domain"
)

// CycleDetected is returned by Register when adding a TaskDefinition
// would introduce a cycle in the dependency graph.
type CycleDetected struct {
	Path []string
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("cycle detected in task dependency graph: %v", e.Path)
}

// Registry stores TaskDefinitions and answers dependency queries. Safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]domain.TaskDefinition
	order []string // insertion order, for deterministic iteration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]domain.TaskDefinition)}
}

// Register validates def and adds it to the registry. An invalid
// definition (ConfigError), a missing dependency reference (an error
// naming the unknown id) and a dependency cycle (CycleDetected) are
// registration-time errors, never discovered later.
func (r *Registry) Register(def domain.TaskDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dep := range def.DependsOn {
		if dep == def.ID {
			return &CycleDetected{Path: []string{def.ID, def.ID}}
		}
		if _, ok := r.byID[dep]; !ok {
			return fmt.Errorf("task %s: unknown dependency %q", def.ID, dep)
		}
	}

	trial := make(map[string]domain.TaskDefinition, len(r.byID)+1)
	for id, d := range r.byID {
		trial[id] = d
	}
	trial[def.ID] = def

	if path, cyclic := detectCycle(trial); cyclic {
		return &CycleDetected{Path: path}
	}

	if _, exists := r.byID[def.ID]; !exists {
		r.order = append(r.order, def.ID)
	}
	r.byID[def.ID] = def
	return nil
}

// Get returns the TaskDefinition for id.
func (r *Registry) Get(id string) (domain.TaskDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Disable soft-deletes a TaskDefinition: it stays in the registry (so
// dependency references remain valid) but is marked disabled.
func (r *Registry) Disable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("unknown task id %q", id)
	}
	d.Disabled = true
	r.byID[id] = d
	return nil
}

// Enable clears a previous Disable.
func (r *Registry) Enable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("unknown task id %q", id)
	}
	d.Disabled = false
	r.byID[id] = d
	return nil
}

// IDs returns every registered id in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ByPriority returns enabled TaskDefinitions sorted by priority
// descending, then id ascending — the ordering the Scheduler Engine uses
// when selecting among simultaneously-due tasks.
func (r *Registry) ByPriority() []domain.TaskDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.TaskDefinition, 0, len(r.byID))
	for _, d := range r.byID {
		if !d.Disabled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Dependencies returns the direct predecessor ids of id.
func (r *Registry) Dependencies(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil
	}
	out := make([]string, len(d.DependsOn))
	copy(out, d.DependsOn)
	return out
}

// Dependents returns the direct successor ids of id: every registered
// TaskDefinition that lists id in its DependsOn.
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, candID := range r.order {
		d := r.byID[candID]
		for _, dep := range d.DependsOn {
			if dep == id {
				out = append(out, candID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ReadySuccessors returns the direct successors of id that have no other
// unsatisfied predecessor, given the set of predecessor ids that have
// already reached SUCCEEDED within the current correlation id (succeeded).
func (r *Registry) ReadySuccessors(id string, succeeded map[string]bool) []string {
	var ready []string
	for _, succ := range r.Dependents(id) {
		deps := r.Dependencies(succ)
		allDone := true
		for _, dep := range deps {
			if !succeeded[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, succ)
		}
	}
	sort.Strings(ready)
	return ready
}

// detectCycle runs a DFS over the candidate dependency graph and reports
// the first cycle found, if any, as a path of ids.
func detectCycle(byID map[string]domain.TaskDefinition) ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return append(append([]string{}, path...), dep), true
			case white:
				if cyclePath, found := visit(dep); found {
					return cyclePath, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil, false
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if cyclePath, found := visit(id); found {
				return cyclePath, true
			}
		}
	}
	return nil, false
}
