package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/farmd/internal/domain"
)

// Registry is the self-registering capability registry adapters join at
// startup, generalizing the work-type registry pattern this codebase
// uses elsewhere from "job type" to "protocol capability".
type Registry struct {
	mu        sync.RWMutex
	byProtoID map[string]Protocol
}

// NewRegistry constructs an empty adapter Registry.
func NewRegistry() *Registry {
	return &Registry{byProtoID: make(map[string]Protocol)}
}

// Register adds an adapter under its own ID. Re-registering the same ID
// replaces the previous adapter (used in tests and hot-reload).
func (r *Registry) Register(a Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProtoID[a.ID()] = a
}

// Get returns the adapter registered for protocolID.
func (r *Registry) Get(protocolID string) (Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byProtoID[protocolID]
	return a, ok
}

// Supports reports whether protocolID's adapter declares kind among its
// capabilities.
func (r *Registry) Supports(protocolID string, kind domain.ActionKind) bool {
	a, ok := r.Get(protocolID)
	if !ok {
		return false
	}
	for _, k := range a.Capabilities() {
		if k == kind {
			return true
		}
	}
	return false
}

// IDs returns every registered protocol id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byProtoID))
	for id := range r.byProtoID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ErrUnknownProtocol is returned when the scheduler tries to invoke an
// adapter for a protocol id that never registered.
func ErrUnknownProtocol(id string) error {
	return fmt.Errorf("adapter: no protocol adapter registered for %q", id)
}
