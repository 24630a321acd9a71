package manifests

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jimdaga/docpilot/internal/models"
)

// Registry holds the active manifest per job kind. It is safe for concurrent
// use; Replace swaps the whole set when the override directory changes.
type Registry struct {
	mu        sync.RWMutex
	manifests map[models.JobKind]*Manifest
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{manifests: make(map[models.JobKind]*Manifest)}
}

// Register adds a manifest, failing if its kind is already registered.
func (r *Registry) Register(m *Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.manifests[m.Kind]; exists {
		return fmt.Errorf("manifest already registered: %s", m.Kind)
	}
	r.manifests[m.Kind] = m
	return nil
}

// Get returns the manifest for kind.
func (r *Registry) Get(kind models.JobKind) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[kind]
	return m, ok
}

// List returns all manifests sorted by kind.
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Count returns the number of registered manifests.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

// Replace swaps in a new manifest set.
func (r *Registry) Replace(set map[models.JobKind]*Manifest) {
	r.mu.Lock()
	r.manifests = set
	r.mu.Unlock()
}

// Missing lists job kinds without a manifest.
func (r *Registry) Missing() []models.JobKind {
	var out []models.JobKind
	for _, kind := range models.JobKinds {
		if _, ok := r.Get(kind); !ok {
			out = append(out, kind)
		}
	}
	return out
}
