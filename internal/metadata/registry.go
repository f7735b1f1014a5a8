package metadata

import "sync"

// Registry is the in-memory snapshot of all structures and webhook
// subscriptions. Request handlers read from it; the schema manager and
// admin handlers replace its contents after every mutation.
type Registry struct {
	mu            sync.RWMutex
	structures    map[string]*Structure // keyed by slug
	subscriptions []*Subscription
}

func NewRegistry() *Registry {
	return &Registry{
		structures: make(map[string]*Structure),
	}
}

// GetStructure returns the structure with the given slug, or nil.
func (r *Registry) GetStructure(slug string) *Structure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.structures[slug]
}

// AllStructures returns all registered structures.
func (r *Registry) AllStructures() []*Structure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	structures := make([]*Structure, 0, len(r.structures))
	for _, s := range r.structures {
		structures = append(structures, s)
	}
	return structures
}

// Subscriptions returns all webhook subscriptions, active or not.
func (r *Registry) Subscriptions() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscriptions
}

// Load replaces all structures and subscriptions in the registry.
// Called during startup and after admin mutations.
func (r *Registry) Load(structures []*Structure, subscriptions []*Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.structures = make(map[string]*Structure, len(structures))
	for _, s := range structures {
		r.structures[s.Slug] = s
	}
	r.subscriptions = subscriptions
}
