package proxy

import (
	"fmt"

	"github.com/docufort/ragproxy/internal/breaker"
	"github.com/docufort/ragproxy/internal/upstream"
)

// Named upstreams. Requests route by these names rather than by matching
// URL prefixes against a target string.
const (
	UpstreamQuery       = "query-engine"
	UpstreamCollections = "collections-engine"
	UpstreamIngestion   = "ingestion-engine"
)

// Upstream binds a named service to its client and its breaker. Exactly one
// breaker per upstream, shared by all calls to that service.
type Upstream struct {
	Name    string
	Client  *upstream.Client
	Breaker *breaker.Breaker
}

// Registry holds the known upstreams.
type Registry struct {
	byName map[string]*Upstream
	order  []string
}

// NewRegistry creates an empty upstream registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Upstream)}
}

// Register adds an upstream under its name.
func (r *Registry) Register(u *Upstream) {
	if _, exists := r.byName[u.Name]; !exists {
		r.order = append(r.order, u.Name)
	}
	r.byName[u.Name] = u
}

// Get returns the upstream bound to name.
func (r *Registry) Get(name string) (*Upstream, error) {
	u, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown upstream %q", name)
	}
	return u, nil
}

// All returns upstreams in registration order.
func (r *Registry) All() []*Upstream {
	out := make([]*Upstream, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
