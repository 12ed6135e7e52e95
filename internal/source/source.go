// Package source collects raw postings from configured job boards and
// institutional career pages.
package source

import (
	"fmt"
	"sort"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// Registry holds the configured source adapters in a stable order.
type Registry struct {
	adapters map[string]catalog.SourceAdapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]catalog.SourceAdapter)}
}

// Register adds an adapter. Duplicate source ids are an error.
func (r *Registry) Register(adapter catalog.SourceAdapter) error {
	id := adapter.SourceID()
	if id == "" {
		return fmt.Errorf("source adapter has empty id")
	}
	if _, ok := r.adapters[id]; ok {
		return fmt.Errorf("source %q registered twice", id)
	}
	r.adapters[id] = adapter
	return nil
}

// Adapters returns the registered adapters sorted by source id, so
// collection order is the same on every run.
func (r *Registry) Adapters() []catalog.SourceAdapter {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]catalog.SourceAdapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id])
	}
	return out
}
