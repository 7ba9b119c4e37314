package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-crm/core"
	goerrors "github.com/goliatone/go-errors"
)

// Registry maps adapter kinds to the adapters a CRM client uses for the
// token endpoint (form), record reads (rest) and search bodies (json).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.TransportAdapter
}

func NewRegistry(adapters ...core.TransportAdapter) (*Registry, error) {
	registry := &Registry{adapters: map[string]core.TransportAdapter{}}
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewDefaultRegistry registers the rest, json and form adapters sharing
// client. A nil client gets the default REST client.
func NewDefaultRegistry(client HTTPDoer) *Registry {
	registry, _ := NewRegistry(
		NewRESTAdapter(client),
		NewJSONAdapter(client),
		NewFormAdapter(client),
	)
	return registry
}

// Register adds adapter under its kind. Replacing a kind is allowed so
// callers can swap a single transport on top of the defaults.
func (r *Registry) Register(adapter core.TransportAdapter) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("transport: adapter is nil")
	}
	kind := normalizeKind(adapter.Kind())
	if kind == "" {
		return fmt.Errorf("transport: adapter kind is required")
	}
	r.mu.Lock()
	r.adapters[kind] = adapter
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(kind string) (core.TransportAdapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[normalizeKind(kind)]
	return adapter, ok
}

// Resolve is Get with a typed internal error for missing kinds.
func (r *Registry) Resolve(kind string) (core.TransportAdapter, error) {
	adapter, ok := r.Get(kind)
	if ok {
		return adapter, nil
	}
	return nil, transportError(
		fmt.Sprintf("transport: no adapter registered for kind %q", kind),
		goerrors.CategoryInternal,
		0,
		map[string]any{"kind": kind},
	)
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}
