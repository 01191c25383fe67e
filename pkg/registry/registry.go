// Package registry keeps the named storage roots the engine watches.
//
// The registry is the single lookup point between configuration and the
// runtime: config factories register roots at startup, and the engine, the
// dispatcher and the status surface resolve them by name afterwards.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all named storage roots. It provides thread-safe
// registration and lookup.
//
// Example usage:
//
//	reg := registry.New()
//	reg.AddRoot(&registry.RootConfig{Name: "media", Protocol: protocol.SMB, ...})
//
//	root, _ := reg.GetRoot("media")
//	root.Controller.ForceReconnect()
type Registry struct {
	mu    sync.RWMutex
	roots map[string]*Root
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{roots: make(map[string]*Root)}
}

// AddRoot registers a new storage root. Returns an error if a root with the
// same name already exists or the config is incomplete.
func (r *Registry) AddRoot(config *RootConfig) error {
	if config.Name == "" {
		return fmt.Errorf("cannot add root with empty name")
	}
	if config.Client == nil {
		return fmt.Errorf("root %q: nil backend client", config.Name)
	}
	if config.Handler == nil {
		return fmt.Errorf("root %q: nil protocol handler", config.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roots[config.Name]; exists {
		return fmt.Errorf("root %q already registered", config.Name)
	}

	r.roots[config.Name] = &Root{
		Name:         config.Name,
		Protocol:     config.Protocol,
		Client:       config.Client,
		Handler:      config.Handler,
		Controller:   config.Controller,
		PollInterval: config.PollInterval,
		RateLimit:    config.RateLimit,
	}
	return nil
}

// RemoveRoot removes a root from the registry. Returns an error if the root
// doesn't exist. This does NOT disconnect the client; the engine owns the
// connection lifecycle.
func (r *Registry) RemoveRoot(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roots[name]; !exists {
		return fmt.Errorf("root %q not found", name)
	}
	delete(r.roots, name)
	return nil
}

// GetRoot retrieves a root by name. Returns nil, error if it doesn't exist.
func (r *Registry) GetRoot(name string) (*Root, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, exists := r.roots[name]
	if !exists {
		return nil, fmt.Errorf("root %q not found", name)
	}
	return root, nil
}

// ListRoots returns all registered root names, sorted. The returned slice
// is a copy and safe to modify.
func (r *Registry) ListRoots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roots returns all registered roots ordered by name.
func (r *Registry) Roots() []*Root {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Root, 0, len(r.roots))
	for _, root := range r.roots {
		out = append(out, root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
