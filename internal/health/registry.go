package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Checker reports whether a backing component is reachable
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a plain function to Checker
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

type entry struct {
	checker  Checker
	required bool
}

// Registry tracks the components the service depends on. Only required
// components decide readiness; optional ones are reported but tolerated.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a required component
func (r *Registry) Register(name string, checker Checker) {
	r.register(name, checker, true)
}

// RegisterOptional adds a component whose failure degrades but does not
// block the service
func (r *Registry) RegisterOptional(name string, checker Checker) {
	r.register(name, checker, false)
}

func (r *Registry) register(name string, checker Checker, required bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{checker: checker, required: required}
}

// Unregister removes a component
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// List returns registered component names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheckAll checks every registered component
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error, len(r.entries))
	for name, e := range r.entries {
		results[name] = e.checker.HealthCheck(ctx)
	}
	return results
}

// Ping fails when any required component is unhealthy
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, e := range r.entries {
		if !e.required {
			continue
		}
		if err := e.checker.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
