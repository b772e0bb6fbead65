// Package health aggregates the liveness of the scoring service's
// dependencies: data-provider circuits, the scoring loop and, when
// publishing, the reputation contract.
package health

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Status is one dependency's result as shown on /health.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker inspects one dependency. It should return promptly once ctx ends.
type Checker func(ctx context.Context) Status

// Registry holds the service's named checks. Order of first registration is
// the order /health lists them in.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Checker)}
}

// Register adds check under name. Registering a name again replaces the
// earlier check in place.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checks[name]; !ok {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// CheckAll runs every check concurrently and reports healthy only if all of
// them are. A panicking check counts as unhealthy; a status without a name
// takes the name it was registered under.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	checks := make([]Checker, len(names))
	for i, n := range names {
		checks[i] = r.checks[n]
	}
	r.mu.RUnlock()

	statuses = make([]Status, len(names))
	var g errgroup.Group
	for i := range checks {
		g.Go(func() error {
			statuses[i] = run(ctx, names[i], checks[i])
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, name string, check Checker) (s Status) {
	defer func() {
		if rec := recover(); rec != nil {
			s = Status{Name: name, Healthy: false, Detail: fmt.Sprintf("check panicked: %v", rec)}
		}
	}()
	s = check(ctx)
	if s.Name == "" {
		s.Name = name
	}
	return s
}
