// Package task defines the transportable description of a unit of work and
// the registry the remote executor resolves it against. Work is never shipped
// as code: a Spec carries a registered handler name plus its arguments, and
// both the submitting process and the remote executor link the same handlers.
package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler executes one unit of work with decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Spec is the transportable task descriptor written into the workspace
// parameter file.
type Spec struct {
	Name string         `cbor:"name" json:"name"`
	Args map[string]any `cbor:"args,omitempty" json:"args,omitempty"`
	// Deps lists handler names this task requires to be registered in the
	// remote runtime; the executor verifies them before running.
	Deps []string `cbor:"deps,omitempty" json:"deps,omitempty"`
}

// Result is the artifact the executor writes on success.
type Result struct {
	Value any `cbor:"value,omitempty" json:"value,omitempty"`
}

// Registry resolves task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous handler of the same name.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("task: empty handler name")
	}
	if h == nil {
		return fmt.Errorf("task: nil handler for %q", name)
	}
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	return h, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// defaultRegistry backs the package-level helpers; most programs need only
// one registry shared by the submit and exec entry points.
var defaultRegistry = NewRegistry()

func Register(name string, h Handler) error { return defaultRegistry.Register(name, h) }
func Lookup(name string) (Handler, bool)    { return defaultRegistry.Lookup(name) }
func Names() []string                       { return defaultRegistry.Names() }
func Default() *Registry                    { return defaultRegistry }
