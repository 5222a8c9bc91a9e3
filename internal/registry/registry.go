// Package registry provides a name-keyed registry of interchangeable
// strategies (collectors, analyzers, matchers). A Registry is an ordinary
// value constructed at startup and passed to whoever needs it.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotRegistered is returned when no entry matches the requested name
	// and no fallback is available.
	ErrNotRegistered = errors.New("not registered")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("already registered")
)

// Registry maps names to implementations of T. It is safe for concurrent use.
type Registry[T any] struct {
	kind string

	mu       sync.RWMutex
	entries  map[string]T
	order    []string
	fallback string
}

// New creates an empty registry. kind names what is registered ("matcher",
// "collector") and appears in errors.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]T),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds impl under name. Names are case-insensitive.
func (r *Registry[T]) Register(name string, impl T) error {
	key := normalize(name)
	if key == "" {
		return goerr.New("registry name is empty", goerr.V("kind", r.kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		return goerr.Wrap(ErrDuplicate, "duplicate registration",
			goerr.V("kind", r.kind), goerr.V("name", key))
	}
	r.entries[key] = impl
	r.order = append(r.order, key)
	return nil
}

// MustRegister is Register that panics on error. Use it only while wiring
// the process at startup.
func (r *Registry[T]) MustRegister(name string, impl T) {
	if err := r.Register(name, impl); err != nil {
		panic(err)
	}
}

// SetDefault names the entry Select falls back to.
func (r *Registry[T]) SetDefault(name string) error {
	key := normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return goerr.Wrap(ErrNotRegistered, "unknown default",
			goerr.V("kind", r.kind), goerr.V("name", key))
	}
	r.fallback = key
	return nil
}

// Default returns the configured default name, or "" when none is set.
func (r *Registry[T]) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Get returns the entry registered under name.
func (r *Registry[T]) Get(name string) (T, error) {
	key := normalize(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.entries[key]
	if !ok {
		var zero T
		return zero, goerr.Wrap(ErrNotRegistered, "lookup failed",
			goerr.V("kind", r.kind), goerr.V("name", key))
	}
	return impl, nil
}

// Select resolves name with fallback: the named entry if registered, else
// the default, else the first entry registered. The resolved name is
// returned alongside the implementation.
func (r *Registry[T]) Select(name string) (string, T, error) {
	key := normalize(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if impl, ok := r.entries[key]; ok {
		return key, impl, nil
	}
	if r.fallback != "" {
		return r.fallback, r.entries[r.fallback], nil
	}
	if len(r.order) > 0 {
		first := r.order[0]
		return first, r.entries[first], nil
	}

	var zero T
	return "", zero, goerr.Wrap(ErrNotRegistered, "registry is empty",
		goerr.V("kind", r.kind), goerr.V("name", key))
}

// Names returns the registered names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// All returns every entry keyed by name.
func (r *Registry[T]) All() map[string]T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]T, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
