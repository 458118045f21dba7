// Package registry provides a generic, concurrency-safe named catalog.
//
// Items are kept in registration order so that anything rendered from a
// registry (tool descriptions, expert lists) is stable between runs.
// A registry can be frozen once start-up wiring is done; after that it
// rejects mutation.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrEmptyName = errors.New("name cannot be empty")
	ErrDuplicate = errors.New("already registered")
	ErrNotFound  = errors.New("not found")
	ErrFrozen    = errors.New("registry is frozen")
)

type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Names() []string
	Count() int
}

type BaseRegistry[T any] struct {
	mu     sync.RWMutex
	items  map[string]T
	order  []string
	frozen bool
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{
		items: make(map[string]T),
	}
}

func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", name, ErrFrozen)
	}
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("%q %w", name, ErrDuplicate)
	}

	r.items[name] = item
	r.order = append(r.order, name)
	return nil
}

func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[name]
	return item, ok
}

// MustGet returns the named item or an error wrapping ErrNotFound.
func (r *BaseRegistry[T]) MustGet(name string) (T, error) {
	item, ok := r.Get(name)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%q %w", name, ErrNotFound)
	}
	return item, nil
}

// List returns the items in registration order.
func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.order))
	for _, name := range r.order {
		items = append(items, r.items[name])
	}
	return items
}

func (r *BaseRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *BaseRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("remove %q: %w", name, ErrFrozen)
	}
	if _, exists := r.items[name]; !exists {
		return fmt.Errorf("%q %w", name, ErrNotFound)
	}

	delete(r.items, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Freeze makes the registry read-only.
func (r *BaseRegistry[T]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *BaseRegistry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
