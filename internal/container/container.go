// Package container holds the named singletons the application builds at
// startup and runs post-construction hooks over each one as it is registered.
package container

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned by Lookup when no instance has the requested type.
	ErrNotFound = stderrors.New("no instance of requested type")
	// ErrAmbiguous is returned by Lookup when more than one instance matches.
	ErrAmbiguous = stderrors.New("more than one instance of requested type")
	// ErrDuplicateName is returned by Register for a name already in use.
	ErrDuplicateName = stderrors.New("instance name already registered")
)

// Hook sees every instance after construction and returns the instance to
// store in its place.
type Hook func(name string, instance any) any

// Container is a registry of named instances. It is safe for concurrent use.
type Container struct {
	mu        sync.RWMutex
	hooks     []Hook
	instances map[string]any
	order     []string
}

// New creates an empty container.
func New() *Container {
	return &Container{instances: make(map[string]any)}
}

// AddHook appends a hook. Hooks only see instances registered after they are
// added.
func (c *Container) AddHook(hook Hook) {
	if hook == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Register runs the hooks over instance in the order they were added and
// stores the result under name. Hooks run without the container lock held,
// so they may call back into the container.
func (c *Container) Register(name string, instance any) (any, error) {
	c.mu.RLock()
	_, exists := c.instances[name]
	hooks := make([]Hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()

	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	for _, hook := range hooks {
		instance = hook(name, instance)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.instances[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	c.instances[name] = instance
	c.order = append(c.order, name)
	return instance, nil
}

// Get returns the instance registered under name.
func (c *Container) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	instance, ok := c.instances[name]
	return instance, ok
}

// Names returns registered names in registration order.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// ListNamed returns a copy of every registered instance keyed by name.
func (c *Container) ListNamed() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.instances))
	for name, instance := range c.instances {
		out[name] = instance
	}
	return out
}

// Named returns the instances assignable to T keyed by name.
func Named[T any](c *Container) map[string]T {
	out := make(map[string]T)
	for name, instance := range c.ListNamed() {
		if v, ok := instance.(T); ok {
			out[name] = v
		}
	}
	return out
}

// Lookup returns the single instance assignable to T.
func Lookup[T any](c *Container) (T, error) {
	var zero T
	matches := Named[T](c)
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("%w: %T", ErrNotFound, (*T)(nil))
	case 1:
		for _, v := range matches {
			return v, nil
		}
	}

	names := make([]string, 0, len(matches))
	for name := range matches {
		names = append(names, name)
	}
	sort.Strings(names)
	return zero, fmt.Errorf("%w: %v", ErrAmbiguous, names)
}
