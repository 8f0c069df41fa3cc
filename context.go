package digo

import (
	"context"
	"sync"

	"github.com/centraunit/digo/coroutine"
)

// ContainerContext extends the standard context.Context with container-specific functionality.
// Lifecycle hooks receive it to read configuration values and resolve dependencies.
type ContainerContext struct {
	context.Context
	values    sync.Map
	container *Container
}

// NewContainerContext creates a new ContainerContext wrapping a standard context.Context.
// The new context inherits all values from the parent context.
func NewContainerContext(parent context.Context) *ContainerContext {
	if parent == nil {
		parent = context.Background()
	}
	return &ContainerContext{
		Context: parent,
	}
}

// WithValue returns a new ContainerContext with the provided key-value pair.
// The new context inherits all values from the parent context.
func (c *ContainerContext) WithValue(key, val any) *ContainerContext {
	newCtx := &ContainerContext{
		Context:   c.Context,
		container: c.container,
	}
	c.values.Range(func(k, v any) bool {
		newCtx.values.Store(k, v)
		return true
	})
	newCtx.values.Store(key, val)
	return newCtx
}

func (c *ContainerContext) Value(key any) any {
	if c == nil {
		return nil
	}
	if val, ok := c.values.Load(key); ok {
		return val
	}
	if c.Context != nil {
		return c.Context.Value(key)
	}
	return nil
}

// MergeWith combines values from another ContainerContext.
// Values from the other context override existing values with the same key.
func (c *ContainerContext) MergeWith(other *ContainerContext) *ContainerContext {
	newCtx := NewContainerContext(c.Context)
	newCtx.container = c.container

	c.values.Range(func(k, v any) bool {
		newCtx.values.Store(k, v)
		return true
	})

	if other != nil {
		other.values.Range(func(k, v any) bool {
			newCtx.values.Store(k, v)
			return true
		})
		if other.container != nil {
			newCtx.container = other.container
		}
	}

	return newCtx
}

// Get resolves a service of the container that issued the context.
func (c *ContainerContext) Get(id string) (any, error) {
	if c.container == nil {
		return nil, &BindingNotFoundError{ID: id}
	}
	return c.container.Get(c, id)
}

// CoroutineID returns the id of the coroutine the context belongs to, or 0
// when it belongs to none.
func (c *ContainerContext) CoroutineID() int64 {
	id, _ := coroutine.Lookup(c)
	return id
}

func (c *ContainerContext) bind(container *Container) *ContainerContext {
	bound := c.MergeWith(nil)
	bound.container = container
	return bound
}
