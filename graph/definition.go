// Package graph models the service definitions a container is built from.
//
// A Graph is plain data: registering services fills it, the proxify pass
// rewrites a copy of it and the root container instantiates the result.
package graph

import (
	"context"
	"reflect"

	"github.com/centraunit/digo/servicepool"
)

// Resolver looks services up by id while a factory runs.
type Resolver interface {
	Get(ctx context.Context, id string) (any, error)
}

// FactoryFunc builds the value of a definition.
type FactoryFunc func(ctx context.Context, r Resolver) (any, error)

// ProxyFactory wraps the per-coroutine delegate of a stateful service into a
// value of the service's public type.
type ProxyFactory func(d servicepool.Delegate) any

// Tag marks a definition for discovery by compile passes.
type Tag struct {
	Name       string
	Attributes map[string]any
}

// Definition describes how to build one service.
type Definition struct {
	ID      string
	Type    reflect.Type
	Factory FactoryFunc
	// Shared definitions are built once and cached by the container.
	Shared bool
	Tags   []Tag

	PoolSize    int
	Resettable  bool
	ResetMethod string
	// StabilityChecker is the id of the checker guarding the pool; when empty
	// a checker is looked up by type.
	StabilityChecker string
	// Implements lists interfaces the public type may be widened to.
	Implements   []reflect.Type
	ProxyFactory ProxyFactory

	// Decorates is the id of the definition this one stands in for.
	Decorates string
}

// HasTag reports whether the definition carries a tag named name.
func (d *Definition) HasTag(name string) bool {
	for _, t := range d.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TagsNamed returns every tag named name, in declaration order.
func (d *Definition) TagsNamed(name string) []Tag {
	var tags []Tag
	for _, t := range d.Tags {
		if t.Name == name {
			tags = append(tags, t)
		}
	}
	return tags
}

// AddTag appends a tag.
func (d *Definition) AddTag(name string, attributes map[string]any) {
	d.Tags = append(d.Tags, Tag{Name: name, Attributes: attributes})
}

// RemoveTag drops every tag named name.
func (d *Definition) RemoveTag(name string) {
	tags := d.Tags[:0]
	for _, t := range d.Tags {
		if t.Name != name {
			tags = append(tags, t)
		}
	}
	d.Tags = tags
}

// Attribute returns the first value of key among the tags named name.
func (d *Definition) Attribute(name, key string) (any, bool) {
	for _, t := range d.TagsNamed(name) {
		if v, ok := t.Attributes[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the definition. Factories are shared.
func (d *Definition) Clone() *Definition {
	c := *d
	if d.Tags != nil {
		c.Tags = make([]Tag, len(d.Tags))
		for i, t := range d.Tags {
			c.Tags[i] = Tag{Name: t.Name}
			if t.Attributes != nil {
				c.Tags[i].Attributes = make(map[string]any, len(t.Attributes))
				for k, v := range t.Attributes {
					c.Tags[i].Attributes[k] = v
				}
			}
		}
	}
	if d.Implements != nil {
		c.Implements = append([]reflect.Type(nil), d.Implements...)
	}
	return &c
}
