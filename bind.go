package digo

import (
	"context"
	"reflect"

	"go.uber.org/multierr"

	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/proxify"
	"github.com/centraunit/digo/servicepool"
)

// Factory builds a service of type T.
type Factory[T any] func(ctx context.Context, r graph.Resolver) (T, error)

// BindOpt adjusts the definition created by a Bind helper.
type BindOpt func(d *graph.Definition)

// WithID registers the service under id instead of its type name.
func WithID(id string) BindOpt {
	return func(d *graph.Definition) {
		d.ID = id
	}
}

// WithPoolSize sets how many instances a coroutine scoped service may have.
func WithPoolSize(size int) BindOpt {
	return func(d *graph.Definition) {
		d.PoolSize = size
	}
}

// Resettable makes the service reset between coroutines by calling method.
// An empty method uses Reset.
func Resettable(method string) BindOpt {
	return func(d *graph.Definition) {
		d.Resettable = true
		d.ResetMethod = method
	}
}

// WithStabilityChecker guards the service pool with the checker registered under id.
func WithStabilityChecker(id string) BindOpt {
	return func(d *graph.Definition) {
		d.StabilityChecker = id
	}
}

// WithTag tags the service.
func WithTag(name string, attributes map[string]any) BindOpt {
	return func(d *graph.Definition) {
		d.AddTag(name, attributes)
	}
}

// As lists I among the interfaces the service proxy may be exposed as.
func As[I any]() BindOpt {
	return func(d *graph.Definition) {
		d.Implements = append(d.Implements, reflect.TypeOf((*I)(nil)).Elem())
	}
}

// WithProxy sets the function wrapping the per-coroutine delegate of the
// service into a value of its public type.
func WithProxy[P any](wrap func(d servicepool.Delegate) P) BindOpt {
	return func(d *graph.Definition) {
		d.ProxyFactory = func(delegate servicepool.Delegate) any {
			return wrap(delegate)
		}
	}
}

// ID returns the id services of type T are registered under by default.
func ID[T any]() string {
	return typeOf[T]().String()
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// BindSingleton registers a service with singleton scope.
// The factory runs once; the instance is shared across the application.
func BindSingleton[T any](b *Builder, factory Factory[T], opts ...BindOpt) error {
	return bind(b, ScopeSingleton, factory, opts)
}

// BindTransient registers a service with transient scope.
// Each resolution creates a new instance of the service.
func BindTransient[T any](b *Builder, factory Factory[T], opts ...BindOpt) error {
	return bind(b, ScopeTransient, factory, opts)
}

// BindCoroutine registers a service with coroutine scope. Every coroutine
// works with its own instance, taken from a pool and given back when the
// coroutine ends. Coroutine support must be enabled for the scope to apply;
// otherwise the service behaves like a singleton.
func BindCoroutine[T any](b *Builder, factory Factory[T], opts ...BindOpt) error {
	return bind(b, ScopeCoroutine, factory, opts)
}

// BindValue registers an already built singleton.
func BindValue[T any](b *Builder, service T, opts ...BindOpt) error {
	if v := reflect.ValueOf(service); !v.IsValid() || (isNillable(v.Kind()) && v.IsNil()) {
		err := &NilServiceError{Type: typeOf[T]().String()}
		b.err = multierr.Append(b.err, err)
		return err
	}
	return bind(b, ScopeSingleton, func(context.Context, graph.Resolver) (T, error) {
		return service, nil
	}, opts)
}

func bind[T any](b *Builder, scope Scope, factory Factory[T], opts []BindOpt) error {
	def := &graph.Definition{
		ID:     ID[T](),
		Type:   typeOf[T](),
		Shared: scope != ScopeTransient,
	}
	if factory != nil {
		def.Factory = func(ctx context.Context, r graph.Resolver) (any, error) {
			return factory(ctx, r)
		}
	}
	for _, o := range opts {
		o(def)
	}
	if scope != ScopeCoroutine && def.PoolSize > 0 {
		err := &InvalidScopeError{ID: def.ID, Scope: scope, Option: "WithPoolSize"}
		b.err = multierr.Append(b.err, err)
		return err
	}
	if scope == ScopeCoroutine {
		var attrs map[string]any
		if def.PoolSize > 0 {
			attrs = map[string]any{"limit": def.PoolSize}
		}
		def.AddTag(proxify.TagStatefulService, attrs)
	}
	return b.Register(def)
}

func isNillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	}
	return false
}

// Resolve returns the service registered under the id of T.
func Resolve[T any](ctx context.Context, r graph.Resolver) (T, error) {
	return ResolveID[T](ctx, r, ID[T]())
}

// ResolveID returns the service registered under id as a T.
func ResolveID[T any](ctx context.Context, r graph.Resolver, id string) (T, error) {
	var zero T
	v, err := r.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{Expected: typeOf[T]().String(), Got: reflect.TypeOf(v).String()}
	}
	return typed, nil
}
