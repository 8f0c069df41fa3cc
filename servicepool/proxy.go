package servicepool

import (
	"context"
	"reflect"
	"sort"

	"github.com/pkg/errors"

	"github.com/centraunit/digo/coroutine"
)

// ErrNoCoroutine is returned when a proxy is used by a call that belongs to
// no coroutine. Nothing would ever release the instance it borrows.
var ErrNoCoroutine = errors.New("stateful service used outside of a coroutine")

// Delegate gives access to the instance a coroutine currently borrows.
// Typed proxies wrap a Delegate and forward every method call to it.
type Delegate interface {
	Instance(ctx context.Context) (any, error)
}

// Proxy stands in for a stateful service. Every access goes through the pool
// of the service on behalf of the calling coroutine.
type Proxy struct {
	id   string
	pool *Pool
}

// NewProxy creates the proxy of service id backed by pool.
func NewProxy(id string, pool *Pool) *Proxy {
	return &Proxy{id: id, pool: pool}
}

// ServiceID returns the public id of the proxied service.
func (p *Proxy) ServiceID() string {
	return p.id
}

// Pool returns the backing pool.
func (p *Proxy) Pool() *Pool {
	return p.pool
}

// Instance borrows the instance of the coroutine bound to ctx.
func (p *Proxy) Instance(ctx context.Context) (any, error) {
	fiberID, ok := coroutine.Lookup(ctx)
	if !ok {
		return nil, errors.Wrap(ErrNoCoroutine, p.id)
	}
	return p.pool.Get(ctx, fiberID)
}

// Invoke calls method on the borrowed instance. When the last result of the
// method is an error, it is returned as is and removed from the results.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...any) ([]any, error) {
	instance, err := p.Instance(ctx)
	if err != nil {
		return nil, err
	}
	return invoke(instance, method, args...)
}

// Borrow returns the instance behind d as a T.
func Borrow[T any](ctx context.Context, d Delegate) (T, error) {
	var zero T
	instance, err := d.Instance(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, errors.Errorf("borrowed instance is %T, not %s", instance, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

// FactoryProxy stands in for a factory whose products live outside the
// container. Each product method gets its own pool, so every coroutine uses
// its own product and returns it when it ends.
type FactoryProxy struct {
	id    string
	pools map[string]*Pool
}

// NewFactoryProxy creates the proxy of factory id; pools maps product
// methods to their pools.
func NewFactoryProxy(id string, pools map[string]*Pool) *FactoryProxy {
	return &FactoryProxy{id: id, pools: pools}
}

// ServiceID returns the public id of the factory.
func (f *FactoryProxy) ServiceID() string {
	return f.id
}

// Methods returns the proxied product methods.
func (f *FactoryProxy) Methods() []string {
	methods := make([]string, 0, len(f.pools))
	for m := range f.pools {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Produce returns the product of method borrowed by the coroutine bound to ctx.
func (f *FactoryProxy) Produce(ctx context.Context, method string) (any, error) {
	p, ok := f.pools[method]
	if !ok {
		return nil, errors.Errorf("factory %s: method %s is not proxified", f.id, method)
	}
	fiberID, ok := coroutine.Lookup(ctx)
	if !ok {
		return nil, errors.Wrapf(ErrNoCoroutine, "%s.%s", f.id, method)
	}
	return p.Get(ctx, fiberID)
}

// Product returns a Delegate producing method results.
func (f *FactoryProxy) Product(method string) Delegate {
	return productDelegate{factory: f, method: method}
}

type productDelegate struct {
	factory *FactoryProxy
	method  string
}

func (d productDelegate) Instance(ctx context.Context) (any, error) {
	return d.factory.Produce(ctx, d.method)
}

// MethodFactory builds pooled instances by calling method on the value
// returned by source. The method takes no arguments and returns a value,
// optionally followed by an error.
func MethodFactory(source Factory, method string) Factory {
	return func(ctx context.Context) (any, error) {
		owner, err := source(ctx)
		if err != nil {
			return nil, err
		}
		out, err := invoke(owner, method)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, errors.Errorf("%T.%s returns nothing", owner, method)
		}
		return out[0], nil
	}
}

// MethodReset resets instances by calling the named method. An empty name
// uses Reset() or Reset() error.
func MethodReset(method string) ResetFunc {
	if method == "" {
		return func(instance any) error {
			switch r := instance.(type) {
			case interface{ Reset() error }:
				return r.Reset()
			case interface{ Reset() }:
				r.Reset()
				return nil
			}
			return errors.Errorf("%T has no Reset method", instance)
		}
	}
	return func(instance any) error {
		_, err := invoke(instance, method)
		return err
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func invoke(instance any, method string, args ...any) ([]any, error) {
	m := reflect.ValueOf(instance).MethodByName(method)
	if !m.IsValid() {
		return nil, errors.Errorf("%T has no method %s", instance, method)
	}
	mt := m.Type()
	if (!mt.IsVariadic() && mt.NumIn() != len(args)) || (mt.IsVariadic() && len(args) < mt.NumIn()-1) {
		return nil, errors.Errorf("%T.%s takes %d arguments, got %d", instance, method, mt.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var want reflect.Type
		if mt.IsVariadic() && i >= mt.NumIn()-1 {
			want = mt.In(mt.NumIn() - 1).Elem()
		} else {
			want = mt.In(i)
		}
		if a == nil {
			in[i] = reflect.Zero(want)
			continue
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(want) {
			return nil, errors.Errorf("%T.%s argument %d: %s is not assignable to %s", instance, method, i, v.Type(), want)
		}
		in[i] = v
	}
	outs := m.Call(in)
	results := make([]any, 0, len(outs))
	for _, o := range outs {
		results = append(results, o.Interface())
	}
	if n := mt.NumOut(); n > 0 && mt.Out(n-1) == errorType {
		last := results[n-1]
		results = results[:n-1]
		if last != nil {
			return results, last.(error)
		}
	}
	return results, nil
}
