package proxify

import (
	"context"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/centraunit/digo/errdefs"
	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/servicepool"
)

var (
	proxyType        = reflect.TypeOf((*servicepool.Proxy)(nil))
	factoryProxyType = reflect.TypeOf((*servicepool.FactoryProxy)(nil))
)

// Proxifier replaces stateful definitions with proxies. Compile processors
// receive it to proxify the services they know about.
type Proxifier struct {
	graph           *graph.Graph
	finals          FinalTypesProcessor
	checkers        map[reflect.Type]string
	ignored         map[string]bool
	defaultPoolSize int
	proxified       map[string]bool
	result          *Result
	logger          *zap.Logger
}

// ProxifyService moves the definition of id under a private id and defines
// a proxy in its place. Ignored and already proxified services are skipped.
func (p *Proxifier) ProxifyService(id string) error {
	if p.ignored[id] {
		p.logger.Debug("service ignored", zap.String("service", id))
		return nil
	}
	if p.proxified[id] {
		return nil
	}
	def, ok := p.graph.Get(id)
	if !ok {
		return &errdefs.ConfigError{Key: id, Reason: "cannot proxify an undefined service"}
	}
	if def.HasTag(TagDecoratedStatefulService) {
		return nil
	}
	publicType, err := p.finals.PublicType(def)
	if err != nil {
		return err
	}

	wrapped := def.Clone()
	wrapped.ID = id + WrappedSuffix
	wrapped.Shared = false
	wrapped.RemoveTag(TagStatefulService)
	wrapped.RemoveTag(TagReset)
	wrapped.AddTag(TagDecoratedStatefulService, map[string]any{"proxy": id})

	proxy := &graph.Definition{
		ID:        id,
		Type:      publicType,
		Factory:   proxyFactory(id, def.ProxyFactory),
		Shared:    true,
		Tags:      def.Clone().Tags,
		Decorates: wrapped.ID,
	}
	p.graph.Set(wrapped)
	p.graph.Set(proxy)

	checker := def.StabilityChecker
	if checker == "" {
		checker = p.checkers[def.Type]
	}
	resettable, method := resetOf(def)
	p.result.Pools = append(p.result.Pools, PoolSpec{
		ID:          id,
		ServiceID:   id,
		SourceID:    wrapped.ID,
		Size:        p.poolSize(def),
		CheckerID:   checker,
		Resettable:  resettable,
		ResetMethod: method,
	})
	if resettable {
		p.result.Resetters = append(p.result.Resetters, ResetterSpec{ServiceID: id, Method: method, Pooled: true})
	}
	p.proxified[id] = true
	p.result.Proxified = append(p.result.Proxified, id)
	p.logger.Debug("service proxified", zap.String("service", id), zap.Stringer("type", publicType))
	return nil
}

// RegisterStabilityChecker makes checkerID guard the pools of services of
// type t proxified from now on.
func (p *Proxifier) RegisterStabilityChecker(t reflect.Type, checkerID string) {
	p.checkers[t] = checkerID
}

// Graph returns the graph being rewritten.
func (p *Proxifier) Graph() *graph.Graph {
	return p.graph
}

// Proxified reports whether id was proxified.
func (p *Proxifier) Proxified(id string) bool {
	return p.proxified[id]
}

func (p *Proxifier) poolSize(def *graph.Definition) int {
	if limit, ok := intAttribute(def, TagStatefulService, "limit"); ok && limit > 0 {
		return limit
	}
	if def.PoolSize > 0 {
		return def.PoolSize
	}
	if p.defaultPoolSize > 0 {
		return p.defaultPoolSize
	}
	return 1
}

// collectSharedResetters registers the resettable services left shared, so
// they are reset at the start of every coroutine too.
func (p *Proxifier) collectSharedResetters() {
	for _, def := range p.graph.Definitions() {
		if p.proxified[def.ID] || def.HasTag(TagDecoratedStatefulService) {
			continue
		}
		if resettable, method := resetOf(def); resettable {
			p.result.Resetters = append(p.result.Resetters, ResetterSpec{ServiceID: def.ID, Method: method})
		}
	}
}

func resetOf(def *graph.Definition) (bool, string) {
	method := def.ResetMethod
	if v, ok := def.Attribute(TagReset, "method"); ok {
		if m, isString := v.(string); isString && m != "" {
			method = m
		}
	}
	return def.Resettable || def.HasTag(TagReset), method
}

func proxyFactory(id string, wrap graph.ProxyFactory) graph.FactoryFunc {
	return func(ctx context.Context, r graph.Resolver) (any, error) {
		pools, err := poolContainer(ctx, r)
		if err != nil {
			return nil, err
		}
		pool, ok := pools.Pool(id)
		if !ok {
			return nil, errors.Errorf("no service pool for %s", id)
		}
		proxy := servicepool.NewProxy(id, pool)
		if wrap != nil {
			return wrap(proxy), nil
		}
		return proxy, nil
	}
}

func poolContainer(ctx context.Context, r graph.Resolver) (*servicepool.Container, error) {
	v, err := r.Get(ctx, PoolContainerID)
	if err != nil {
		return nil, err
	}
	pools, ok := v.(*servicepool.Container)
	if !ok {
		return nil, errors.Errorf("%s is %T, not a service pool container", PoolContainerID, v)
	}
	return pools, nil
}

// FinalTypesProcessor decides the public type of a proxified service. The
// proxy must be usable wherever the original type was expected.
type FinalTypesProcessor struct{}

// PublicType returns the type the proxy of def is exposed as. Without a
// proxy factory that is *servicepool.Proxy. With one, the definition type
// must be an interface, or is widened to the first interface of Implements
// it satisfies.
func (FinalTypesProcessor) PublicType(def *graph.Definition) (reflect.Type, error) {
	if def.ProxyFactory == nil {
		return proxyType, nil
	}
	if def.Type == nil {
		return nil, &errdefs.ConfigError{Key: def.ID, Reason: "proxy factory given for a service of unknown type"}
	}
	if def.Type.Kind() == reflect.Interface {
		return def.Type, nil
	}
	for _, i := range def.Implements {
		if i != nil && i.Kind() == reflect.Interface && def.Type.Implements(i) {
			return i, nil
		}
	}
	return nil, &errdefs.ConfigError{
		Key:    def.ID,
		Reason: fmt.Sprintf("%s is concrete and implements no listed interface, a proxy cannot stand in for it", def.Type),
	}
}

// UnmanagedFactoryProxifier pools the products of factories tagged
// unmanaged_factory. The public id becomes a *servicepool.FactoryProxy.
type UnmanagedFactoryProxifier struct {
	graph           *graph.Graph
	defaultPoolSize int
	result          *Result
}

// UnmanagedPoolID is the pool id of the products of method of factory id.
func UnmanagedPoolID(id, method string) string {
	return id + "::" + method
}

// ProxifyService proxifies the unmanaged factory id.
func (u *UnmanagedFactoryProxifier) ProxifyService(id string) error {
	def, ok := u.graph.Get(id)
	if !ok {
		return &errdefs.ConfigError{Key: id, Reason: "cannot proxify an undefined factory"}
	}
	type product struct {
		method string
		limit  int
	}
	var products []product
	for _, tag := range def.TagsNamed(TagUnmanagedFactory) {
		method, _ := tag.Attributes["method"].(string)
		if method == "" {
			return &errdefs.ConfigError{Key: id, Reason: "unmanaged_factory tag needs a method attribute"}
		}
		if def.Type != nil {
			if _, found := def.Type.MethodByName(method); !found {
				return &errdefs.ConfigError{Key: id, Reason: fmt.Sprintf("%s has no method %s", def.Type, method)}
			}
		}
		limit, _ := intAttribute(&graph.Definition{Tags: []graph.Tag{tag}}, TagUnmanagedFactory, "limit")
		products = append(products, product{method: method, limit: limit})
	}

	wrapped := def.Clone()
	wrapped.ID = id + WrappedSuffix
	wrapped.RemoveTag(TagUnmanagedFactory)
	wrapped.AddTag(TagDecoratedStatefulService, map[string]any{"proxy": id})

	methods := make([]string, 0, len(products))
	for _, pr := range products {
		size := pr.limit
		if size <= 0 {
			size = def.PoolSize
		}
		if size <= 0 {
			size = u.defaultPoolSize
		}
		u.result.Pools = append(u.result.Pools, PoolSpec{
			ID:        UnmanagedPoolID(id, pr.method),
			ServiceID: id,
			SourceID:  wrapped.ID,
			Method:    pr.method,
			Size:      size,
		})
		methods = append(methods, pr.method)
	}

	u.graph.Set(wrapped)
	u.graph.Set(&graph.Definition{
		ID:        id,
		Type:      factoryProxyType,
		Factory:   factoryProxyFactory(id, methods),
		Shared:    true,
		Decorates: wrapped.ID,
	})
	u.result.Unmanaged = append(u.result.Unmanaged, id)
	return nil
}

func factoryProxyFactory(id string, methods []string) graph.FactoryFunc {
	return func(ctx context.Context, r graph.Resolver) (any, error) {
		pools, err := poolContainer(ctx, r)
		if err != nil {
			return nil, err
		}
		byMethod := make(map[string]*servicepool.Pool, len(methods))
		for _, m := range methods {
			pool, ok := pools.Pool(UnmanagedPoolID(id, m))
			if !ok {
				return nil, errors.Errorf("no service pool for %s", UnmanagedPoolID(id, m))
			}
			byMethod[m] = pool
		}
		return servicepool.NewFactoryProxy(id, byMethod), nil
	}
}
