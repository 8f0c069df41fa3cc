package digo

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/centraunit/digo/config"
	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/locking"
	"github.com/centraunit/digo/proxify"
	"github.com/centraunit/digo/servicepool"
)

var (
	containerType     = reflect.TypeOf((*Container)(nil))
	poolContainerType = reflect.TypeOf((*servicepool.Container)(nil))
)

// Builder collects service definitions and builds a Container from them.
type Builder struct {
	graph    *graph.Graph
	cfg      config.CoroutinesSupport
	logger   *zap.Logger
	registry *proxify.Registry
	ctx      *ContainerContext
	err      error
}

// BuilderOpt configures a Builder.
type BuilderOpt func(b *Builder)

// WithConfig sets the coroutine support settings.
func WithConfig(cfg *config.Config) BuilderOpt {
	return func(b *Builder) {
		if cfg != nil {
			b.cfg = cfg.CoroutinesSupport
		}
	}
}

// WithLogger sets the logger of the container and its pools.
func WithLogger(logger *zap.Logger) BuilderOpt {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithProcessorRegistry sets where configured compile processors are looked up.
func WithProcessorRegistry(r *proxify.Registry) BuilderOpt {
	return func(b *Builder) {
		b.registry = r
	}
}

// WithContainerContext sets the context passed to lifecycle hooks.
func WithContainerContext(ctx *ContainerContext) BuilderOpt {
	return func(b *Builder) {
		b.ctx = ctx
	}
}

// NewBuilder creates a Builder. Without WithConfig, coroutine support is off.
func NewBuilder(opts ...BuilderOpt) *Builder {
	b := &Builder{
		graph: graph.New(),
		cfg:   config.Default().CoroutinesSupport,
	}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.ctx == nil {
		b.ctx = NewContainerContext(context.Background())
	}
	return b
}

// Register adds a definition. A definition with the same id is replaced.
func (b *Builder) Register(def *graph.Definition) error {
	if def == nil || def.ID == "" {
		err := errors.New("definition needs an id")
		b.err = multierr.Append(b.err, err)
		return err
	}
	if def.ID == proxify.BlockingContainerID || def.ID == proxify.PoolContainerID {
		err := errors.Errorf("%s is reserved", def.ID)
		b.err = multierr.Append(b.err, err)
		return err
	}
	b.graph.Set(def)
	return nil
}

// Graph returns the registered definitions.
func (b *Builder) Graph() *graph.Graph {
	return b.graph
}

// Build compiles the registered definitions and creates the container with
// its service pools.
func (b *Builder) Build() (*Container, error) {
	if b.err != nil {
		return nil, errors.Wrap(b.err, "registration failed")
	}
	g := b.graph.Clone()
	g.Set(&graph.Definition{ID: proxify.BlockingContainerID, Type: containerType, Shared: true})
	g.Set(&graph.Definition{ID: proxify.PoolContainerID, Type: poolContainerType, Shared: true})

	opts := proxify.FromConfig(b.cfg)
	opts.Registry = b.registry
	opts.Logger = b.logger
	compiled, result, err := proxify.Compile(g, opts)
	if err != nil {
		return nil, errors.Wrap(err, "compile service graph")
	}

	c := newContainer(compiled, b.ctx, b.logger)
	threshold := b.cfg.LockWaitThreshold
	if threshold <= 0 {
		threshold = locking.DefaultWaitThreshold
	}
	lock := &orderedLocking{
		coarse: c.coarse,
		first:  locking.NewFirstTimeOnly(locking.NewCoroutine(), locking.WithWaitThreshold(threshold)),
	}

	pools := make([]*servicepool.Pool, 0, len(result.Pools))
	byID := make(map[string]*servicepool.Pool, len(result.Pools))
	for _, spec := range result.Pools {
		p := servicepool.NewPool(spec.ID, spec.Size, poolFactory(c, spec), poolOptions(c, spec, lock)...)
		pools = append(pools, p)
		byID[spec.ID] = p
	}

	resetter := servicepool.NewResetter()
	for _, spec := range result.Resetters {
		reset := servicepool.MethodReset(spec.Method)
		if spec.Pooled {
			resetter.Add(spec.ServiceID, servicepool.PoolResetter(byID[spec.ServiceID], reset))
			continue
		}
		id := spec.ServiceID
		resetter.Add(id, func(ctx context.Context, _ int64) error {
			v, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			return reset(v)
		})
	}

	c.pools = servicepool.NewContainer(pools, resetter)
	c.instances.Store(proxify.PoolContainerID, c.pools)
	b.logger.Info("container built",
		zap.Int("services", compiled.Len()),
		zap.Int("pools", len(pools)),
		zap.Strings("processors", result.Processors),
	)
	return c, nil
}

func poolFactory(c *Container, spec proxify.PoolSpec) servicepool.Factory {
	source := func(ctx context.Context) (any, error) {
		return c.Get(ctx, spec.SourceID)
	}
	if spec.Method != "" {
		return servicepool.MethodFactory(source, spec.Method)
	}
	return source
}

func poolOptions(c *Container, spec proxify.PoolSpec, lock locking.Locking) []servicepool.Option {
	opts := []servicepool.Option{
		servicepool.WithLocking(lock),
		servicepool.WithLogger(c.logger),
		servicepool.WithDiscard(func(instance any) {
			if l, ok := instance.(Lifecycle); ok {
				if err := l.OnShutdown(c.ctx); err != nil {
					c.logger.Warn("discarded instance shutdown failed", zap.String("service", spec.ID), zap.Error(err))
				}
			}
		}),
	}
	if spec.CheckerID != "" {
		opts = append(opts, servicepool.WithStabilityChecker(&lateChecker{container: c, id: spec.CheckerID}))
	}
	if spec.Resettable {
		opts = append(opts, servicepool.WithReset(servicepool.MethodReset(spec.ResetMethod)))
	}
	return opts
}

// orderedLocking guards the first construction of a pooled instance. It takes
// the coarse construction lock before the first-time lock, the order shared
// service construction follows when a factory uses a pooled proxy. Keys whose
// first construction completed skip both.
type orderedLocking struct {
	coarse *coarseLock
	first  *locking.FirstTimeOnly
}

func (o *orderedLocking) Acquire(ctx context.Context, key string) (locking.Lock, error) {
	if o.first.Released(key) {
		return locking.Unlocked(), nil
	}
	if err := o.coarse.lock(ctx); err != nil {
		return nil, err
	}
	inner, err := o.first.Acquire(ctx, key)
	if err != nil {
		o.coarse.unlock()
		return nil, err
	}
	return &orderedLock{inner: inner, unlock: o.coarse.unlock}, nil
}

type orderedLock struct {
	once   sync.Once
	inner  locking.Lock
	unlock func()
}

func (l *orderedLock) Release() {
	l.once.Do(func() {
		l.inner.Release()
		l.unlock()
	})
}

func (l *orderedLock) Rollback() {
	l.once.Do(func() {
		l.inner.Rollback()
		l.unlock()
	})
}

// lateChecker resolves its stability checker on first use, so checkers may
// depend on services built after the pools.
type lateChecker struct {
	container *Container
	id        string

	once    sync.Once
	checker servicepool.StabilityChecker
}

func (l *lateChecker) resolve() servicepool.StabilityChecker {
	l.once.Do(func() {
		v, err := l.container.Get(l.container.ctx, l.id)
		if err != nil {
			l.container.logger.Error("stability checker unavailable", zap.String("checker", l.id), zap.Error(err))
			return
		}
		checker, ok := v.(servicepool.StabilityChecker)
		if !ok {
			l.container.logger.Error("service is not a stability checker", zap.String("checker", l.id))
			return
		}
		l.checker = checker
	})
	return l.checker
}

func (l *lateChecker) SupportedType() reflect.Type {
	if checker := l.resolve(); checker != nil {
		return checker.SupportedType()
	}
	return nil
}

func (l *lateChecker) IsStable(instance any) bool {
	checker := l.resolve()
	if checker == nil {
		return true
	}
	if t := checker.SupportedType(); t != nil && !reflect.TypeOf(instance).AssignableTo(t) {
		return true
	}
	return checker.IsStable(instance)
}
