package digo

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/centraunit/digo/coroutine"
	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/locking"
	"github.com/centraunit/digo/proxify"
	"github.com/centraunit/digo/servicepool"
)

type resolutionState struct {
	chain    map[string]bool
	mu       sync.Mutex
	keyCache []string
}

type bootedService struct {
	id       string
	instance Lifecycle
}

// Container resolves services from a compiled graph.
//
// Shared services are cached and returned without locking. The first
// construction of a shared service runs under a coarse process-wide lock,
// re-entrant for the goroutine holding it so factories can resolve their
// dependencies.
type Container struct {
	graph  *graph.Graph
	ctx    *ContainerContext
	logger *zap.Logger
	pools  *servicepool.Container

	instances sync.Map
	coarse    *coarseLock

	resolutionState sync.Map
	resolutionMu    sync.RWMutex
	statePool       sync.Pool

	mu     sync.Mutex
	booted []bootedService

	constructions atomic.Int64
}

func newContainer(g *graph.Graph, ctx *ContainerContext, logger *zap.Logger) *Container {
	c := &Container{
		graph:  g,
		logger: logger,
		coarse: newCoarseLock(),
		statePool: sync.Pool{
			New: func() any {
				return &resolutionState{
					chain:    make(map[string]bool, 8),
					keyCache: make([]string, 0, 8),
				}
			},
		},
	}
	c.ctx = ctx.bind(c)
	c.instances.Store(proxify.BlockingContainerID, c)
	return c
}

// Get returns the service registered under id.
func (c *Container) Get(ctx context.Context, id string) (any, error) {
	if v, ok := c.instances.Load(id); ok {
		return v, nil
	}
	def, ok := c.graph.Get(id)
	if !ok {
		return nil, &BindingNotFoundError{ID: id}
	}
	if ctx == nil {
		ctx = c.ctx
	}

	if err := c.startResolving(id); err != nil {
		return nil, err
	}
	defer c.finishResolving(id)

	if !def.Shared {
		return c.build(ctx, def)
	}

	if err := c.coarse.lock(ctx); err != nil {
		return nil, err
	}
	defer c.coarse.unlock()
	if v, ok := c.instances.Load(id); ok {
		return v, nil
	}
	v, err := c.build(ctx, def)
	if err != nil {
		return nil, err
	}
	c.instances.Store(id, v)
	return v, nil
}

// Has reports whether id is defined.
func (c *Container) Has(id string) bool {
	if _, ok := c.instances.Load(id); ok {
		return true
	}
	return c.graph.Has(id)
}

// Initialized reports whether the shared service id was constructed.
func (c *Container) Initialized(id string) bool {
	_, ok := c.instances.Load(id)
	return ok
}

// IDs returns the defined service ids.
func (c *Container) IDs() []string {
	return c.graph.IDs()
}

// Definition returns the compiled definition of id.
func (c *Container) Definition(id string) (*graph.Definition, bool) {
	return c.graph.Get(id)
}

// Constructions returns how many times a factory ran.
func (c *Container) Constructions() int64 {
	return c.constructions.Load()
}

// Pools returns the service pool container.
func (c *Container) Pools() *servicepool.Container {
	return c.pools
}

// Context returns the context passed to lifecycle hooks.
func (c *Container) Context() *ContainerContext {
	return c.ctx
}

// ReleaseForCoroutine returns every pooled instance borrowed by fiberID.
func (c *Container) ReleaseForCoroutine(fiberID int64) {
	c.pools.ReleaseForCoroutine(fiberID)
}

// Reset runs the reset phase of fiberID.
func (c *Container) Reset(ctx context.Context, fiberID int64) error {
	return c.pools.Reset(ctx, fiberID)
}

// Boot constructs every shared service.
func (c *Container) Boot(ctx context.Context) error {
	for _, def := range c.graph.Definitions() {
		if !def.Shared {
			continue
		}
		if _, err := c.Get(ctx, def.ID); err != nil {
			return errors.Wrapf(err, "boot %s", def.ID)
		}
	}
	return nil
}

// Shutdown drops every pool, then shuts booted services down in reverse
// construction order.
func (c *Container) Shutdown() error {
	c.pools.Shutdown()

	c.mu.Lock()
	booted := c.booted
	c.booted = nil
	c.mu.Unlock()

	var err error
	for i := len(booted) - 1; i >= 0; i-- {
		b := booted[i]
		if serr := b.instance.OnShutdown(c.ctx); serr != nil {
			err = multierr.Append(err, &ShutdownError{ID: b.id, Err: serr})
		}
	}
	c.instances.Range(func(k, _ any) bool {
		if k != proxify.BlockingContainerID && k != proxify.PoolContainerID {
			c.instances.Delete(k)
		}
		return true
	})
	return err
}

func (c *Container) build(ctx context.Context, def *graph.Definition) (any, error) {
	if def.Factory == nil {
		return nil, &InitializationError{ID: def.ID, Err: errors.New("no factory")}
	}
	v, err := def.Factory(ctx, c)
	c.constructions.Add(1)
	if err != nil {
		return nil, &InitializationError{ID: def.ID, Err: err}
	}
	if v == nil {
		return nil, &NilServiceError{Type: typeName(def.Type)}
	}
	if def.Type != nil && !reflect.TypeOf(v).AssignableTo(def.Type) {
		return nil, &TypeMismatchError{Expected: def.Type.String(), Got: reflect.TypeOf(v).String()}
	}
	if l, ok := v.(Lifecycle); ok && def.Decorates == "" {
		if err := l.OnBoot(c.ctx); err != nil {
			return nil, &BootError{ID: def.ID, Err: err}
		}
		if def.Shared {
			c.mu.Lock()
			c.booted = append(c.booted, bootedService{id: def.ID, instance: l})
			c.mu.Unlock()
		}
	}
	c.logger.Debug("service constructed", zap.String("service", def.ID), zap.Bool("shared", def.Shared))
	return v, nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<unknown>"
	}
	return t.String()
}

func (c *Container) getResolutionState() *resolutionState {
	id := coroutine.ID()

	c.resolutionMu.RLock()
	state, ok := c.resolutionState.Load(id)
	c.resolutionMu.RUnlock()
	if ok {
		return state.(*resolutionState)
	}

	c.resolutionMu.Lock()
	defer c.resolutionMu.Unlock()
	if state, ok := c.resolutionState.Load(id); ok {
		return state.(*resolutionState)
	}
	state = c.statePool.Get()
	c.resolutionState.Store(id, state)
	return state.(*resolutionState)
}

func (c *Container) startResolving(id string) error {
	state := c.getResolutionState()
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.chain[id] {
		chain := append(append([]string(nil), state.keyCache...), id)
		return &CircularDependencyError{ID: id, Chain: chain}
	}
	state.chain[id] = true
	state.keyCache = append(state.keyCache, id)
	return nil
}

func (c *Container) finishResolving(id string) {
	state := c.getResolutionState()
	state.mu.Lock()
	delete(state.chain, id)
	if n := len(state.keyCache); n > 0 && state.keyCache[n-1] == id {
		state.keyCache = state.keyCache[:n-1]
	}
	isEmpty := len(state.chain) == 0
	state.mu.Unlock()

	if isEmpty {
		c.resolutionMu.Lock()
		gid := coroutine.ID()
		if s, ok := c.resolutionState.Load(gid); ok {
			c.resolutionState.Delete(gid)
			rs := s.(*resolutionState)
			rs.keyCache = rs.keyCache[:0]
			c.statePool.Put(rs)
		}
		c.resolutionMu.Unlock()
	}
}

// coarseLock is the process-wide construction lock. The goroutine holding it
// may take it again.
type coarseLock struct {
	keyed *locking.Coroutine

	mu    sync.Mutex
	owner int64
	depth int
	held  locking.Lock
}

func newCoarseLock() *coarseLock {
	return &coarseLock{keyed: locking.NewCoroutine()}
}

func (l *coarseLock) lock(ctx context.Context) error {
	gid := coroutine.ID()
	l.mu.Lock()
	if l.depth > 0 && l.owner == gid {
		l.depth++
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	held, err := l.keyed.Acquire(ctx, proxify.BlockingContainerID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.owner = gid
	l.depth = 1
	l.held = held
	l.mu.Unlock()
	return nil
}

func (l *coarseLock) unlock() {
	l.mu.Lock()
	l.depth--
	if l.depth > 0 {
		l.mu.Unlock()
		return
	}
	held := l.held
	l.owner = 0
	l.held = nil
	l.mu.Unlock()
	held.Release()
}
