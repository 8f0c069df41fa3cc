// Package servicepool keeps per-coroutine instances of stateful services.
//
// A Pool owns every instance of one service. A coroutine borrows at most one
// instance per pool; the instance goes back to the pool when the coroutine
// ends and the Container releases it.
package servicepool

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/centraunit/digo/errdefs"
	"github.com/centraunit/digo/locking"
)

// Factory builds a new instance of the pooled service.
type Factory func(ctx context.Context) (any, error)

// ResetFunc returns an instance to a clean state.
type ResetFunc func(instance any) error

// DiscardFunc is called for every instance dropped by the pool.
type DiscardFunc func(instance any)

// Stats is a snapshot of a pool.
type Stats struct {
	ID        string
	Size      int
	Free      int
	Borrowed  int
	Created   uint64
	Discarded uint64
}

// Pool is a bounded bag of interchangeable instances of one service.
type Pool struct {
	id      string
	size    int
	factory Factory
	locking locking.Locking
	checker StabilityChecker
	reset   ResetFunc
	discard DiscardFunc
	logger  *zap.Logger

	mu       sync.Mutex
	free     []any
	borrowed map[int64]any
	// instances alive or under construction
	live      int
	created   uint64
	discarded uint64
	// closed and replaced whenever an instance or a slot becomes available
	available chan struct{}
}

// Option configures a Pool.
type Option func(p *Pool)

// WithStabilityChecker sets the checker run on every released instance.
func WithStabilityChecker(checker StabilityChecker) Option {
	return func(p *Pool) {
		p.checker = checker
	}
}

// WithReset makes the pool reset instances before they become free again.
func WithReset(reset ResetFunc) Option {
	return func(p *Pool) {
		p.reset = reset
	}
}

// WithDiscard sets the hook called for dropped instances.
func WithDiscard(discard DiscardFunc) Option {
	return func(p *Pool) {
		p.discard = discard
	}
}

// WithLocking overrides the lock guarding construction. l is used as is and
// should only serialize the first construction per key, as FirstTimeOnly does.
func WithLocking(l locking.Locking) Option {
	return func(p *Pool) {
		p.locking = l
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates an empty pool of at most size instances built by factory.
func NewPool(id string, size int, factory Factory, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		id:        id,
		size:      size,
		factory:   factory,
		borrowed:  make(map[int64]any),
		available: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.locking == nil {
		p.locking = locking.NewFirstTimeOnly(nil)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("service", id))
	return p
}

// ID returns the id of the pooled service.
func (p *Pool) ID() string {
	return p.id
}

// Size returns the maximum number of instances.
func (p *Pool) Size() int {
	return p.size
}

// Get returns the instance borrowed by fiberID, borrowing one if needed.
// When every instance is borrowed by other coroutines, Get waits for one to
// be released or for ctx to be done.
func (p *Pool) Get(ctx context.Context, fiberID int64) (any, error) {
	p.mu.Lock()
	for {
		// Another goroutine of the same coroutine may have borrowed meanwhile.
		if instance, ok := p.borrowed[fiberID]; ok {
			p.mu.Unlock()
			return instance, nil
		}
		if instance, ok := p.popFree(); ok {
			p.borrowed[fiberID] = instance
			p.mu.Unlock()
			return instance, nil
		}
		if p.live < p.size {
			p.mu.Unlock()
			instance, ok, err := p.construct(ctx, fiberID)
			if err != nil || ok {
				return instance, err
			}
			p.mu.Lock()
			continue
		}
		available := p.available
		p.mu.Unlock()
		select {
		case <-available:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		p.mu.Lock()
	}
}

// construct borrows or builds an instance for fiberID under the construction
// lock. No slot is reserved while waiting for the lock. It reports false when
// the pool filled up in the meantime.
func (p *Pool) construct(ctx context.Context, fiberID int64) (any, bool, error) {
	lock, err := p.locking.Acquire(ctx, p.id)
	if err != nil {
		p.logFailure(err)
		return nil, false, err
	}
	defer lock.Rollback()

	p.mu.Lock()
	if instance, ok := p.borrowed[fiberID]; ok {
		p.mu.Unlock()
		lock.Release()
		return instance, true, nil
	}
	if instance, ok := p.popFree(); ok {
		p.borrowed[fiberID] = instance
		p.mu.Unlock()
		lock.Release()
		return instance, true, nil
	}
	if p.live >= p.size {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.live++
	p.mu.Unlock()

	instance, err := p.factory(ctx)
	if err != nil {
		lock.Rollback()
		p.cancelReservation()
		err = &errdefs.ConstructionError{ID: p.id, Err: err}
		p.logger.Warn("pooled instance construction failed", zap.Error(err))
		return nil, false, err
	}
	lock.Release()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	if borrowed, ok := p.borrowed[fiberID]; ok {
		// The coroutine borrowed while this instance was being built; keep the
		// new one for the next borrower.
		p.free = append(p.free, instance)
		p.notify()
		return borrowed, true, nil
	}
	p.borrowed[fiberID] = instance
	return instance, true, nil
}

// ReleaseForCoroutine returns the instance borrowed by fiberID. Stable
// instances are reset and become free; unstable ones are dropped.
func (p *Pool) ReleaseForCoroutine(fiberID int64) {
	p.mu.Lock()
	instance, ok := p.borrowed[fiberID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.borrowed, fiberID)
	p.mu.Unlock()

	stable := p.checker == nil || p.checker.IsStable(instance)
	if stable && p.reset != nil {
		if err := p.reset(instance); err != nil {
			p.logger.Warn("instance reset failed, dropping it", zap.Error(err))
			stable = false
		}
	}
	if !stable {
		p.logger.Debug("dropping unstable instance", zap.Int64("coroutine", fiberID))
	}

	p.mu.Lock()
	if stable {
		p.free = append(p.free, instance)
	} else {
		p.live--
		p.discarded++
	}
	p.notify()
	p.mu.Unlock()

	if !stable && p.discard != nil {
		p.discard(instance)
	}
}

// AddInstance puts a prebuilt instance into the free list.
func (p *Pool) AddInstance(instance any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live >= p.size {
		err := &errdefs.InvariantViolationError{
			Component: "service pool " + p.id,
			Reason:    fmt.Sprintf("adding an instance would exceed pool size %d", p.size),
		}
		p.logger.Error("pool overflow", zap.Error(err))
		return err
	}
	p.live++
	p.free = append(p.free, instance)
	p.notify()
	return nil
}

// Borrowed returns the instance borrowed by fiberID, if any.
func (p *Pool) Borrowed(fiberID int64) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	instance, ok := p.borrowed[fiberID]
	return instance, ok
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ID:        p.id,
		Size:      p.size,
		Free:      len(p.free),
		Borrowed:  len(p.borrowed),
		Created:   p.created,
		Discarded: p.discarded,
	}
}

// Shutdown drops every free instance. Borrowed instances are dropped when
// their coroutine releases them.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.live -= len(free)
	p.discarded += uint64(len(free))
	p.notify()
	p.mu.Unlock()

	if p.discard != nil {
		for _, instance := range free {
			p.discard(instance)
		}
	}
}

func (p *Pool) popFree() (any, bool) {
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	instance := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return instance, true
}

func (p *Pool) cancelReservation() {
	p.mu.Lock()
	p.live--
	p.notify()
	p.mu.Unlock()
}

// notify wakes every waiter; callers hold p.mu.
func (p *Pool) notify() {
	close(p.available)
	p.available = make(chan struct{})
}

func (p *Pool) logFailure(err error) {
	var violation *errdefs.InvariantViolationError
	if errors.As(err, &violation) {
		p.logger.Error("first-time lock failed", zap.Error(err))
	}
}
