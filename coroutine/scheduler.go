package coroutine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Scheduler spawns coroutines and waits for them, like sync.WaitGroup, except
// it can throttle the number of active coroutines and installs start hooks on
// every coroutine it spawns.
type Scheduler struct {
	hooks      []StartHook
	errHandler func(err error)
	sem        *semaphore.Weighted
	started    int64
	finished   int64
	wg         sync.WaitGroup
}

// Options holds config options for a Scheduler.
type Options struct {
	maxRoutines int64
	errHandler  func(err error)
	logger      *zap.Logger
	hooks       []StartHook
}

// Opt configures a Scheduler.
type Opt func(o *Options)

// WithThrottledRoutines throttles the number of active coroutines spawned by the Scheduler.
func WithThrottledRoutines(max int64) Opt {
	return func(o *Options) {
		o.maxRoutines = max
	}
}

// WithErrHandler overrides the default error handler which logs errors returned by coroutines.
func WithErrHandler(errHandler func(err error)) Opt {
	return func(o *Options) {
		o.errHandler = errHandler
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithStartHooks adds hooks run at the start of every spawned coroutine.
func WithStartHooks(hooks ...StartHook) Opt {
	return func(o *Options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// NewScheduler creates a Scheduler with the given options.
func NewScheduler(opts ...Opt) *Scheduler {
	options := &Options{}
	for _, o := range opts {
		o(options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.errHandler == nil {
		logger := options.logger
		options.errHandler = func(err error) {
			logger.Error("coroutine failed", zap.Error(err))
		}
	}
	s := &Scheduler{
		hooks:      options.hooks,
		errHandler: options.errHandler,
	}
	if options.maxRoutines > 0 {
		s.sem = semaphore.NewWeighted(options.maxRoutines)
	}
	return s
}

// Go asynchronously executes fn as a coroutine. When the Scheduler is
// throttled, Go blocks until a slot is free or ctx is done.
func (s *Scheduler) Go(ctx context.Context, fn Func) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.errHandler(err)
			return
		}
	}
	atomic.AddInt64(&s.started, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.finished, 1)
		if s.sem != nil {
			defer s.sem.Release(1)
		}
		if err := Run(ctx, fn, s.hooks...); err != nil {
			s.errHandler(err)
		}
	}()
}

// Active returns the number of coroutines currently running.
func (s *Scheduler) Active() int {
	return int(atomic.LoadInt64(&s.started) - atomic.LoadInt64(&s.finished))
}

// Wait blocks until every spawned coroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
