package digo

import (
	"context"

	"go.uber.org/zap"

	"github.com/centraunit/digo/coroutine"
)

// Kernel runs coroutines against a Container. Every coroutine it starts gets
// its resettable services reset first and its pooled instances released
// when it ends.
type Kernel struct {
	container *Container
	scheduler *coroutine.Scheduler
	logger    *zap.Logger
}

// NewKernel creates a Kernel. opts configure the scheduler used by Go; the
// lifecycle hook is always installed.
func NewKernel(c *Container, opts ...coroutine.Opt) *Kernel {
	k := &Kernel{container: c, logger: c.logger}
	opts = append([]coroutine.Opt{coroutine.WithLogger(c.logger)}, opts...)
	opts = append(opts, coroutine.WithStartHooks(k.Hook()))
	k.scheduler = coroutine.NewScheduler(opts...)
	return k
}

// Container returns the container of the kernel.
func (k *Kernel) Container() *Container {
	return k.container
}

// Hook returns the start hook binding a coroutine to the container.
func (k *Kernel) Hook() coroutine.StartHook {
	return func(ctx context.Context, id int64) error {
		coroutine.Defer(func() {
			k.container.ReleaseForCoroutine(id)
		})
		if err := k.container.Reset(ctx, id); err != nil {
			k.logger.Warn("coroutine reset failed", zap.Int64("coroutine", id), zap.Error(err))
			return err
		}
		return nil
	}
}

// Run executes fn as a coroutine on the calling goroutine.
func (k *Kernel) Run(ctx context.Context, fn coroutine.Func) error {
	return coroutine.Run(ctx, fn, k.Hook())
}

// Go executes fn as a coroutine on a new goroutine.
func (k *Kernel) Go(ctx context.Context, fn coroutine.Func) {
	k.scheduler.Go(ctx, fn)
}

// Wait blocks until every coroutine started with Go has ended.
func (k *Kernel) Wait() {
	k.scheduler.Wait()
}

// Active returns the number of coroutines started with Go still running.
func (k *Kernel) Active() int {
	return k.scheduler.Active()
}
