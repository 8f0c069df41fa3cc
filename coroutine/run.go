package coroutine

import (
	"context"
	"sync"
)

// Func is a first class function executed as a coroutine.
type Func func(ctx context.Context) error

// StartHook runs when a coroutine starts, before its Func. Returning an error
// aborts the coroutine; deferred actions registered so far still run.
type StartHook func(ctx context.Context, id int64) error

type frame struct {
	mu       sync.Mutex
	deferred []func()
}

var frames sync.Map

// Defer registers fn to run when the current coroutine ends. Deferred
// actions run in reverse registration order, also when the coroutine panics.
// It reports false when the calling goroutine is not running a coroutine.
func Defer(fn func()) bool {
	v, ok := frames.Load(ID())
	if !ok {
		return false
	}
	f := v.(*frame)
	f.mu.Lock()
	f.deferred = append(f.deferred, fn)
	f.mu.Unlock()
	return true
}

// Active reports whether the calling goroutine is running a coroutine.
func Active() bool {
	_, ok := frames.Load(ID())
	return ok
}

// Run executes fn as a coroutine on the calling goroutine. The coroutine id is
// bound to the context passed to hooks and fn. A nested Run on a goroutine that
// already runs a coroutine joins the outer one.
func Run(ctx context.Context, fn Func, hooks ...StartHook) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id := ID()
	f := &frame{}
	if _, loaded := frames.LoadOrStore(id, f); loaded {
		return fn(WithID(ctx, id))
	}
	defer func() {
		frames.Delete(id)
		f.finish()
	}()

	ctx = WithID(ctx, id)
	for _, hook := range hooks {
		if err := hook(ctx, id); err != nil {
			return err
		}
	}
	return fn(ctx)
}

func (f *frame) finish() {
	f.mu.Lock()
	deferred := f.deferred
	f.deferred = nil
	f.mu.Unlock()
	for i := len(deferred) - 1; i >= 0; i-- {
		deferred[i]()
	}
}
