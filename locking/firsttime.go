package locking

import (
	"context"
	"sync"
	"time"

	"github.com/centraunit/digo/errdefs"
)

// DefaultWaitThreshold bounds how long a caller waits on a key whose first
// critical section has not completed.
const DefaultWaitThreshold = 30 * time.Second

type state int

const (
	stateLocked state = iota + 1
	stateReleased
)

type entry struct {
	state state
	// closed when the entry leaves the locked state
	done chan struct{}
}

// FirstTimeOnly serializes only the first critical section per key. Once a
// key was released, every later Acquire returns immediately with a no-op lock.
// A rolled back key is absent again and the next caller runs the critical
// section anew.
type FirstTimeOnly struct {
	mu        sync.Mutex
	entries   map[string]*entry
	wrapped   Locking
	threshold time.Duration
}

// FirstTimeOnlyOpt configures a FirstTimeOnly lock.
type FirstTimeOnlyOpt func(f *FirstTimeOnly)

// WithWaitThreshold overrides DefaultWaitThreshold.
func WithWaitThreshold(d time.Duration) FirstTimeOnlyOpt {
	return func(f *FirstTimeOnly) {
		if d > 0 {
			f.threshold = d
		}
	}
}

// NewFirstTimeOnly wraps locking. A nil locking wraps a new Coroutine mutex;
// wrapping a FirstTimeOnly returns it unchanged.
func NewFirstTimeOnly(locking Locking, opts ...FirstTimeOnlyOpt) *FirstTimeOnly {
	if f, ok := locking.(*FirstTimeOnly); ok {
		return f
	}
	if locking == nil {
		locking = NewCoroutine()
	}
	f := &FirstTimeOnly{
		entries:   make(map[string]*entry),
		wrapped:   locking,
		threshold: DefaultWaitThreshold,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Acquire implements Locking.
func (f *FirstTimeOnly) Acquire(ctx context.Context, key string) (Lock, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		f.mu.Lock()
		e, ok := f.entries[key]
		if !ok {
			e = &entry{state: stateLocked, done: make(chan struct{})}
			f.entries[key] = e
			f.mu.Unlock()

			inner, err := f.wrapped.Acquire(ctx, key)
			if err != nil {
				f.rollback(key, e)
				return nil, err
			}
			return &firstTimeLock{owner: f, key: key, entry: e, inner: inner}, nil
		}
		if e.state == stateReleased {
			f.mu.Unlock()
			return Unlocked(), nil
		}
		done := e.done
		f.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(f.threshold)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, &errdefs.InvariantViolationError{
				Component: "first-time lock",
				Reason:    "key " + key + " stayed locked beyond " + f.threshold.String(),
			}
		}
	}
}

// Released reports whether the first critical section for key completed.
func (f *FirstTimeOnly) Released(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return ok && e.state == stateReleased
}

func (f *FirstTimeOnly) release(e *entry) {
	f.mu.Lock()
	e.state = stateReleased
	f.mu.Unlock()
	close(e.done)
}

func (f *FirstTimeOnly) rollback(key string, e *entry) {
	f.mu.Lock()
	if f.entries[key] == e {
		delete(f.entries, key)
	}
	f.mu.Unlock()
	close(e.done)
}

type firstTimeLock struct {
	once  sync.Once
	owner *FirstTimeOnly
	key   string
	entry *entry
	inner Lock
}

func (l *firstTimeLock) Release() {
	l.once.Do(func() {
		l.owner.release(l.entry)
		l.inner.Release()
	})
}

func (l *firstTimeLock) Rollback() {
	l.once.Do(func() {
		l.owner.rollback(l.key, l.entry)
		l.inner.Rollback()
	})
}
