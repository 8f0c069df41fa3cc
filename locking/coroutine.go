package locking

import (
	"context"
	"sync"
)

// Coroutine is a keyed mutex. Waiters for the same key are woken in FIFO
// order; keys nobody holds or waits for take no memory.
type Coroutine struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	waiters []chan struct{}
}

// NewCoroutine creates a ready-to-use keyed mutex.
func NewCoroutine() *Coroutine {
	return &Coroutine{lanes: make(map[string]*lane)}
}

// Acquire implements Locking.
func (c *Coroutine) Acquire(ctx context.Context, key string) (Lock, error) {
	c.mu.Lock()
	ln, held := c.lanes[key]
	if !held {
		c.lanes[key] = &lane{}
		c.mu.Unlock()
		return c.handle(key), nil
	}
	ch := make(chan struct{})
	ln.waiters = append(ln.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return c.handle(key), nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	for i, w := range ln.waiters {
		if w == ch {
			ln.waiters = append(ln.waiters[:i], ln.waiters[i+1:]...)
			c.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	c.mu.Unlock()
	// ownership was handed over while ctx got cancelled
	c.release(key)
	return nil, ctx.Err()
}

// Held reports whether key is currently held.
func (c *Coroutine) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lanes[key]
	return ok
}

func (c *Coroutine) handle(key string) Lock {
	h := &coroutineLock{}
	h.release = func() { c.release(key) }
	return h
}

func (c *Coroutine) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, ok := c.lanes[key]
	if !ok {
		return
	}
	if len(ln.waiters) == 0 {
		delete(c.lanes, key)
		return
	}
	next := ln.waiters[0]
	ln.waiters = ln.waiters[1:]
	close(next)
}

type coroutineLock struct {
	once    sync.Once
	release func()
}

func (l *coroutineLock) Release() {
	l.once.Do(l.release)
}

func (l *coroutineLock) Rollback() {
	l.once.Do(l.release)
}
