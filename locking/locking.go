// Package locking provides keyed mutual exclusion between coroutines.
package locking

import "context"

// Locking hands out locks by key.
type Locking interface {
	// Acquire blocks until no other holder owns key or ctx is done.
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Lock is a held key. Release and Rollback are idempotent; only the first call
// on a handle has an effect.
type Lock interface {
	// Release gives the key back after the critical section completed.
	Release()
	// Rollback gives the key back after the critical section failed.
	Rollback()
}

type noopLock struct{}

func (noopLock) Release()  {}
func (noopLock) Rollback() {}

// Unlocked returns a lock that guards nothing.
func Unlocked() Lock {
	return noopLock{}
}
