package servicepool

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ResetterFunc dereferences a resettable service for fiberID, building it if
// needed, and resets it.
type ResetterFunc func(ctx context.Context, fiberID int64) error

type resetterRef struct {
	id    string
	reset ResetterFunc
}

// Resetter is the ordered registry of resettable services.
//
// Every reference is dereferenced on each reset, including services nobody
// touched yet. Skipping untouched services would let a coroutine that already
// passed its reset phase borrow an instance another coroutine left dirty.
type Resetter struct {
	mu   sync.RWMutex
	refs []resetterRef
}

// NewResetter creates an empty registry.
func NewResetter() *Resetter {
	return &Resetter{}
}

// Add appends a resettable service.
func (r *Resetter) Add(id string, reset ResetterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, resetterRef{id: id, reset: reset})
}

// IDs returns the registered service ids in reset order.
func (r *Resetter) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.refs))
	for _, ref := range r.refs {
		ids = append(ids, ref.id)
	}
	return ids
}

// Reset resets every registered service for fiberID. Failures do not stop
// the remaining resets; they are returned together.
func (r *Resetter) Reset(ctx context.Context, fiberID int64) error {
	r.mu.RLock()
	refs := make([]resetterRef, len(r.refs))
	copy(refs, r.refs)
	r.mu.RUnlock()

	var err error
	for _, ref := range refs {
		if rerr := ref.reset(ctx, fiberID); rerr != nil {
			err = multierr.Append(err, errors.Wrapf(rerr, "reset %s", ref.id))
		}
	}
	return err
}

// PoolResetter borrows the instance of pool for the coroutine and resets it.
func PoolResetter(pool *Pool, reset ResetFunc) ResetterFunc {
	return func(ctx context.Context, fiberID int64) error {
		instance, err := pool.Get(ctx, fiberID)
		if err != nil {
			return err
		}
		return reset(instance)
	}
}
