package servicepool

import (
	"context"
	"sync"
)

// Container is the registry of every service pool of a process.
type Container struct {
	mu       sync.RWMutex
	pools    []*Pool
	byID     map[string]*Pool
	resetter *Resetter
}

// NewContainer creates a Container holding pools. A nil resetter is replaced
// by an empty one.
func NewContainer(pools []*Pool, resetter *Resetter) *Container {
	if resetter == nil {
		resetter = NewResetter()
	}
	c := &Container{
		byID:     make(map[string]*Pool, len(pools)),
		resetter: resetter,
	}
	for _, p := range pools {
		c.AddPool(p)
	}
	return c
}

// AddPool registers a pool. A pool with the same id replaces the previous one.
func (c *Container) AddPool(pool *Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byID[pool.ID()]; ok {
		for i, p := range c.pools {
			if p == old {
				c.pools[i] = pool
			}
		}
	} else {
		c.pools = append(c.pools, pool)
	}
	c.byID[pool.ID()] = pool
}

// Pool returns the pool of a service id.
func (c *Container) Pool(id string) (*Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// Pools returns the registered pools in registration order.
func (c *Container) Pools() []*Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pools := make([]*Pool, len(c.pools))
	copy(pools, c.pools)
	return pools
}

// Resetter returns the resetter registry.
func (c *Container) Resetter() *Resetter {
	return c.resetter
}

// ReleaseForCoroutine returns every instance borrowed by fiberID.
func (c *Container) ReleaseForCoroutine(fiberID int64) {
	for _, p := range c.Pools() {
		p.ReleaseForCoroutine(fiberID)
	}
}

// Reset runs the reset phase of fiberID.
func (c *Container) Reset(ctx context.Context, fiberID int64) error {
	return c.resetter.Reset(ctx, fiberID)
}

// Stats returns a snapshot of every pool.
func (c *Container) Stats() []Stats {
	pools := c.Pools()
	stats := make([]Stats, 0, len(pools))
	for _, p := range pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// Shutdown drops every pool and the free instances they hold.
func (c *Container) Shutdown() {
	c.mu.Lock()
	pools := c.pools
	c.pools = nil
	c.byID = make(map[string]*Pool)
	c.mu.Unlock()
	for _, p := range pools {
		p.Shutdown()
	}
}
