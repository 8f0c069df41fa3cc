package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/centraunit/digo/errdefs"
)

func TestCoroutineMutualExclusion(t *testing.T) {
	require := require.New(t)
	l := NewCoroutine()
	var inside, peak int64
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			h, err := l.Acquire(context.Background(), "k")
			if err != nil {
				return err
			}
			n := atomic.AddInt64(&inside, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt64(&inside, -1)
			h.Release()
			return nil
		})
	}
	require.NoError(g.Wait())
	require.Equal(int64(1), peak)
	require.False(l.Held("k"))
}

func TestCoroutineFIFO(t *testing.T) {
	require := require.New(t)
	l := NewCoroutine()
	first, err := l.Acquire(context.Background(), "k")
	require.NoError(err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := l.Acquire(context.Background(), "k")
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			h.Release()
		}(i)
		// let waiter i enqueue before the next one
		require.Eventually(func() bool {
			l.mu.Lock()
			defer l.mu.Unlock()
			return len(l.lanes["k"].waiters) == i+1
		}, time.Second, time.Millisecond)
	}
	first.Release()
	wg.Wait()
	require.Equal([]int{0, 1, 2, 3, 4}, order)
}

func TestCoroutineCancelledWaiter(t *testing.T) {
	require := require.New(t)
	l := NewCoroutine()
	h, err := l.Acquire(context.Background(), "k")
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(err, context.DeadlineExceeded)

	h.Release()
	h.Release()
	require.False(l.Held("k"))

	h2, err := l.Acquire(context.Background(), "k")
	require.NoError(err)
	h2.Release()
}

func TestFirstTimeOnlyStates(t *testing.T) {
	require := require.New(t)
	f := NewFirstTimeOnly(nil)
	require.Same(f, NewFirstTimeOnly(f))

	h, err := f.Acquire(context.Background(), "svc")
	require.NoError(err)
	require.False(f.Released("svc"))
	h.Release()
	require.True(f.Released("svc"))

	again, err := f.Acquire(context.Background(), "svc")
	require.NoError(err)
	require.Equal(Unlocked(), again)
	again.Release()
	again.Release()
}

func TestFirstTimeOnlyWaitersSeeRelease(t *testing.T) {
	require := require.New(t)
	f := NewFirstTimeOnly(nil)
	h, err := f.Acquire(context.Background(), "svc")
	require.NoError(err)

	var g errgroup.Group
	var noops int64
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			l, err := f.Acquire(context.Background(), "svc")
			if err != nil {
				return err
			}
			if l == Unlocked() {
				atomic.AddInt64(&noops, 1)
			}
			l.Release()
			return nil
		})
	}
	time.Sleep(2 * time.Millisecond)
	h.Release()
	require.NoError(g.Wait())
	require.Equal(int64(8), noops)
}

func TestFirstTimeOnlyRollbackLetsNextCallerRetry(t *testing.T) {
	require := require.New(t)
	f := NewFirstTimeOnly(nil)
	h, err := f.Acquire(context.Background(), "svc")
	require.NoError(err)

	got := make(chan Lock, 1)
	go func() {
		l, err := f.Acquire(context.Background(), "svc")
		if err == nil {
			got <- l
		}
	}()
	time.Sleep(2 * time.Millisecond)
	h.Rollback()
	h.Release()

	retry := <-got
	require.NotEqual(Unlocked(), retry, "waiter must become the new first holder")
	require.False(f.Released("svc"))
	retry.Release()
	require.True(f.Released("svc"))
}

type failingLocking struct{}

func (failingLocking) Acquire(context.Context, string) (Lock, error) {
	return nil, errors.New("lock backend down")
}

func TestFirstTimeOnlyInnerFailureRollsBack(t *testing.T) {
	require := require.New(t)
	f := NewFirstTimeOnly(failingLocking{})
	_, err := f.Acquire(context.Background(), "svc")
	require.Error(err)
	f.mu.Lock()
	_, present := f.entries["svc"]
	f.mu.Unlock()
	require.False(present)
}

func TestFirstTimeOnlyStuckLockIsInvariantViolation(t *testing.T) {
	require := require.New(t)
	f := NewFirstTimeOnly(nil, WithWaitThreshold(5*time.Millisecond))
	h, err := f.Acquire(context.Background(), "svc")
	require.NoError(err)
	defer h.Release()

	_, err = f.Acquire(context.Background(), "svc")
	var violation *errdefs.InvariantViolationError
	require.ErrorAs(err, &violation)
}
