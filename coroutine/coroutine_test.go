package coroutine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIDIsStablePerGoroutine(t *testing.T) {
	require := require.New(t)
	id := ID()
	require.Positive(id)
	require.Equal(id, ID())

	other := make(chan int64)
	go func() { other <- ID() }()
	require.NotEqual(id, <-other)
}

func TestFromContext(t *testing.T) {
	require := require.New(t)
	require.Equal(ID(), FromContext(context.Background()))
	require.Equal(int64(42), FromContext(WithID(context.Background(), 42)))
}

func TestLookup(t *testing.T) {
	require := require.New(t)
	_, ok := Lookup(context.Background())
	require.False(ok)
	id, ok := Lookup(WithID(context.Background(), 42))
	require.True(ok)
	require.Equal(int64(42), id)

	require.NoError(Run(context.Background(), func(context.Context) error {
		id, ok := Lookup(context.Background())
		require.True(ok)
		require.Equal(ID(), id)
		return nil
	}))
}

func TestRunBindsIDAndRunsDeferredInReverse(t *testing.T) {
	require := require.New(t)
	var order []int
	var seen int64
	err := Run(context.Background(), func(ctx context.Context) error {
		seen = FromContext(ctx)
		require.True(Active())
		require.True(Defer(func() { order = append(order, 1) }))
		require.True(Defer(func() { order = append(order, 2) }))
		return nil
	})
	require.NoError(err)
	require.Equal(ID(), seen)
	require.Equal([]int{2, 1}, order)
	require.False(Active())
	require.False(Defer(func() {}))
}

func TestRunHookFailureStillRunsDeferred(t *testing.T) {
	require := require.New(t)
	released := false
	boom := errors.New("reset failed")
	called := false
	err := Run(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	}, func(ctx context.Context, id int64) error {
		Defer(func() { released = true })
		return boom
	})
	require.ErrorIs(err, boom)
	require.False(called)
	require.True(released)
}

func TestRunDeferredOnPanic(t *testing.T) {
	require := require.New(t)
	released := false
	require.Panics(func() {
		_ = Run(context.Background(), func(ctx context.Context) error {
			Defer(func() { released = true })
			panic("handler crashed")
		})
	})
	require.True(released)
}

func TestNestedRunJoinsOuter(t *testing.T) {
	require := require.New(t)
	var order []string
	err := Run(context.Background(), func(ctx context.Context) error {
		return Run(ctx, func(ctx context.Context) error {
			Defer(func() { order = append(order, "inner") })
			return nil
		})
	})
	require.NoError(err)
	require.Equal([]string{"inner"}, order)
}

func TestSchedulerRunsHooksAndWaits(t *testing.T) {
	require := require.New(t)
	var hooked, ended int64
	s := NewScheduler(WithStartHooks(func(ctx context.Context, id int64) error {
		atomic.AddInt64(&hooked, 1)
		Defer(func() { atomic.AddInt64(&ended, 1) })
		return nil
	}))
	for i := 0; i < 20; i++ {
		s.Go(context.Background(), func(ctx context.Context) error { return nil })
	}
	s.Wait()
	require.Equal(int64(20), atomic.LoadInt64(&hooked))
	require.Equal(int64(20), atomic.LoadInt64(&ended))
	require.Zero(s.Active())
}

func TestSchedulerThrottles(t *testing.T) {
	require := require.New(t)
	var current, peak int64
	var mu sync.Mutex
	s := NewScheduler(WithThrottledRoutines(2))
	for i := 0; i < 10; i++ {
		s.Go(context.Background(), func(ctx context.Context) error {
			n := atomic.AddInt64(&current, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		})
	}
	s.Wait()
	require.LessOrEqual(peak, int64(2))
}

func TestSchedulerErrHandler(t *testing.T) {
	require := require.New(t)
	boom := errors.New("boom")
	var got []error
	var mu sync.Mutex
	s := NewScheduler(WithErrHandler(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}))
	s.Go(context.Background(), func(ctx context.Context) error { return boom })
	s.Wait()
	require.Len(got, 1)
	require.ErrorIs(got[0], boom)
}
