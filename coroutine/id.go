// Package coroutine binds service lifecycles to goroutines.
//
// A coroutine is a goroutine that runs through Run (or Scheduler.Go). Its id
// is the goroutine id, stable from start to end and never reused. Actions
// registered with Defer while it runs execute when it finishes.
package coroutine

import (
	"context"
	"runtime"
	"strconv"
	"strings"
)

type idKey struct{}

// ID returns the current goroutine ID.
func ID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
	id, _ := strconv.ParseInt(idField, 10, 64)
	return id
}

// WithID returns a copy of ctx carrying the given coroutine id.
func WithID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// Lookup returns the coroutine id bound to ctx or, when none is bound, the id
// of the coroutine running on the calling goroutine. It reports false when
// the call belongs to no coroutine.
func Lookup(ctx context.Context) (int64, bool) {
	if ctx != nil {
		if id, ok := ctx.Value(idKey{}).(int64); ok {
			return id, true
		}
	}
	if Active() {
		return ID(), true
	}
	return 0, false
}

// FromContext returns the coroutine id bound to ctx, or the id of the
// calling goroutine when none is bound.
func FromContext(ctx context.Context) int64 {
	if ctx != nil {
		if id, ok := ctx.Value(idKey{}).(int64); ok {
			return id
		}
	}
	return ID()
}
