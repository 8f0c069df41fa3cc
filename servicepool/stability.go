package servicepool

import (
	"context"
	"reflect"
	"time"
)

// StabilityChecker decides whether a used instance may be reused.
type StabilityChecker interface {
	// SupportedType is the service type the checker applies to.
	SupportedType() reflect.Type
	// IsStable reports whether instance can go back to its pool.
	IsStable(instance any) bool
}

// StabilityCheckerFunc adapts a predicate to StabilityChecker.
type StabilityCheckerFunc struct {
	Type  reflect.Type
	Check func(instance any) bool
}

func (f StabilityCheckerFunc) SupportedType() reflect.Type {
	return f.Type
}

func (f StabilityCheckerFunc) IsStable(instance any) bool {
	return f.Check(instance)
}

// Pinger is implemented by connection-like services, *sql.Conn among others.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingChecker treats instances whose ping fails as unstable. Instances that
// do not implement Pinger are stable.
type PingChecker struct {
	Type    reflect.Type
	Timeout time.Duration
}

func (c PingChecker) SupportedType() reflect.Type {
	return c.Type
}

func (c PingChecker) IsStable(instance any) bool {
	pinger, ok := instance.(Pinger)
	if !ok {
		return true
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return pinger.PingContext(ctx) == nil
}
