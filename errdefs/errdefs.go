// Package errdefs holds the error kinds shared by the pooling, locking and
// graph rewriting packages.
package errdefs

import "fmt"

// InvariantViolationError reports a broken internal invariant: an inconsistent
// borrowed map, a pool overflowing its size or a first-time lock stuck in the
// locked state. It is fatal for the fiber that observes it.
type InvariantViolationError struct {
	Component string
	Reason    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Component, e.Reason)
}

// ConstructionError represents a factory failure while building a pooled
// instance. A later fiber may retry the construction.
type ConstructionError struct {
	ID  string
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construction failed for service %s: %v", e.ID, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid compile-time configuration. Startup aborts.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Key, e.Reason)
}
