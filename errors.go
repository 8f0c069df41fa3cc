package digo

import (
	"fmt"

	"github.com/centraunit/digo/errdefs"
)

// Error kinds raised by pools, locks and the proxify pass.
type (
	InvariantViolationError = errdefs.InvariantViolationError
	ConstructionError       = errdefs.ConstructionError
	ConfigError             = errdefs.ConfigError
)

// CircularDependencyError represents a circular dependency detection error.
type CircularDependencyError struct {
	ID    string
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected for service %s: %v", e.ID, e.Chain)
}

// BindingNotFoundError represents a missing binding error.
type BindingNotFoundError struct {
	ID string
}

func (e *BindingNotFoundError) Error() string {
	return fmt.Sprintf("no binding found for service: %s", e.ID)
}

// NilServiceError represents an attempt to bind a nil service.
type NilServiceError struct {
	Type string
}

func (e *NilServiceError) Error() string {
	return fmt.Sprintf("nil service provided for type: %s", e.Type)
}

// InitializationError represents a service factory failure.
type InitializationError struct {
	ID  string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed for service %s: %v", e.ID, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// TypeMismatchError represents a type assertion failure.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// ShutdownError represents a service shutdown failure.
type ShutdownError struct {
	ID  string
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown failed for service %s: %v", e.ID, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// BootError represents a service boot failure.
type BootError struct {
	ID  string
	Err error
}

func (e *BootError) Error() string {
	return fmt.Sprintf("boot failed for service %s: %v", e.ID, e.Err)
}

func (e *BootError) Unwrap() error {
	return e.Err
}

// InvalidScopeError represents an option used with a scope it does not apply to.
type InvalidScopeError struct {
	ID     string
	Scope  Scope
	Option string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("option %s is invalid for %s service %s", e.Option, e.Scope, e.ID)
}
