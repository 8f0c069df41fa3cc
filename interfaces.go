package digo

// Package digo provides a dependency injection container whose stateful
// services are safe to use from many goroutines at once.

// Lifecycle defines the interface for services that require initialization and cleanup.
type Lifecycle interface {
	// OnBoot is called once the service is constructed.
	// It receives a ContainerContext for configuration access.
	OnBoot(ctx *ContainerContext) error

	// OnShutdown is called when the service is being terminated.
	// It should clean up any resources held by the service.
	OnShutdown(ctx *ContainerContext) error
}

// Scope defines the lifetime and sharing behavior of a service.
type Scope string

// Available service scopes
const (
	// ScopeTransient creates a new instance for each resolution
	ScopeTransient Scope = "transient"
	// ScopeCoroutine gives every coroutine its own pooled instance
	ScopeCoroutine Scope = "coroutine"
	// ScopeSingleton shares a single instance across the application
	ScopeSingleton Scope = "singleton"
)
