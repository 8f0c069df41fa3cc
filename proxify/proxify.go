// Package proxify rewrites a service graph so that every stateful service is
// reached through a per-coroutine pool.
//
// Compile is a pure transform: it works on a copy of the input graph and
// reports the pools and resetters the container has to create in a Result.
package proxify

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/centraunit/digo/config"
	"github.com/centraunit/digo/errdefs"
	"github.com/centraunit/digo/graph"
)

const (
	// WrappedSuffix is appended to the id of a proxified definition.
	WrappedSuffix = ".coroutine_wrapped"
	// BlockingContainerID is the id of the container itself. It is never proxified.
	BlockingContainerID = "digo.blocking_container"
	// PoolContainerID is the id under which proxies find their pools.
	PoolContainerID = "digo.service_pool_container"
)

// Tags understood by the pass.
const (
	TagStatefulService          = "stateful_service"
	TagDecoratedStatefulService = "decorated_stateful_service"
	TagSafeStatefulService      = "safe_stateful_service"
	TagUnmanagedFactory         = "unmanaged_factory"
	TagStabilityChecker         = "stability_checker"
	TagReset                    = "reset"
)

// MandatoryServices are proxified whenever they are defined.
var MandatoryServices = []string{
	"annotations.reader",
	"logger",
	"profiler_listener",
	"event_dispatcher.inner",
	"stopwatch",
	"request_stack",
}

// Options drive Compile.
type Options struct {
	Enabled          bool
	StatefulServices []string
	Processors       []config.CompileProcessor
	DefaultPoolSize  int
	// Ignore lists ids that are never proxified, on top of BlockingContainerID.
	Ignore   []string
	Registry *Registry
	Logger   *zap.Logger
}

// FromConfig maps the coroutine support settings to Options.
func FromConfig(cs config.CoroutinesSupport) Options {
	return Options{
		Enabled:          cs.Enabled,
		StatefulServices: cs.StatefulServices,
		Processors:       cs.CompileProcessors,
		DefaultPoolSize:  cs.DefaultPoolSize,
	}
}

// PoolSpec describes a pool the container must create.
type PoolSpec struct {
	// ID of the pool: the public service id, or the unmanaged factory id
	// joined with the product method.
	ID string
	// ServiceID is the public id the pool serves.
	ServiceID string
	// SourceID is the definition building pooled instances, or the factory
	// owning Method.
	SourceID string
	// Method is the product method of an unmanaged factory.
	Method      string
	Size        int
	CheckerID   string
	Resettable  bool
	ResetMethod string
}

// ResetterSpec describes an entry of the resetter registry.
type ResetterSpec struct {
	ServiceID string
	Method    string
	// Pooled resetters reset the instance borrowed by the coroutine; the
	// others reset the shared instance.
	Pooled bool
}

// Result lists what Compile did.
type Result struct {
	Pools      []PoolSpec
	Resetters  []ResetterSpec
	Processors []string
	Proxified  []string
	Unmanaged  []string
}

// Compile returns the rewritten copy of g. The input graph is left untouched.
func Compile(g *graph.Graph, opts Options) (*graph.Graph, *Result, error) {
	out := g.Clone()
	result := &Result{}
	if !opts.Enabled {
		return out, result, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	ignored := map[string]bool{BlockingContainerID: true}
	for _, id := range opts.Ignore {
		ignored[id] = true
	}

	checkers, err := stabilityCheckers(out)
	if err != nil {
		return nil, nil, err
	}
	finals := FinalTypesProcessor{}
	p := &Proxifier{
		graph:           out,
		finals:          finals,
		checkers:        checkers,
		ignored:         ignored,
		defaultPoolSize: opts.DefaultPoolSize,
		proxified:       make(map[string]bool),
		result:          result,
		logger:          logger,
	}

	processors, err := registry.ordered(opts.Processors)
	if err != nil {
		return nil, nil, err
	}
	for _, np := range processors {
		if err := np.processor.Process(out, p); err != nil {
			return nil, nil, err
		}
		result.Processors = append(result.Processors, np.name)
		logger.Debug("compile processor done", zap.String("processor", np.name))
	}

	seeds, err := statefulSeeds(out, opts.StatefulServices, ignored)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range seeds {
		if ignored[id] || !out.Has(id) {
			continue
		}
		if def, _ := out.Get(id); def.HasTag(TagSafeStatefulService) {
			continue
		}
		if err := p.ProxifyService(id); err != nil {
			return nil, nil, err
		}
	}

	u := &UnmanagedFactoryProxifier{graph: out, defaultPoolSize: opts.DefaultPoolSize, result: result}
	for _, id := range out.FindTagged(TagUnmanagedFactory) {
		if ignored[id] || p.Proxified(id) {
			continue
		}
		if def, _ := out.Get(id); def.HasTag(TagDecoratedStatefulService) {
			continue
		}
		if err := u.ProxifyService(id); err != nil {
			return nil, nil, err
		}
	}

	p.collectSharedResetters()
	logger.Info("stateful services proxified",
		zap.Strings("services", result.Proxified),
		zap.Strings("unmanaged_factories", result.Unmanaged),
		zap.Int("resetters", len(result.Resetters)),
	)
	return out, result, nil
}

// statefulSeeds returns, without duplicates, the ids tagged reset, the ids
// tagged stateful_service, the configured ids and the mandatory ids.
func statefulSeeds(g *graph.Graph, configured []string, ignored map[string]bool) ([]string, error) {
	seen := make(map[string]bool)
	var seeds []string
	add := func(ids ...string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				seeds = append(seeds, id)
			}
		}
	}
	add(g.FindTagged(TagReset)...)
	add(g.FindTagged(TagStatefulService)...)
	for _, id := range configured {
		if ignored[id] {
			continue
		}
		if !g.Has(id) {
			return nil, &errdefs.ConfigError{Key: "coroutines_support.stateful_services", Reason: "unknown service " + id}
		}
		add(id)
	}
	add(MandatoryServices...)
	return seeds, nil
}

// stabilityCheckers maps supported types to the ids of their checkers.
func stabilityCheckers(g *graph.Graph) (map[reflect.Type]string, error) {
	checkers := make(map[reflect.Type]string)
	for _, id := range g.FindTagged(TagStabilityChecker) {
		def, _ := g.Get(id)
		v, ok := def.Attribute(TagStabilityChecker, "supports")
		supported, isType := v.(reflect.Type)
		if !ok || !isType {
			return nil, &errdefs.ConfigError{Key: id, Reason: "stability checker needs a reflect.Type supports attribute"}
		}
		checkers[supported] = id
	}
	return checkers, nil
}

func intAttribute(def *graph.Definition, tag, key string) (int, bool) {
	v, ok := def.Attribute(tag, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
