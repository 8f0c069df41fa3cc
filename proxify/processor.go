package proxify

import (
	"sort"
	"sync"

	"github.com/centraunit/digo/config"
	"github.com/centraunit/digo/errdefs"
	"github.com/centraunit/digo/graph"
)

// CompileProcessor visits the graph before the stateful services are
// proxified. Processors usually tag definitions or proxify them directly.
type CompileProcessor interface {
	Process(g *graph.Graph, p *Proxifier) error
}

// ProcessorFunc adapts a function to CompileProcessor.
type ProcessorFunc func(g *graph.Graph, p *Proxifier) error

func (f ProcessorFunc) Process(g *graph.Graph, p *Proxifier) error {
	return f(g, p)
}

// Names of the built-in processors.
const (
	ProcessorSQL    = "sql"
	ProcessorLogger = "logger"
)

// BuiltinProcessors run before the configured ones at equal priority.
var BuiltinProcessors = []config.CompileProcessor{
	{Class: ProcessorSQL, Priority: 0},
	{Class: ProcessorLogger, Priority: 0},
}

// Registry maps processor names to processors.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]CompileProcessor
}

// NewRegistry creates a registry holding the built-in processors.
func NewRegistry() *Registry {
	r := &Registry{processors: make(map[string]CompileProcessor)}
	r.Register(ProcessorSQL, SQLProcessor{})
	r.Register(ProcessorLogger, LoggerProcessor{})
	return r
}

// DefaultRegistry is used by Compile when Options.Registry is nil.
var DefaultRegistry = NewRegistry()

// RegisterProcessor adds p to DefaultRegistry under name.
func RegisterProcessor(name string, p CompileProcessor) {
	DefaultRegistry.Register(name, p)
}

// Register adds p under name, replacing a previous processor of that name.
func (r *Registry) Register(name string, p CompileProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = p
}

// Lookup returns the processor registered under name.
func (r *Registry) Lookup(name string) (CompileProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	return p, ok
}

type namedProcessor struct {
	name      string
	priority  int
	processor CompileProcessor
}

// ordered resolves the built-in and configured processors in execution
// order: higher priority first, declaration order within a priority.
func (r *Registry) ordered(configured []config.CompileProcessor) ([]namedProcessor, error) {
	all := make([]config.CompileProcessor, 0, len(BuiltinProcessors)+len(configured))
	all = append(all, BuiltinProcessors...)
	all = append(all, configured...)

	processors := make([]namedProcessor, 0, len(all))
	for _, c := range all {
		p, ok := r.Lookup(c.Class)
		if !ok {
			return nil, &errdefs.ConfigError{Key: "coroutines_support.compile_processors", Reason: "unknown processor " + c.Class}
		}
		processors = append(processors, namedProcessor{name: c.Class, priority: c.Priority, processor: p})
	}
	sort.SliceStable(processors, func(i, j int) bool {
		return processors[i].priority > processors[j].priority
	})
	return processors, nil
}
