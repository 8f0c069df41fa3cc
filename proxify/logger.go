package proxify

import (
	"context"
	"reflect"

	"go.uber.org/zap/zapcore"

	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/servicepool"
)

// TagLoggerHandler marks zapcore.Core services that buffer entries and must
// therefore belong to a single coroutine at a time.
const TagLoggerHandler = "logger.handler"

var coreType = reflect.TypeOf((*zapcore.Core)(nil)).Elem()

// LoggerProcessor proxifies every definition tagged logger.handler behind a
// zapcore.Core proxy. Pooled cores are synced when their coroutine ends.
type LoggerProcessor struct{}

func (LoggerProcessor) Process(g *graph.Graph, p *Proxifier) error {
	for _, id := range g.FindTagged(TagLoggerHandler) {
		def, _ := g.Get(id)
		if def.ProxyFactory == nil {
			def.ProxyFactory = NewCoreProxy
			def.Implements = append(def.Implements, coreType)
		}
		if def.ResetMethod == "" {
			def.ResetMethod = "Sync"
		}
		def.Resettable = true
		if err := p.ProxifyService(id); err != nil {
			return err
		}
	}
	return nil
}

// coreProxy resolves the core of the calling coroutine on every call. Calls
// from goroutines running no coroutine borrow nothing, so the proxy reports
// every level disabled to them.
type coreProxy struct {
	d      servicepool.Delegate
	fields []zapcore.Field
}

// NewCoreProxy returns a zapcore.Core forwarding to the core borrowed by the
// calling goroutine.
func NewCoreProxy(d servicepool.Delegate) any {
	return &coreProxy{d: d}
}

func (c *coreProxy) core() (zapcore.Core, error) {
	core, err := servicepool.Borrow[zapcore.Core](context.Background(), c.d)
	if err != nil {
		return nil, err
	}
	if len(c.fields) > 0 {
		core = core.With(c.fields)
	}
	return core, nil
}

func (c *coreProxy) Enabled(level zapcore.Level) bool {
	core, err := c.core()
	if err != nil {
		return false
	}
	return core.Enabled(level)
}

func (c *coreProxy) With(fields []zapcore.Field) zapcore.Core {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	return &coreProxy{d: c.d, fields: all}
}

func (c *coreProxy) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *coreProxy) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	core, err := c.core()
	if err != nil {
		return err
	}
	return core.Write(entry, fields)
}

func (c *coreProxy) Sync() error {
	core, err := c.core()
	if err != nil {
		return err
	}
	return core.Sync()
}
