package proxify

import (
	"context"
	"database/sql"
	"reflect"
	"time"

	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/servicepool"
)

// TagSQLConnection marks database handles that must not be shared between
// coroutines, typically *sql.Conn values holding a session.
const TagSQLConnection = "database.connection"

// SQLCheckerPrefix prefixes the ids of the ping checkers defined by SQLProcessor.
const SQLCheckerPrefix = "digo.stability_checker.sql."

// Conn is the part of *sql.Conn and *sql.DB reachable through a proxy.
type Conn interface {
	PingContext(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var connType = reflect.TypeOf((*Conn)(nil)).Elem()

// SQLProcessor proxifies every definition tagged database.connection behind
// a typed Conn proxy, and drops connections whose ping fails.
type SQLProcessor struct{}

func (SQLProcessor) Process(g *graph.Graph, p *Proxifier) error {
	for _, id := range g.FindTagged(TagSQLConnection) {
		def, _ := g.Get(id)
		if def.ProxyFactory == nil {
			def.ProxyFactory = NewConnProxy
			def.Implements = append(def.Implements, connType)
		}
		if def.Type != nil && def.StabilityChecker == "" {
			checkerID := SQLCheckerPrefix + id
			checked := def.Type
			g.Set(&graph.Definition{
				ID:     checkerID,
				Type:   reflect.TypeOf(servicepool.PingChecker{}),
				Shared: true,
				Factory: func(context.Context, graph.Resolver) (any, error) {
					return servicepool.PingChecker{Type: checked, Timeout: time.Second}, nil
				},
				Tags: []graph.Tag{{Name: TagStabilityChecker, Attributes: map[string]any{"supports": checked}}},
			})
			def.StabilityChecker = checkerID
		}
		if err := p.ProxifyService(id); err != nil {
			return err
		}
	}
	return nil
}

type connProxy struct {
	d servicepool.Delegate
}

// NewConnProxy returns a Conn forwarding to the connection borrowed by the
// coroutine of each call's context.
func NewConnProxy(d servicepool.Delegate) any {
	return connProxy{d: d}
}

func (c connProxy) PingContext(ctx context.Context) error {
	conn, err := servicepool.Borrow[Conn](ctx, c.d)
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

func (c connProxy) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := servicepool.Borrow[Conn](ctx, c.d)
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

func (c connProxy) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := servicepool.Borrow[Conn](ctx, c.d)
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

func (c connProxy) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	conn, err := servicepool.Borrow[Conn](ctx, c.d)
	if err != nil {
		return nil, err
	}
	return conn.BeginTx(ctx, opts)
}
