package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	digo "github.com/centraunit/digo"
)

// Core interfaces
type Session interface {
	Set(key, value string)
	Get(key string) string
	Owner() int64
}

type Database interface {
	PingContext(ctx context.Context) error
	Query(q string) (string, error)
}

// StatefulSession keeps per-request values; Reset wipes them.
type StatefulSession struct {
	Serial int64
	State  string
	values map[string]string
	owner  int64
	resets int
}

func (s *StatefulSession) Set(key, value string) {
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
	s.State = "dirty"
}

func (s *StatefulSession) Get(key string) string {
	return s.values[key]
}

func (s *StatefulSession) Owner() int64 {
	return s.owner
}

func (s *StatefulSession) Claim(owner int64) {
	s.owner = owner
}

func (s *StatefulSession) Reset() {
	s.values = nil
	s.State = "clean"
	s.owner = 0
	s.resets++
}

func (s *StatefulSession) Resets() int {
	return s.resets
}

// SessionProxy forwards every call to the session borrowed by the calling goroutine.
type SessionProxy struct {
	Delegate interface {
		Instance(ctx context.Context) (any, error)
	}
}

func (p SessionProxy) session() Session {
	instance, err := p.Delegate.Instance(context.Background())
	if err != nil {
		panic(err)
	}
	return instance.(Session)
}

func (p SessionProxy) Set(key, value string) { p.session().Set(key, value) }
func (p SessionProxy) Get(key string) string { return p.session().Get(key) }
func (p SessionProxy) Owner() int64          { return p.session().Owner() }

// SessionFactory counts every session it builds.
type SessionFactory struct {
	built atomic.Int64
	Fail  atomic.Bool
	Hook  func()
}

func (f *SessionFactory) New(ctx context.Context) (any, error) {
	if f.Hook != nil {
		f.Hook()
	}
	if f.Fail.Load() {
		return nil, errors.New("simulated construction failure")
	}
	n := f.built.Add(1)
	return &StatefulSession{Serial: n, State: "clean"}, nil
}

func (f *SessionFactory) Built() int64 {
	return f.built.Load()
}

// MockDB is a connection that may break.
type MockDB struct {
	mu        sync.Mutex
	Broken    bool
	Queries   []string
	booted    bool
	shutdowns int
}

func (m *MockDB) PingContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return errors.New("connection closed")
	}
	return nil
}

func (m *MockDB) Query(q string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Broken {
		return "", errors.New("connection closed")
	}
	m.Queries = append(m.Queries, q)
	return "ok:" + q, nil
}

func (m *MockDB) Break() {
	m.mu.Lock()
	m.Broken = true
	m.mu.Unlock()
}

func (m *MockDB) OnBoot(ctx *digo.ContainerContext) error {
	m.booted = true
	return nil
}

func (m *MockDB) OnShutdown(ctx *digo.ContainerContext) error {
	m.shutdowns++
	return nil
}

func (m *MockDB) IsBooted() bool {
	return m.booted
}

func (m *MockDB) Shutdowns() int {
	return m.shutdowns
}

// Connection factory producing MockDB values outside the container.
type ConnectionFactory struct {
	made atomic.Int64
}

func (f *ConnectionFactory) Connect() (*MockDB, error) {
	f.made.Add(1)
	return &MockDB{}, nil
}

func (f *ConnectionFactory) Made() int64 {
	return f.made.Load()
}
