package digo_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/centraunit/digo"
	"github.com/centraunit/digo/coroutine"
	"github.com/centraunit/digo/graph"
	"github.com/centraunit/digo/mock"
	"github.com/centraunit/digo/proxify"
)

type ContainerTestSuite struct {
	suite.Suite
	b *digo.Builder
}

func (s *ContainerTestSuite) SetupTest() {
	s.b = digo.NewBuilder()
}

func (s *ContainerTestSuite) build() *digo.Container {
	c, err := s.b.Build()
	s.Require().NoError(err)
	return c
}

func (s *ContainerTestSuite) TestSingletonIsShared() {
	var built atomic.Int64
	s.NoError(digo.BindSingleton[*mock.StatefulSession](s.b, func(context.Context, graph.Resolver) (*mock.StatefulSession, error) {
		return &mock.StatefulSession{Serial: built.Add(1)}, nil
	}))
	c := s.build()

	first, err := digo.Resolve[*mock.StatefulSession](context.Background(), c)
	s.NoError(err)
	second, err := digo.Resolve[*mock.StatefulSession](context.Background(), c)
	s.NoError(err)
	s.Same(first, second)
	s.Equal(int64(1), built.Load())
	s.True(c.Initialized(digo.ID[*mock.StatefulSession]()))
}

func (s *ContainerTestSuite) TestTransientIsBuiltEachTime() {
	s.NoError(digo.BindTransient[*mock.StatefulSession](s.b, func(context.Context, graph.Resolver) (*mock.StatefulSession, error) {
		return &mock.StatefulSession{}, nil
	}))
	c := s.build()

	first, err := digo.Resolve[*mock.StatefulSession](context.Background(), c)
	s.NoError(err)
	second, err := digo.Resolve[*mock.StatefulSession](context.Background(), c)
	s.NoError(err)
	s.NotSame(first, second)
	s.False(c.Initialized(digo.ID[*mock.StatefulSession]()))
	s.Equal(int64(2), c.Constructions())
}

func (s *ContainerTestSuite) TestNestedDependencies() {
	db := &mock.MockDB{}
	s.NoError(digo.BindValue[mock.Database](s.b, db))
	s.NoError(digo.BindSingleton[*mock.StatefulSession](s.b, func(ctx context.Context, r graph.Resolver) (*mock.StatefulSession, error) {
		dep, err := digo.Resolve[mock.Database](ctx, r)
		if err != nil {
			return nil, err
		}
		out, err := dep.Query("session")
		if err != nil {
			return nil, err
		}
		return &mock.StatefulSession{State: out}, nil
	}))
	c := s.build()

	session, err := digo.Resolve[*mock.StatefulSession](context.Background(), c)
	s.NoError(err)
	s.Equal("ok:session", session.State)
	s.Equal([]string{"session"}, db.Queries)
}

func (s *ContainerTestSuite) TestWithIDAndResolveID() {
	s.NoError(digo.BindValue[mock.Database](s.b, &mock.MockDB{}, digo.WithID("db.primary")))
	c := s.build()

	s.True(c.Has("db.primary"))
	s.False(c.Has(digo.ID[mock.Database]()))
	db, err := digo.ResolveID[mock.Database](context.Background(), c, "db.primary")
	s.NoError(err)
	s.NotNil(db)
}

func (s *ContainerTestSuite) TestErrorCases() {
	s.Run("BindingNotFound", func() {
		c := s.build()
		_, err := c.Get(context.Background(), "missing")
		var notFound *digo.BindingNotFoundError
		s.True(errors.As(err, &notFound))
		s.Equal("missing", notFound.ID)
	})

	s.Run("NilValue", func() {
		b := digo.NewBuilder()
		err := digo.BindValue[mock.Database](b, nil)
		var nilErr *digo.NilServiceError
		s.True(errors.As(err, &nilErr))
		_, err = b.Build()
		s.True(errors.As(err, &nilErr))
	})

	s.Run("NilFromFactory", func() {
		b := digo.NewBuilder()
		s.NoError(digo.BindSingleton[mock.Database](b, func(context.Context, graph.Resolver) (mock.Database, error) {
			return nil, nil
		}))
		c, err := b.Build()
		s.Require().NoError(err)
		_, err = c.Get(context.Background(), digo.ID[mock.Database]())
		var nilErr *digo.NilServiceError
		s.True(errors.As(err, &nilErr))
	})

	s.Run("FactoryFailure", func() {
		b := digo.NewBuilder()
		s.NoError(digo.BindSingleton[mock.Database](b, func(context.Context, graph.Resolver) (mock.Database, error) {
			return nil, errors.New("dial failed")
		}))
		c, err := b.Build()
		s.Require().NoError(err)
		_, err = c.Get(context.Background(), digo.ID[mock.Database]())
		var initErr *digo.InitializationError
		s.True(errors.As(err, &initErr))
		s.EqualError(errors.Unwrap(err), "dial failed")
		s.False(c.Initialized(digo.ID[mock.Database]()))
	})

	s.Run("PoolSizeOutsideCoroutineScope", func() {
		b := digo.NewBuilder()
		err := digo.BindSingleton[mock.Database](b, func(context.Context, graph.Resolver) (mock.Database, error) {
			return &mock.MockDB{}, nil
		}, digo.WithPoolSize(2))
		var scopeErr *digo.InvalidScopeError
		s.True(errors.As(err, &scopeErr))
		s.Equal(digo.ScopeSingleton, scopeErr.Scope)
	})

	s.Run("TypeMismatch", func() {
		b := digo.NewBuilder()
		s.NoError(digo.BindValue[mock.Database](b, &mock.MockDB{}, digo.WithID("db")))
		c, err := b.Build()
		s.Require().NoError(err)
		_, err = digo.ResolveID[mock.Session](context.Background(), c, "db")
		var mismatch *digo.TypeMismatchError
		s.True(errors.As(err, &mismatch))
	})

	s.Run("ReservedID", func() {
		b := digo.NewBuilder()
		s.Error(b.Register(&graph.Definition{ID: proxify.BlockingContainerID}))
		_, err := b.Build()
		s.Error(err)
	})
}

func (s *ContainerTestSuite) TestCircularDependency() {
	s.NoError(digo.BindSingleton[mock.Database](s.b, func(ctx context.Context, r graph.Resolver) (mock.Database, error) {
		_, err := digo.Resolve[mock.Session](ctx, r)
		return &mock.MockDB{}, err
	}))
	s.NoError(digo.BindSingleton[mock.Session](s.b, func(ctx context.Context, r graph.Resolver) (mock.Session, error) {
		_, err := digo.Resolve[mock.Database](ctx, r)
		return &mock.StatefulSession{}, err
	}))
	c := s.build()

	_, err := c.Get(context.Background(), digo.ID[mock.Database]())
	var circular *digo.CircularDependencyError
	s.Require().True(errors.As(err, &circular))
	s.Equal(digo.ID[mock.Database](), circular.ID)
	s.Equal([]string{digo.ID[mock.Database](), digo.ID[mock.Session](), digo.ID[mock.Database]()}, circular.Chain)

	// the failed resolution leaves no state behind
	_, err = c.Get(context.Background(), digo.ID[mock.Session]())
	s.True(errors.As(err, &circular))
	s.Equal(digo.ID[mock.Session](), circular.ID)
}

func (s *ContainerTestSuite) TestLifecycle() {
	db := &mock.MockDB{}
	s.NoError(digo.BindSingleton[mock.Database](s.b, func(context.Context, graph.Resolver) (mock.Database, error) {
		return db, nil
	}))
	c := s.build()

	s.False(db.IsBooted())
	s.NoError(c.Boot(context.Background()))
	s.True(db.IsBooted())
	s.True(c.Initialized(digo.ID[mock.Database]()))

	s.NoError(c.Shutdown())
	s.Equal(1, db.Shutdowns())
	s.False(c.Initialized(digo.ID[mock.Database]()))
	s.NoError(c.Shutdown())
	s.Equal(1, db.Shutdowns())
}

type failingShutdown struct{ mock.MockDB }

func (f *failingShutdown) OnShutdown(*digo.ContainerContext) error {
	return errors.New("still busy")
}

func (s *ContainerTestSuite) TestShutdownCollectsErrors() {
	s.NoError(digo.BindValue[*failingShutdown](s.b, &failingShutdown{}))
	c := s.build()
	_, err := c.Get(context.Background(), digo.ID[*failingShutdown]())
	s.Require().NoError(err)

	err = c.Shutdown()
	var shutdownErr *digo.ShutdownError
	s.Require().True(errors.As(err, &shutdownErr))
	s.Equal(digo.ID[*failingShutdown](), shutdownErr.ID)
}

func (s *ContainerTestSuite) TestContainerContext() {
	ctx := digo.NewContainerContext(context.Background()).WithValue("region", "eu")
	b := digo.NewBuilder(digo.WithContainerContext(ctx))
	s.NoError(digo.BindValue[mock.Database](b, &mock.MockDB{}))
	c, err := b.Build()
	s.Require().NoError(err)

	s.Equal("eu", c.Context().Value("region"))
	v, err := c.Context().Get(digo.ID[mock.Database]())
	s.NoError(err)
	s.NotNil(v)
	self, err := c.Context().Get(proxify.BlockingContainerID)
	s.NoError(err)
	s.Same(c, self)

	_, err = ctx.Get(digo.ID[mock.Database]())
	var notFound *digo.BindingNotFoundError
	s.True(errors.As(err, &notFound))

	merged := ctx.MergeWith(digo.NewContainerContext(nil).WithValue("region", "us"))
	s.Equal("us", merged.Value("region"))
	s.Equal("eu", ctx.Value("region"))
}

func (s *ContainerTestSuite) TestContainerContextCoroutineID() {
	ctx := digo.NewContainerContext(context.Background())
	s.Zero(ctx.CoroutineID())

	bound := digo.NewContainerContext(coroutine.WithID(context.Background(), 7))
	s.Equal(int64(7), bound.CoroutineID())

	s.NoError(coroutine.Run(context.Background(), func(context.Context) error {
		s.Equal(coroutine.ID(), ctx.CoroutineID())
		return nil
	}))
}

// Two goroutines asking for a shared service nobody built yet must get the
// same instance from a single factory run.
func (s *ContainerTestSuite) TestBlockingContainerBuildsSharedOnce() {
	var built atomic.Int64
	s.NoError(digo.BindSingleton[mock.Database](s.b, func(context.Context, graph.Resolver) (mock.Database, error) {
		built.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &mock.MockDB{}, nil
	}))
	c := s.build()

	var (
		start   = make(chan struct{})
		results sync.Map
		g       errgroup.Group
	)
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			<-start
			db, err := digo.Resolve[mock.Database](context.Background(), c)
			results.Store(i, db)
			return err
		})
	}
	close(start)
	s.Require().NoError(g.Wait())

	first, _ := results.Load(0)
	second, _ := results.Load(1)
	s.Same(first, second)
	s.Equal(int64(1), built.Load())
	s.Equal(int64(1), c.Constructions())
}

func (s *ContainerTestSuite) TestBlockingContainerHonoursContext() {
	release := make(chan struct{})
	entered := make(chan struct{})
	s.NoError(digo.BindSingleton[mock.Database](s.b, func(context.Context, graph.Resolver) (mock.Database, error) {
		close(entered)
		<-release
		return &mock.MockDB{}, nil
	}))
	s.NoError(digo.BindSingleton[mock.Session](s.b, func(context.Context, graph.Resolver) (mock.Session, error) {
		return &mock.StatefulSession{}, nil
	}))
	c := s.build()

	var g errgroup.Group
	g.Go(func() error {
		_, err := c.Get(context.Background(), digo.ID[mock.Database]())
		return err
	})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, digo.ID[mock.Session]())
	s.ErrorIs(err, context.DeadlineExceeded)

	close(release)
	s.NoError(g.Wait())
	_, err = c.Get(context.Background(), digo.ID[mock.Session]())
	s.NoError(err)
}

func (s *ContainerTestSuite) TestLogger() {
	var buf bytes.Buffer
	logger := digo.NewLoggerTo(&buf, zapcore.InfoLevel, zap.String("app", "test"))
	b := digo.NewBuilder(digo.WithLogger(logger))
	s.NoError(digo.BindValue[mock.Database](b, &mock.MockDB{}))
	_, err := b.Build()
	s.Require().NoError(err)
	s.NoError(logger.Sync())

	s.Contains(buf.String(), `"msg":"container built"`)
	s.Contains(buf.String(), `"app":"test"`)
	s.NotContains(buf.String(), `"level":"debug"`)
}

func TestContainerSuite(t *testing.T) {
	suite.Run(t, new(ContainerTestSuite))
}
