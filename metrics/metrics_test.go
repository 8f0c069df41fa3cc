package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/centraunit/digo/coroutine"
	"github.com/centraunit/digo/servicepool"
)

func TestCollectorReportsPools(t *testing.T) {
	require := require.New(t)
	pool := servicepool.NewPool("session", 2, func(context.Context) (any, error) { return new(int), nil })
	pools := servicepool.NewContainer([]*servicepool.Pool{pool}, nil)
	_, err := pool.Get(context.Background(), 1)
	require.NoError(err)

	const expected = `
# HELP digo_service_pool_borrowed Instances borrowed by running coroutines
# TYPE digo_service_pool_borrowed gauge
digo_service_pool_borrowed{service="session"} 1
# HELP digo_service_pool_created_total Instances built by the pool
# TYPE digo_service_pool_created_total counter
digo_service_pool_created_total{service="session"} 1
# HELP digo_service_pool_size Maximum number of instances of the pool
# TYPE digo_service_pool_size gauge
digo_service_pool_size{service="session"} 2
`
	c := NewCollector(pools)
	require.NoError(testutil.CollectAndCompare(c, strings.NewReader(expected),
		"digo_service_pool_borrowed", "digo_service_pool_created_total", "digo_service_pool_size"))

	pools.ReleaseForCoroutine(1)
	require.Equal(5, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(reg.Register(c))
}

func TestCoroutinesHook(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	m, err := NewCoroutines(reg)
	require.NoError(err)

	for i := 0; i < 3; i++ {
		require.NoError(coroutine.Run(context.Background(), func(context.Context) error {
			require.Equal(float64(0), testutil.ToFloat64(m.finished)-float64(i))
			return nil
		}, m.Hook()))
	}
	require.Equal(float64(3), testutil.ToFloat64(m.started))
	require.Equal(float64(3), testutil.ToFloat64(m.finished))
	require.Equal(1, testutil.CollectAndCount(m.duration))

	_, err = NewCoroutines(reg)
	require.Error(err)
}
