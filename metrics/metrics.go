// Package metrics exports service pool and coroutine metrics to prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/centraunit/digo/coroutine"
	"github.com/centraunit/digo/servicepool"
)

const namespace = "digo"

var (
	poolSizeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "service_pool", "size"),
		"Maximum number of instances of the pool",
		[]string{"service"}, nil)
	poolFreeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "service_pool", "free"),
		"Instances waiting in the pool",
		[]string{"service"}, nil)
	poolBorrowedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "service_pool", "borrowed"),
		"Instances borrowed by running coroutines",
		[]string{"service"}, nil)
	poolCreatedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "service_pool", "created_total"),
		"Instances built by the pool",
		[]string{"service"}, nil)
	poolDiscardedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "service_pool", "discarded_total"),
		"Instances dropped by the pool",
		[]string{"service"}, nil)
)

// Collector reports the state of every pool of a service pool container on
// each scrape.
type Collector struct {
	pools *servicepool.Container
}

// NewCollector creates a Collector over pools.
func NewCollector(pools *servicepool.Container) *Collector {
	return &Collector{pools: pools}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolSizeDesc
	ch <- poolFreeDesc
	ch <- poolBorrowedDesc
	ch <- poolCreatedDesc
	ch <- poolDiscardedDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.pools.Stats() {
		ch <- prometheus.MustNewConstMetric(poolSizeDesc, prometheus.GaugeValue, float64(s.Size), s.ID)
		ch <- prometheus.MustNewConstMetric(poolFreeDesc, prometheus.GaugeValue, float64(s.Free), s.ID)
		ch <- prometheus.MustNewConstMetric(poolBorrowedDesc, prometheus.GaugeValue, float64(s.Borrowed), s.ID)
		ch <- prometheus.MustNewConstMetric(poolCreatedDesc, prometheus.CounterValue, float64(s.Created), s.ID)
		ch <- prometheus.MustNewConstMetric(poolDiscardedDesc, prometheus.CounterValue, float64(s.Discarded), s.ID)
	}
}

// Coroutines counts coroutines and measures how long they run.
type Coroutines struct {
	started  prometheus.Counter
	finished prometheus.Counter
	duration prometheus.Histogram
}

// NewCoroutines creates the coroutine metrics and registers them with reg.
func NewCoroutines(reg prometheus.Registerer) (*Coroutines, error) {
	c := &Coroutines{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coroutine",
			Name:      "started_total",
			Help:      "total coroutines started",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coroutine",
			Name:      "finished_total",
			Help:      "total coroutines finished",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coroutine",
			Name:      "duration_seconds",
			Help:      "execution time of each coroutine",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, collector := range []prometheus.Collector{c.started, c.finished, c.duration} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Hook returns a start hook recording the coroutine it runs in.
func (c *Coroutines) Hook() coroutine.StartHook {
	return func(ctx context.Context, id int64) error {
		start := time.Now()
		c.started.Inc()
		coroutine.Defer(func() {
			c.finished.Inc()
			c.duration.Observe(time.Since(start).Seconds())
		})
		return nil
	}
}
