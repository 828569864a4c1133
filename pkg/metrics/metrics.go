// Package metrics exposes engine counters, histograms and gauges for Prometheus.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without checks at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Collector holds the engine metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	enqueued          prometheus.Counter
	dispatched        prometheus.Counter
	rejected          prometheus.Counter
	claimLost         prometheus.Counter
	processed         *prometheus.CounterVec
	groupStatus       *prometheus.CounterVec
	groupInconsistent prometheus.Counter
	duration          prometheus.Histogram
	poolActive        prometheus.Gauge
	poolQueued        prometheus.Gauge
}

// NewCollector creates a collector with its own registry. Go runtime and
// process collectors are registered as well.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ops_operations_enqueued_total",
			Help: "Total number of operations enqueued",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ops_operations_dispatched_total",
			Help: "Total number of operations accepted by the worker pool",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ops_operations_rejected_total",
			Help: "Total number of operations rejected by a saturated worker pool",
		}),
		claimLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ops_operations_claim_lost_total",
			Help: "Total number of claims lost to a concurrent worker",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_operations_processed_total",
			Help: "Total number of processed operations by resulting status",
		}, []string{"status"}),
		groupStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_group_status_total",
			Help: "Total number of group status changes by new status",
		}, []string{"status"}),
		groupInconsistent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ops_group_inconsistent_total",
			Help: "Total number of aggregations that found no matching rule",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ops_operation_duration_seconds",
			Help:    "Time spent processing one operation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ops_pool_active",
			Help: "Current number of tasks running in the worker pool",
		}),
		poolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ops_pool_queued",
			Help: "Current number of tasks waiting in the worker pool queue",
		}),
	}

	c.registry.MustRegister(
		c.enqueued,
		c.dispatched,
		c.rejected,
		c.claimLost,
		c.processed,
		c.groupStatus,
		c.groupInconsistent,
		c.duration,
		c.poolActive,
		c.poolQueued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordEnqueued() {
	if c == nil {
		return
	}
	c.enqueued.Inc()
}

func (c *Collector) RecordDispatched() {
	if c == nil {
		return
	}
	c.dispatched.Inc()
}

func (c *Collector) RecordRejected() {
	if c == nil {
		return
	}
	c.rejected.Inc()
}

func (c *Collector) RecordClaimLost() {
	if c == nil {
		return
	}
	c.claimLost.Inc()
}

// RecordProcessed counts a processed operation and observes how long it took.
func (c *Collector) RecordProcessed(status core.OperationStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.processed.WithLabelValues(string(status)).Inc()
	c.duration.Observe(d.Seconds())
}

func (c *Collector) RecordGroupStatus(status core.GroupStatus) {
	if c == nil {
		return
	}
	c.groupStatus.WithLabelValues(string(status)).Inc()
}

func (c *Collector) RecordGroupInconsistent() {
	if c == nil {
		return
	}
	c.groupInconsistent.Inc()
}

// UpdatePoolStats sets the pool gauges.
func (c *Collector) UpdatePoolStats(active, queued int) {
	if c == nil {
		return
	}
	c.poolActive.Set(float64(active))
	c.poolQueued.Set(float64(queued))
}
