// Package metrics exposes the engine and HTTP counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "affinity"

// Collector holds every metric the process exports. Each Collector owns its
// registry, so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Recalculations     *prometheus.CounterVec
	Sweeps             *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	AutoLinksFound     prometheus.Histogram
	CacheInvalidations *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	PairsScored        prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Recalculations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recalculations_total",
				Help:      "Single-item recalculations by outcome (ok, skipped, failed).",
			},
			[]string{"result"},
		),
		Sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Batch sweeps by trigger.",
			},
			[]string{"trigger"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Wall time of batch sweeps.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		AutoLinksFound: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auto_links_found",
				Help:      "Automatic links retained per recalculated item.",
				Buckets:   prometheus.LinearBuckets(0, 1, 11),
			},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Graph cache invalidations by status (ok, error).",
			},
			[]string{"status"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Graph cache reads by result (hit, miss).",
			},
			[]string{"result"},
		),
		PairsScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_scored_total",
				Help:      "Candidate pairs evaluated by the proximity scorer.",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.Recalculations,
		c.Sweeps,
		c.SweepDuration,
		c.AutoLinksFound,
		c.CacheInvalidations,
		c.CacheLookups,
		c.PairsScored,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the collector's registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route, status string, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
