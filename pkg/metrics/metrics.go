// Package metrics exposes proxy counters for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gatelift Prometheus collectors on a private
// registry so the default registry stays untouched.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	SolvesTotal      *prometheus.CounterVec
	RedemptionsTotal *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	SolveDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatelift_requests_total",
			Help: "Proxied requests by final outcome",
		},
		[]string{"outcome"},
	)
	m.SolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatelift_solves_total",
			Help: "Challenge solves by algorithm and result",
		},
		[]string{"algorithm", "result"},
	)
	m.RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatelift_redemptions_total",
			Help: "Redemption submissions by result",
		},
		[]string{"result"},
	)
	m.CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatelift_token_cache_hits_total",
			Help: "Token cache hits",
		},
	)
	m.CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatelift_token_cache_misses_total",
			Help: "Token cache misses",
		},
	)
	m.SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatelift_solve_duration_seconds",
			Help:    "Challenge solve duration by algorithm",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"algorithm"},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.SolvesTotal,
		m.RedemptionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SolveDuration,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
