package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the indicator service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec   // labels: method, route, status
	RequestDuration *prometheus.HistogramVec // labels: route

	ComputeDur   prometheus.Histogram
	StudiesTotal prometheus.Counter
	RowsTotal    prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	FetchFallbacks prometheus.Counter
	RejectedRows   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tayframe_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tayframe_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tayframe_compute_duration_seconds",
			Help:    "Time to evaluate and merge a set of studies",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		StudiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tayframe_studies_total",
			Help: "Studies evaluated",
		}),
		RowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tayframe_rows_total",
			Help: "Rows passed through a compute",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tayframe_cache_hits_total",
			Help: "Indicator responses served from the cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tayframe_cache_misses_total",
			Help: "Indicator responses computed on demand",
		}),

		FetchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tayframe_fetch_fallbacks_total",
			Help: "Requests that fetched history because the store was short",
		}),
		RejectedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tayframe_rejected_rows_total",
			Help: "Rows dropped by validation before compute",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ComputeDur,
		m.StudiesTotal,
		m.RowsTotal,
		m.CacheHits,
		m.CacheMisses,
		m.FetchFallbacks,
		m.RejectedRows,
	)
	return m
}
