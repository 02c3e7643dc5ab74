package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "loan_engine"

var (
	// HTTPRequests counts handled requests by chi route pattern.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SchedulesComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "schedules_computed_total",
			Help:      "Amortization schedules computed, by caller",
		},
		[]string{"source"}, // preview, loan
	)

	PaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payments_recorded_total",
			Help:      "Payments applied, by resulting installment status",
		},
		[]string{"installment_status"},
	)

	PaymentsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payments_rejected_total",
			Help:      "Payments refused, by HTTP error code",
		},
		[]string{"code"},
	)

	OverdueMarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "installments_marked_overdue_total",
			Help:      "Installments moved to OVERDUE by sweeps",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "portfolio_cache_lookups_total",
			Help:      "Portfolio cache lookups by result",
		},
		[]string{"view", "result"}, // result: hit, miss, error
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the public rate limiter",
		},
	)
)
