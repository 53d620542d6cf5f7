// Package metrics exposes Prometheus collectors for the order lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orderflow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orderflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ordersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderflow",
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Total number of orders created.",
		},
	)

	paymentsConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orderflow",
			Subsystem: "payments",
			Name:      "confirmed_total",
			Help:      "Total number of payments confirmed.",
		},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderflow",
			Subsystem: "generation",
			Name:      "runs_total",
			Help:      "Total number of generation runs by outcome.",
		},
		[]string{"outcome"}, // completed, review_required, failed
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orderflow",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time of generation runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
	)

	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderflow",
			Subsystem: "downloads",
			Name:      "served_total",
			Help:      "Download attempts by result.",
		},
		[]string{"result"}, // ok, expired, limit_reached, not_found
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orderflow",
			Subsystem: "refunds",
			Name:      "issued_total",
			Help:      "Refund attempts by result.",
		},
		[]string{"result"}, // ok, noop, error
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ordersCreated,
		paymentsConfirmed,
		generations,
		generationDuration,
		downloads,
		refunds,
	)
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight bumps the in-flight HTTP gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight lowers the in-flight HTTP gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOrderCreated counts a new order.
func RecordOrderCreated() { ordersCreated.Inc() }

// RecordPaymentConfirmed counts a confirmed payment.
func RecordPaymentConfirmed() { paymentsConfirmed.Inc() }

// RecordGeneration counts a generation run and its wall time.
func RecordGeneration(outcome string, duration time.Duration) {
	generations.WithLabelValues(outcome).Inc()
	generationDuration.Observe(duration.Seconds())
}

// RecordDownload counts a download attempt.
func RecordDownload(result string) { downloads.WithLabelValues(result).Inc() }

// RecordRefund counts a refund attempt.
func RecordRefund(result string) { refunds.WithLabelValues(result).Inc() }
