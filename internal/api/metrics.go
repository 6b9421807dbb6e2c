package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics holds the server's Prometheus collectors on a private registry,
// so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	scoredTotal     *prometheus.CounterVec
	disposedTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the server collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		scoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "transactions_scored_total",
			Help:      "Transactions scored on creation by risk level.",
		}, []string{"risk_level"}),
		disposedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "transactions_disposed_total",
			Help:      "Reviewer dispositions by outcome.",
		}, []string{"disposition"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.scoredTotal,
		m.disposedTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency, labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(statusOf(ww))).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) observeScored(level domain.RiskLevel) {
	m.scoredTotal.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) observeDisposed(to domain.Disposition) {
	m.disposedTotal.WithLabelValues(string(to)).Inc()
}
