// Package metrics exposes Prometheus collectors for the HTTP API and the
// reading flow.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tarot"

// Metrics holds the application collectors and their registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight      prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	phaseTransitions  *prometheus.CounterVec
	interpretAttempts *prometheus.CounterVec
	credits           *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"method", "route"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reading",
			Name:      "phase_transitions_total",
			Help:      "Committed reading phase changes.",
		}, []string{"from", "to"}),
		interpretAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interpret",
			Name:      "attempts_total",
			Help:      "Interpretation attempts by outcome.",
		}, []string{"outcome"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "moved_total",
			Help:      "Credits deducted, granted or refunded.",
		}, []string{"kind"}),
	}
	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.phaseTransitions,
		m.interpretAttempts,
		m.credits,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// PhaseTransition counts a committed phase change.
func (m *Metrics) PhaseTransition(from, to string) {
	m.phaseTransitions.WithLabelValues(from, to).Inc()
}

// InterpretAttempt counts one attempt of the retrying interpreter.
func (m *Metrics) InterpretAttempt(outcome string) {
	m.interpretAttempts.WithLabelValues(outcome).Inc()
}

// CreditsMoved adds amount to the total for kind.
func (m *Metrics) CreditsMoved(kind string, amount int64) {
	m.credits.WithLabelValues(kind).Add(float64(amount))
}

// TrackLiveSessions reports fn as the live reading sessions gauge.
func (m *Metrics) TrackLiveSessions(fn func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reading",
		Name:      "live_sessions",
		Help:      "Reading sessions currently held in memory.",
	}, func() float64 { return float64(fn()) }))
}
