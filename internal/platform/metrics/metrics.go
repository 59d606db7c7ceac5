package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide Prometheus metrics.
type Metrics struct {
	Registry        *prometheus.Registry
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	DependencyReady *prometheus.GaugeVec
}

// New creates a registry with Go and process collectors plus HTTP metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkpoint_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 45},
		}, []string{"route"}),
		DependencyReady: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "checkpoint_dependency_ready",
			Help: "1 when a backing dependency answered its last health check",
		}, []string{"dependency"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveRequest(route, statusClass string, seconds float64) {
	m.HTTPRequests.WithLabelValues(route, statusClass).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) SetDependencyReady(name string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	m.DependencyReady.WithLabelValues(name).Set(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency per chi route pattern, so
// attempt IDs never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.ObserveRequest(route, strconv.Itoa(sw.status/100)+"xx", time.Since(start).Seconds())
	})
}
