package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverMetrics owns a private registry so each Server instance exports
// a clean collector set. Registering on the global default would panic
// the second time a Server is built in the same process.
type serverMetrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	predictionsTotal *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	artifactLoaded   prometheus.Gauge
	driftRate        prometheus.Gauge
	driftSigmas      prometheus.Gauge
	driftAlarms      prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &serverMetrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnkit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "churnkit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		predictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnkit",
			Name:      "predictions_total",
			Help:      "Predictions served, by predicted label and request source.",
		}, []string{"label", "source"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "churnkit",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Prediction cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "churnkit",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Prediction cache misses.",
		}),
		artifactLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "churnkit",
			Name:      "artifact_loaded",
			Help:      "1 when a model artifact is loaded and serving, 0 otherwise.",
		}),
		driftRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "churnkit",
			Subsystem: "drift",
			Name:      "positive_rate",
			Help:      "Positive-label rate over the current observation window.",
		}),
		driftSigmas: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "churnkit",
			Subsystem: "drift",
			Name:      "sigmas",
			Help:      "Distance of the live positive rate from the training base rate, in binomial standard deviations.",
		}),
		driftAlarms: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "churnkit",
			Subsystem: "drift",
			Name:      "alarms_total",
			Help:      "Drift alarms raised since startup.",
		}),
	}
}

func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records request count and latency per chi route pattern,
// so /api/v1/predictions?limit=3 and ?limit=500 share one series.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
