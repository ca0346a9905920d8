package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Reconciliation sweep metrics.
var (
	SweepTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_ticks_total",
			Help: "Reconciliation ticks, by outcome.",
		},
		[]string{"outcome"},
	)

	SweepRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_renewals_total",
			Help: "Entitlements renewed by the sweep.",
		},
		[]string{"kind"},
	)

	SweepExpirations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_expirations_total",
			Help: "Entitlements expired by the sweep.",
		},
		[]string{"kind"},
	)

	SweepTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_tick_duration_seconds",
		Help:    "Wall time of one reconciliation tick.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		SweepTicks, SweepRenewals, SweepExpirations, SweepTickDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource ids so metric labels stay low-cardinality.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	const entPrefix = "/v1/entitlements/"
	if rest, ok := strings.CutPrefix(p, entPrefix); ok {
		if id, action, found := strings.Cut(rest, "/"); found && id != "" {
			return entPrefix + ":id/" + action
		}
		return entPrefix + ":id"
	}
	const profitPrefix = "/v1/profit/"
	if rest, ok := strings.CutPrefix(p, profitPrefix); ok && rest != "" {
		if id, action, found := strings.Cut(rest, "/"); found && id != "" {
			return profitPrefix + ":id/" + action
		}
		return profitPrefix + ":id"
	}
	return p
}

// statusWriter records the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
