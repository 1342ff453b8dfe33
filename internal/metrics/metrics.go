package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiro_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expiro_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	productsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expiro_products_created_total",
			Help: "Total products registered",
		},
	)

	duplicatesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expiro_duplicates_rejected_total",
			Help: "Product creations rejected by the duplicate guard",
		},
	)

	remindersDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiro_reminders_delivered_total",
			Help: "Reminder delivery attempts by status",
		},
		[]string{"status"},
	)

	dispatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiro_dispatch_runs_total",
			Help: "Dispatch runs by outcome",
		},
		[]string{"outcome"},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expiro_dispatch_run_duration_seconds",
			Help:    "Dispatch run duration",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expiro_idempotency_hits_total",
			Help: "Product creations replayed from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expiro_rate_limit_rejections_total",
			Help: "Requests rejected by the API rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "expiro_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProductCreated records a successful product registration
func RecordProductCreated() {
	productsCreated.Inc()
}

// RecordDuplicateRejected records a duplicate-guard rejection
func RecordDuplicateRejected() {
	duplicatesRejected.Inc()
}

// RecordReminderDelivered records one reminder delivery attempt
func RecordReminderDelivered(status string) {
	remindersDelivered.WithLabelValues(status).Inc()
}

// RecordDispatchRun records a finished dispatch run
func RecordDispatchRun(outcome string, duration time.Duration) {
	dispatchRuns.WithLabelValues(outcome).Inc()
	dispatchDuration.Observe(duration.Seconds())
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
