package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_received_total",
			Help: "Total number of job messages dispatched to workers",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs committed with a Success result",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs committed with a Failure result",
		},
		[]string{"type", "error_type"},
	)
	PoisonMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poison_messages_total",
			Help: "Total number of undecodable queue messages acked and dropped",
		},
	)
	ClaimRacesLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_races_lost_total",
			Help: "Total number of claims abandoned on conditional check failure",
		},
	)

	RetryEngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retry_engine_state",
			Help: "Retry engine state per client (0=connected, 1=reconnecting)",
		},
		[]string{"client"},
	)
	RetryDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_deferred_total",
			Help: "Total number of actions parked in the retry mailbox",
		},
		[]string{"client"},
	)
	RetryRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_replies_total",
			Help: "Total number of deferred actions resolved, by outcome",
		},
		[]string{"client", "outcome"},
	)

	SubprocessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subprocess_duration_seconds",
			Help:    "Toolchain subprocess wall time in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"command"},
	)
	SubprocessesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subprocesses_in_flight",
			Help: "Toolchain subprocesses currently holding a permit",
		},
	)

	ArtifactsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_uploaded_total",
			Help: "Total number of artifacts streamed to the object store",
		},
		[]string{"kind"},
	)

	PurgatoryRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "purgatory_records",
			Help: "Records currently tracked for expiration",
		},
	)
	PurgatoryReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purgatory_reaped_total",
			Help: "Total number of expired records reaped from the store",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of ops HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Ops HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(JobsReceivedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(PoisonMessagesTotal)
	prometheus.MustRegister(ClaimRacesLostTotal)
	prometheus.MustRegister(RetryEngineState)
	prometheus.MustRegister(RetryDeferredTotal)
	prometheus.MustRegister(RetryRepliesTotal)
	prometheus.MustRegister(SubprocessDuration)
	prometheus.MustRegister(SubprocessesInFlight)
	prometheus.MustRegister(ArtifactsUploadedTotal)
	prometheus.MustRegister(PurgatoryRecords)
	prometheus.MustRegister(PurgatoryReapedTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each ops request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// StartProcessingJob marks a job in flight.
func StartProcessingJob(jobType string) {
	JobsReceivedTotal.WithLabelValues(jobType).Inc()
	JobsProcessing.WithLabelValues(jobType).Inc()
}

// CompleteJob marks a job committed with a Success result.
func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

// FailJob marks a job committed with a Failure result.
func FailJob(jobType, errorType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType, errorType).Inc()
}

// AbandonJob marks a job released without a terminal commit (lost race,
// redelivery path).
func AbandonJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
}
