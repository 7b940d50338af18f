// Package metrics provides Prometheus-based metrics recording for the job
// engine: routing decisions, job outcomes, retries and backend calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records engine metrics. Components take the interface so tests
// and single-binary tools can pass the no-op implementation.
type Recorder interface {
	ObserveJob(jobType, status string, duration time.Duration)
	ObserveRouting(jobType, outcome string)
	IncRetry(jobType string)
	IncDeadLetter(jobType string)
	ObserveModelCall(model, provider string, inputTokens, outputTokens int, success bool, duration time.Duration)
	SetBreakerState(name string, state int)
}

// PrometheusRecorder implements Recorder over promauto-registered collectors.
type PrometheusRecorder struct {
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	routingTotal      *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	deadLetterTotal   *prometheus.CounterVec
	modelCallsTotal   *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelTokensTotal  *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the engine collectors on the default
// registry. Call at most once per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		jobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_jobs_total",
				Help: "Total number of processed jobs by type and terminal status",
			},
			[]string{"job_type", "status"},
		),
		jobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskmesh_job_duration_seconds",
				Help:    "Wall-clock duration of job execution",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"job_type"},
		),
		routingTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_routing_total",
				Help: "Routing decisions by job type and outcome (dispatched, parked, dropped)",
			},
			[]string{"job_type", "outcome"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_retries_total",
				Help: "Total number of scheduled retries",
			},
			[]string{"job_type"},
		),
		deadLetterTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_dead_letter_total",
				Help: "Total number of jobs moved to the dead letter queue",
			},
			[]string{"job_type"},
		),
		modelCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_model_calls_total",
				Help: "Total number of backend model calls by status",
			},
			[]string{"model", "provider", "status"},
		),
		modelCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskmesh_model_call_duration_seconds",
				Help:    "Duration of backend model calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "provider"},
		),
		modelTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_model_tokens_total",
				Help: "Total tokens consumed by backend model calls",
			},
			[]string{"model", "provider", "type"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskmesh_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),
	}
}

// ObserveJob records one finished job.
func (p *PrometheusRecorder) ObserveJob(jobType, status string, duration time.Duration) {
	p.jobsTotal.WithLabelValues(jobType, status).Inc()
	p.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveRouting records one routing decision.
func (p *PrometheusRecorder) ObserveRouting(jobType, outcome string) {
	p.routingTotal.WithLabelValues(jobType, outcome).Inc()
}

// IncRetry counts a scheduled retry.
func (p *PrometheusRecorder) IncRetry(jobType string) {
	p.retriesTotal.WithLabelValues(jobType).Inc()
}

// IncDeadLetter counts a dead-letter transition.
func (p *PrometheusRecorder) IncDeadLetter(jobType string) {
	p.deadLetterTotal.WithLabelValues(jobType).Inc()
}

// ObserveModelCall records one backend call.
func (p *PrometheusRecorder) ObserveModelCall(model, provider string, inputTokens, outputTokens int, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.modelCallsTotal.WithLabelValues(model, provider, status).Inc()
	p.modelCallDuration.WithLabelValues(model, provider).Observe(duration.Seconds())
	if success {
		p.modelTokensTotal.WithLabelValues(model, provider, "input").Add(float64(inputTokens))
		p.modelTokensTotal.WithLabelValues(model, provider, "output").Add(float64(outputTokens))
	}
}

// SetBreakerState exports a breaker state transition.
func (p *PrometheusRecorder) SetBreakerState(name string, state int) {
	p.breakerState.WithLabelValues(name).Set(float64(state))
}

// NoOpRecorder discards all observations.
type NoOpRecorder struct{}

func (NoOpRecorder) ObserveJob(string, string, time.Duration) {}

func (NoOpRecorder) ObserveRouting(string, string) {}

func (NoOpRecorder) IncRetry(string) {}

func (NoOpRecorder) IncDeadLetter(string) {}

func (NoOpRecorder) ObserveModelCall(string, string, int, int, bool, time.Duration) {}

func (NoOpRecorder) SetBreakerState(string, int) {}

// Handler serves the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes the scrape endpoint at /metrics on addr. It blocks until the
// listener fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
