package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capture_gateway_active_sessions",
		Help: "Number of active capture sessions",
	})

	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_gateway_segments_total",
		Help: "Total number of finalized voice segments",
	}, []string{"reason"}) // silence, cutoff, stop

	segmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_gateway_segment_duration_seconds",
		Help:    "Duration of finalized voice segments in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	audioBytesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_gateway_audio_bytes_total",
		Help: "Total bytes of raw audio consumed from capture feeds",
	})

	// Pipeline stage metrics
	stageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_gateway_stage_requests_total",
		Help: "Total pipeline stage provider calls",
	}, []string{"stage", "status"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capture_gateway_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds, including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_gateway_messages_total",
		Help: "Total messages created from finalized segments",
	})

	// QA reprocessing metrics
	qaRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_gateway_qa_runs_total",
		Help: "QA recomputation runs by result",
	}, []string{"result"}) // success, error

	qaSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_gateway_qa_skips_total",
		Help: "QA triggers skipped because stored output was still fresh",
	})

	// Resilience metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "capture_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"engine"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures by engine",
	}, []string{"engine"})
)

// SessionStarted records a capture session opening
func SessionStarted() {
	activeSessions.Inc()
}

// SessionEnded records a capture session closing
func SessionEnded() {
	activeSessions.Dec()
}

// RecordSegment records a finalized segment and its duration
func RecordSegment(reason string, duration time.Duration) {
	segmentsTotal.WithLabelValues(reason).Inc()
	segmentDuration.Observe(duration.Seconds())
}

// RecordAudioBytes records raw audio consumed from a capture feed
func RecordAudioBytes(n int) {
	audioBytesProcessed.Add(float64(n))
}

// RecordMessageCreated records a new pipeline message
func RecordMessageCreated() {
	messagesTotal.Inc()
}

// RecordStage records one pipeline stage outcome and its latency
func RecordStage(stage string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	stageRequests.WithLabelValues(stage, status).Inc()
	stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordQARun records a QA recomputation outcome
func RecordQARun(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	qaRuns.WithLabelValues(result).Inc()
}

// RecordQASkip records a QA trigger that required no work
func RecordQASkip() {
	qaSkips.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(engine string, state int) {
	circuitBreakerState.WithLabelValues(engine).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(engine string) {
	circuitBreakerFailures.WithLabelValues(engine).Inc()
}
