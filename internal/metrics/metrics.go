// Package metrics provides metrics collection and reporting for the
// correlator. Internal atomic counters back a JSON stats snapshot while
// Prometheus metrics feed the /metrics endpoint.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metric labels
const (
	labelPhase  = "phase"
	labelStatus = "status"
)

// Metrics tracks operational metrics with both internal counters and
// Prometheus metrics.
type Metrics struct {
	// Tracker request metrics (internal atomic counters for fast access)
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64
	retriedRequests    atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	// Rate limiting metrics
	rateLimitHits atomic.Uint64

	// Job metrics
	jobsStarted   atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsFailed    atomic.Uint64

	// Error tracking by status code
	errorsMu       sync.RWMutex
	errorsByStatus map[int]uint64

	logger *zap.Logger

	// Prometheus metrics
	promRequestsTotal      prometheus.Counter
	promRequestsSuccessful prometheus.Counter
	promRequestsFailed     prometheus.Counter
	promRequestsRetried    prometheus.Counter
	promRateLimitHits      prometheus.Counter
	promRequestLatency     prometheus.Histogram
	promErrorsByStatus     *prometheus.CounterVec
	promJobsTotal          *prometheus.CounterVec
	promJobPhaseDuration   *prometheus.HistogramVec
	promCandidatesScored   prometheus.Counter
}

// New creates a new metrics tracker with Prometheus integration.
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		errorsByStatus: make(map[int]uint64),
		logger:         logger,

		promRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "tracker_requests_total",
			Help:      "Total number of requests made to the ticket tracker",
		}),
		promRequestsSuccessful: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "tracker_requests_successful_total",
			Help:      "Total number of successful tracker requests",
		}),
		promRequestsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "tracker_requests_failed_total",
			Help:      "Total number of failed tracker requests",
		}),
		promRequestsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "tracker_requests_retried_total",
			Help:      "Total number of retried tracker requests",
		}),
		promRateLimitHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of tracker rate limit hits",
		}),
		promRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "correlator",
			Name:      "tracker_request_latency_seconds",
			Help:      "Tracker request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}),
		promErrorsByStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "tracker_errors_by_status_total",
			Help:      "Tracker errors by HTTP status code",
		}, []string{labelStatus}),
		promJobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "jobs_total",
			Help:      "Correlation jobs by terminal status (completed, failed)",
		}, []string{labelStatus}),
		promJobPhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "correlator",
			Name:      "job_phase_duration_seconds",
			Help:      "Duration of correlation job phases (discover, fetch, score)",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7m
		}, []string{labelPhase}),
		promCandidatesScored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "candidates_scored_total",
			Help:      "Total number of candidate changes scored",
		}),
	}

	// Initialize min latency to max value
	m.minLatency.Store(int64(time.Hour))

	return m
}

// RecordRequest records a tracker request.
func (m *Metrics) RecordRequest(success bool, latency time.Duration, statusCode int) {
	m.totalRequests.Add(1)
	m.promRequestsTotal.Inc()
	m.promRequestLatency.Observe(latency.Seconds())

	if success {
		m.successfulRequests.Add(1)
		m.promRequestsSuccessful.Inc()
	} else {
		m.failedRequests.Add(1)
		m.promRequestsFailed.Inc()
		m.recordErrorStatus(statusCode)
	}

	m.recordLatency(latency)
}

// RecordRetry records a fetch retry attempt.
func (m *Metrics) RecordRetry() {
	m.retriedRequests.Add(1)
	m.promRequestsRetried.Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit() {
	m.rateLimitHits.Add(1)
	m.promRateLimitHits.Inc()
}

// RecordJobStart records the start of a correlation job.
func (m *Metrics) RecordJobStart() {
	m.jobsStarted.Add(1)
}

// RecordJobEnd records a job reaching a terminal phase.
func (m *Metrics) RecordJobEnd(completed bool) {
	if completed {
		m.jobsCompleted.Add(1)
		m.promJobsTotal.WithLabelValues("completed").Inc()
	} else {
		m.jobsFailed.Add(1)
		m.promJobsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordPhase records the duration of one job phase.
func (m *Metrics) RecordPhase(phase string, d time.Duration) {
	m.promJobPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordCandidatesScored adds to the scored-candidate counter.
func (m *Metrics) RecordCandidatesScored(n int) {
	if n > 0 {
		m.promCandidatesScored.Add(float64(n))
	}
}

func (m *Metrics) recordLatency(latency time.Duration) {
	latencyUs := latency.Microseconds()

	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)

	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax {
			break
		}
		if m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}

	for {
		currentMin := m.minLatency.Load()
		if latencyUs >= currentMin {
			break
		}
		if m.minLatency.CompareAndSwap(currentMin, latencyUs) {
			break
		}
	}
}

func (m *Metrics) recordErrorStatus(statusCode int) {
	if statusCode == 0 {
		return
	}

	m.errorsMu.Lock()
	m.errorsByStatus[statusCode]++
	m.errorsMu.Unlock()

	m.promErrorsByStatus.WithLabelValues(fmt.Sprintf("%d", statusCode)).Inc()
}

// Stats is a point-in-time snapshot of the internal counters.
type Stats struct {
	TotalRequests      uint64           `json:"total_requests"`
	SuccessfulRequests uint64           `json:"successful_requests"`
	FailedRequests     uint64           `json:"failed_requests"`
	RetriedRequests    uint64           `json:"retried_requests"`
	RateLimitHits      uint64           `json:"rate_limit_hits"`
	JobsStarted        uint64           `json:"jobs_started"`
	JobsCompleted      uint64           `json:"jobs_completed"`
	JobsFailed         uint64           `json:"jobs_failed"`
	AvgLatency         time.Duration    `json:"avg_latency"`
	MaxLatency         time.Duration    `json:"max_latency"`
	MinLatency         time.Duration    `json:"min_latency"`
	ErrorsByStatus     map[int]uint64   `json:"errors_by_status"`
}

// GetStats returns current statistics.
func (m *Metrics) GetStats() Stats {
	m.errorsMu.RLock()
	errorsByStatus := make(map[int]uint64, len(m.errorsByStatus))
	for k, v := range m.errorsByStatus {
		errorsByStatus[k] = v
	}
	m.errorsMu.RUnlock()

	stats := Stats{
		TotalRequests:      m.totalRequests.Load(),
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
		RetriedRequests:    m.retriedRequests.Load(),
		RateLimitHits:      m.rateLimitHits.Load(),
		JobsStarted:        m.jobsStarted.Load(),
		JobsCompleted:      m.jobsCompleted.Load(),
		JobsFailed:         m.jobsFailed.Load(),
		ErrorsByStatus:     errorsByStatus,
	}

	if count := m.latencyCount.Load(); count > 0 {
		stats.AvgLatency = time.Duration(m.totalLatency.Load()/int64(count)) * time.Microsecond
		stats.MaxLatency = time.Duration(m.maxLatency.Load()) * time.Microsecond
		if min := m.minLatency.Load(); min < int64(time.Hour) {
			stats.MinLatency = time.Duration(min) * time.Microsecond
		}
	}

	return stats
}

// LogStats logs the current counters at info level.
func (m *Metrics) LogStats() {
	s := m.GetStats()
	m.logger.Info("Correlator metrics",
		zap.Uint64("total_requests", s.TotalRequests),
		zap.Uint64("failed_requests", s.FailedRequests),
		zap.Uint64("retried_requests", s.RetriedRequests),
		zap.Uint64("rate_limit_hits", s.RateLimitHits),
		zap.Uint64("jobs_started", s.JobsStarted),
		zap.Uint64("jobs_completed", s.JobsCompleted),
		zap.Uint64("jobs_failed", s.JobsFailed),
		zap.Duration("avg_latency", s.AvgLatency),
	)
}
