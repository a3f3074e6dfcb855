package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// Prometheus collectors register on the process-global registry, so a single
// tracker serves every test in this binary.
var m = New(zap.NewNop())

func TestRecordRequest(t *testing.T) {
	before := m.GetStats()

	m.RecordRequest(true, 10*time.Millisecond, 200)
	m.RecordRequest(false, 20*time.Millisecond, 502)

	stats := m.GetStats()
	assert.Equal(t, before.TotalRequests+2, stats.TotalRequests)
	assert.Equal(t, before.SuccessfulRequests+1, stats.SuccessfulRequests)
	assert.Equal(t, before.FailedRequests+1, stats.FailedRequests)
	assert.Equal(t, before.ErrorsByStatus[502]+1, stats.ErrorsByStatus[502])
	assert.GreaterOrEqual(t, stats.MaxLatency, 20*time.Millisecond)
}

func TestRecordJobs(t *testing.T) {
	before := m.GetStats()

	m.RecordJobStart()
	m.RecordJobEnd(true)
	m.RecordJobStart()
	m.RecordJobEnd(false)

	stats := m.GetStats()
	assert.Equal(t, before.JobsStarted+2, stats.JobsStarted)
	assert.Equal(t, before.JobsCompleted+1, stats.JobsCompleted)
	assert.Equal(t, before.JobsFailed+1, stats.JobsFailed)
}

func TestRecordRetryAndRateLimit(t *testing.T) {
	before := m.GetStats()

	m.RecordRetry()
	m.RecordRateLimitHit()

	stats := m.GetStats()
	assert.Equal(t, before.RetriedRequests+1, stats.RetriedRequests)
	assert.Equal(t, before.RateLimitHits+1, stats.RateLimitHits)
}

func TestPhaseAndCandidateCounters(t *testing.T) {
	// Prometheus-only observations must not panic and must not disturb the
	// snapshot counters.
	before := m.GetStats()
	m.RecordPhase("fetch", 100*time.Millisecond)
	m.RecordCandidatesScored(7)
	assert.Equal(t, before.TotalRequests, m.GetStats().TotalRequests)
}
