package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/config"
	errs "github.com/tareqmamari/inc-correlator/internal/errors"
	"github.com/tareqmamari/inc-correlator/internal/extract"
	"github.com/tareqmamari/inc-correlator/internal/job"
	"github.com/tareqmamari/inc-correlator/internal/metrics"
	"github.com/tareqmamari/inc-correlator/internal/score"
	"github.com/tareqmamari/inc-correlator/internal/store"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

// fakeTracker answers the coordinator with canned issues and searches.
type fakeTracker struct {
	issues     map[string]*tracker.RawIssue
	searchKeys []string
}

func (f *fakeTracker) Issue(_ context.Context, key string) (*tracker.RawIssue, error) {
	issue, ok := f.issues[key]
	if !ok {
		return nil, errs.NewTicketNotFound(key)
	}
	return issue, nil
}

func (f *fakeTracker) Comments(_ context.Context, _ string) ([]tracker.RawComment, error) {
	return nil, nil
}

func (f *fakeTracker) SearchKeys(_ context.Context, _ string, _ int) ([]string, error) {
	return f.searchKeys, nil
}

func (f *fakeTracker) Myself(_ context.Context) (string, error) {
	return "jdoe", nil
}

func rawIssue(t *testing.T, key, issueType, summary string) *tracker.RawIssue {
	t.Helper()
	blob, err := json.Marshal(map[string]interface{}{
		"key": key,
		"fields": map[string]interface{}{
			"summary":   summary,
			"issuetype": map[string]string{"name": issueType},
			"created":   "2025-07-22T08:00:00.000+0000",
		},
	})
	require.NoError(t, err)
	var issue tracker.RawIssue
	require.NoError(t, json.Unmarshal(blob, &issue))
	return &issue
}

// Prometheus collectors register on the process-global registry, so the
// metrics tracker is created once for the whole test binary.
var testMetrics = metrics.New(zap.NewNop())

func newTestServer(t *testing.T, ft *fakeTracker) (*Server, *store.Store) {
	t.Helper()
	logger := zap.NewNop()

	st, err := store.Open(filepath.Join(t.TempDir(), "correlator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	coordinator := job.NewCoordinator(
		ft,
		extract.New(logger),
		score.NewScorer(score.DefaultConfig(), logger),
		"TECCM",
		2,
		nil,
		logger,
	)

	cfg := &config.Config{
		TrackerURL: "https://tracker.example.com",
		Project:    "TECCM",
		ListenAddr: ":0",
		TopResults: 20,
	}
	return New(cfg, st, coordinator, testMetrics, logger), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestWeightsRoundtrip(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})
	router := s.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/config/weights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var weights score.Weights
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &weights))
	assert.Equal(t, score.DefaultConfig().Weights, weights)

	custom := score.Weights{Time: 0.5, Service: 0.2, Infra: 0.2, Org: 0.1}
	rec = doJSON(t, router, http.MethodPut, "/api/config/weights", custom)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/config/weights", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &weights))
	assert.Equal(t, custom, weights)
}

func TestPutWeightsRejectsInvalid(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})
	router := s.Router()

	rec := doJSON(t, router, http.MethodPut, "/api/config/weights", score.Weights{Time: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/api/config/weights", score.Weights{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_WEIGHTS")
}

func TestGetJobNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/analysis/jobs/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestExtractRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/extract", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractRunsJobToCompletion(t *testing.T) {
	ft := &fakeTracker{
		issues: map[string]*tracker.RawIssue{
			"INC-1":   rawIssue(t, "INC-1", "Incident", "mail outage"),
			"TECCM-1": rawIssue(t, "TECCM-1", "Technical Change", "mail upgrade"),
		},
		searchKeys: []string{"TECCM-1"},
	}
	s, st := newTestServer(t, ft)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/analysis/extract", job.Request{Seed: "INC-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	jobID := accepted["job_id"]
	require.NotEmpty(t, jobID)
	assert.Equal(t, "pending", accepted["status"])

	require.Eventually(t, func() bool {
		record, err := st.GetJob(context.Background(), jobID)
		return err == nil && record != nil && record.Status == "completed"
	}, 5*time.Second, 20*time.Millisecond, "job never completed")

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/analysis/%s/ranking", jobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ranking score.Ranking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranking))
	assert.Equal(t, "INC-1", ranking.IncidentKey)
	require.Len(t, ranking.Candidates, 1)
	assert.Equal(t, "TECCM-1", ranking.Candidates[0].Key)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/analysis/%s/change/TECCM-1", jobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ticket"`)
	assert.Contains(t, rec.Body.String(), `"score"`)

	// Rescoring with different weights reuses the stored extraction.
	rec = doJSON(t, router, http.MethodPost, "/api/analysis/score", map[string]interface{}{
		"job_id":  jobID,
		"weights": score.Weights{Time: 1, Service: 1, Infra: 1, Org: 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/analysis/jobs/%s", jobID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/analysis/jobs/%s", jobID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescoreUnknownJob(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/analysis/score", map[string]string{"job_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRankingTopParam(t *testing.T) {
	s, st := newTestServer(t, &fakeTracker{})
	ctx := context.Background()

	require.NoError(t, st.CreateJob(ctx, "j1", "INC-1", "48h", ""))
	ranking := score.Ranking{
		IncidentKey: "INC-1",
		Candidates: []score.RankedCandidate{
			{Key: "TECCM-1", FinalScore: 90},
			{Key: "TECCM-2", FinalScore: 80},
			{Key: "TECCM-3", FinalScore: 70},
		},
	}
	require.NoError(t, st.SaveRanking(ctx, "j1", score.Weights{Time: 1}, ranking))

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/analysis/j1/ranking?top=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got score.Ranking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Candidates, 2)
	assert.Equal(t, "TECCM-1", got.Candidates[0].Key)

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/analysis/j1/ranking?top=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, &fakeTracker{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/stats", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_requests")
}
