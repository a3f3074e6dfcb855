package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tareqmamari/inc-correlator/internal/score"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "correlator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, "j1", "inc-1001", "48h", "jdoe"))

	rec, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "INC-1001", rec.Seed, "seed is stored upper-cased")
	assert.Equal(t, "pending", rec.Status)
	assert.Equal(t, "48h", rec.Window)
	require.NotNil(t, rec.Username)
	assert.Equal(t, "jdoe", *rec.Username)
	assert.Nil(t, rec.CompletedAt)

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", "running", intPtr(3), intPtr(10), nil))
	rec, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "running", rec.Status)
	assert.Equal(t, 3, rec.Progress)
	require.NotNil(t, rec.Total)
	assert.Equal(t, 10, *rec.Total)
	assert.Nil(t, rec.CompletedAt)

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", "completed", intPtr(10), nil, nil))
	rec, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	require.NotNil(t, rec.CompletedAt, "terminal status stamps completed_at")
	_, err = time.Parse(time.RFC3339, *rec.CompletedAt)
	assert.NoError(t, err)
}

func TestJobFailureRecordsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, "j1", "INC-1", "48h", ""))
	require.NoError(t, s.UpdateJobStatus(ctx, "j1", "failed", nil, nil, strPtr("tracker down")))

	rec, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "tracker down", *rec.Error)
	assert.Nil(t, rec.Username)
}

func TestGetJobMissing(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.GetJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListJobsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 7, 22, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"j1", "j2", "j3"} {
		stamp := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return stamp }
		require.NoError(t, s.CreateJob(ctx, id, "INC-1", "48h", ""))
	}

	jobs, err := s.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j3", jobs[0].JobID)
	assert.Equal(t, "j2", jobs[1].JobID)
}

func TestDeleteJobCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, "j1", "INC-1", "48h", ""))
	require.NoError(t, s.SaveExtraction(ctx, "j1", map[string]string{"k": "v"}))
	require.NoError(t, s.SaveRanking(ctx, "j1", score.Weights{Time: 1}, map[string]string{"r": "v"}))

	deleted, err := s.DeleteJob(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, deleted)

	rec, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	var out map[string]string
	found, err := s.GetExtraction(ctx, "j1", &out)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.LatestRanking(ctx, "j1", &out)
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = s.DeleteJob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestExtractionRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, "j1", "INC-1", "48h", ""))

	payload := map[string]interface{}{"incident": "INC-1", "count": float64(3)}
	require.NoError(t, s.SaveExtraction(ctx, "j1", payload))

	var out map[string]interface{}
	found, err := s.GetExtraction(ctx, "j1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, out)

	// Replacement overwrites.
	require.NoError(t, s.SaveExtraction(ctx, "j1", map[string]interface{}{"incident": "INC-2"}))
	found, err = s.GetExtraction(ctx, "j1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "INC-2", out["incident"])
}

func TestLatestRankingKeepsHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, "j1", "INC-1", "48h", ""))

	stamp := time.Date(2025, 7, 22, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }
	require.NoError(t, s.SaveRanking(ctx, "j1", score.Weights{Time: 1}, map[string]string{"v": "first"}))
	require.NoError(t, s.SaveRanking(ctx, "j1", score.Weights{Time: 2}, map[string]string{"v": "second"}))

	var out map[string]string
	found, err := s.LatestRanking(ctx, "j1", &out)
	require.NoError(t, err)
	require.True(t, found)
	// Same timestamp: the higher row id wins.
	assert.Equal(t, "second", out["v"])
}

func TestScoringConfigOverlay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Nothing stored: pure defaults.
	cfg, err := s.ScoringConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, score.DefaultConfig().Weights, cfg.Weights)

	// Stored weights overlay the defaults; the rest stays.
	custom := score.Weights{Time: 0.5, Service: 0.2, Infra: 0.2, Org: 0.1}
	require.NoError(t, s.SetWeights(ctx, custom))

	cfg, err = s.ScoringConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, custom, cfg.Weights)
	assert.Equal(t, score.DefaultConfig().Penalties, cfg.Penalties)
	assert.Equal(t, score.DefaultConfig().Bonuses, cfg.Bonuses)
}

func TestTopResults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	top, err := s.TopResults(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, top)

	require.NoError(t, s.SetTopResults(ctx, 50))
	top, err = s.TopResults(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 50, top)
}
