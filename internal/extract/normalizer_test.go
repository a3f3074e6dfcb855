package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/ticket"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

func fixedClock() time.Time {
	return time.Date(2025, 7, 22, 15, 0, 0, 0, time.UTC)
}

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return New(zap.NewNop(), WithClock(fixedClock))
}

func rawIssue(t *testing.T, key, issueType, summary, description string, custom map[string]interface{}) *tracker.RawIssue {
	t.Helper()

	fields := map[string]interface{}{
		"summary":     summary,
		"description": description,
		"issuetype":   map[string]string{"name": issueType},
		"created":     "2025-07-22T08:00:00.000+0200",
		"updated":     "2025-07-22T12:00:00.000+0200",
		"assignee":    map[string]string{"name": "jdoe", "displayName": "J. Doe"},
		"reporter":    map[string]string{"name": "asmith", "displayName": "A. Smith"},
	}
	for k, v := range custom {
		fields[k] = v
	}

	blob, err := json.Marshal(map[string]interface{}{"key": key, "fields": fields})
	require.NoError(t, err)

	var issue tracker.RawIssue
	require.NoError(t, json.Unmarshal(blob, &issue))
	return &issue
}

func TestNormalizeIncident(t *testing.T) {
	n := testNormalizer(t)

	description := "20250722 07:45 - jdoe: opensearch cluster degraded on llim908\n" +
		"20250722 08:10 - asmith: restarted kibana"
	issue := rawIssue(t, "INC-1001", "Incident", "[PDC] Dashboards down", description, map[string]interface{}{
		"customfield_15000": map[string]string{"value": "Platform SRE"},
		"customfield_12921": []interface{}{"IC-S3 Object Storage"},
	})

	got := n.Normalize(issue, nil)

	assert.Equal(t, "INC-1001", got.Key)
	assert.Equal(t, ticket.KindIncident, got.Kind)

	// First impact comes from the first timeline entry, not created_at.
	require.NotNil(t, got.Times.FirstImpactTime)
	assert.Equal(t, time.Date(2025, 7, 22, 7, 45, 0, 0, time.UTC), *got.Times.FirstImpactTime)
	require.NotNil(t, got.Times.CreatedAt)
	assert.Equal(t, time.Date(2025, 7, 22, 8, 0, 0, 0, time.UTC), *got.Times.CreatedAt)

	assert.Contains(t, got.Entities.Hosts, "llim908")
	assert.Contains(t, got.Entities.Technologies, "opensearch")
	assert.Contains(t, got.Entities.Technologies, "kibana")
	assert.Contains(t, got.Entities.Services, "control panel")
	assert.Contains(t, got.Entities.Services, "s3 object storage")

	assert.Equal(t, "Platform SRE", got.Organization.Team)
	assert.Equal(t, "jdoe", got.Organization.Assignee)
	assert.ElementsMatch(t, []string{"jdoe", "asmith"}, got.Organization.PeopleInvolved)

	assert.Equal(t, Version, got.Extraction.Version)
	assert.Equal(t, 2, got.Extraction.Timeline)
}

func TestNormalizeChange(t *testing.T) {
	n := testNormalizer(t)

	issue := rawIssue(t, "TECCM-42", "Technical Change", "Upgrade mysql on srv001", "maintenance window", map[string]interface{}{
		"customfield_10303": "2025-07-22T06:00:00.000+0200",
		"customfield_10304": "2025-07-22T10:00:00.000+0200",
	})
	comments := []tracker.RawComment{
		{ID: "1", Author: tracker.User{DisplayName: "Pablo Arraiz"}, Body: "Executed in [22/07/2025 07:03, 22/07/2025 13:18]"},
	}

	got := n.Normalize(issue, comments)

	assert.Equal(t, ticket.KindChange, got.Kind)

	require.Len(t, got.Times.LiveIntervals, 1)
	iv := got.Times.LiveIntervals[0]
	assert.Equal(t, time.Date(2025, 7, 22, 7, 3, 0, 0, time.UTC), iv.Start)
	assert.Equal(t, time.Date(2025, 7, 22, 13, 18, 0, 0, time.UTC), iv.End)

	require.NotNil(t, got.Times.PlannedStart)
	assert.Equal(t, time.Date(2025, 7, 22, 6, 0, 0, 0, time.UTC), *got.Times.PlannedStart)

	// Comment author display name is lower-cased with spaces stripped.
	assert.Contains(t, got.Organization.PeopleInvolved, "pabloarraiz")
	assert.Empty(t, got.Extraction.Warnings)
}

func TestNormalizeChangeWithoutIntervals(t *testing.T) {
	n := testNormalizer(t)

	issue := rawIssue(t, "TECCM-43", "Change", "Routine patching", "", nil)
	got := n.Normalize(issue, nil)

	assert.Empty(t, got.Times.LiveIntervals)
	assert.Contains(t, got.Extraction.Warnings, "No live intervals found in comments, using planned window")
}

func TestNormalizeDropsReversedPlannedWindow(t *testing.T) {
	n := testNormalizer(t)

	issue := rawIssue(t, "TECCM-44", "Change", "odd window", "", map[string]interface{}{
		"customfield_10303": "2025-07-22T10:00:00.000+0200",
		"customfield_10304": "2025-07-22T06:00:00.000+0200",
	})
	got := n.Normalize(issue, nil)

	assert.Nil(t, got.Times.PlannedStart)
	assert.Nil(t, got.Times.PlannedEnd)
	assert.Contains(t, got.Extraction.Warnings, "Dropped reversed planned window")
}

func TestNormalizeUnparseableTimestampWarns(t *testing.T) {
	n := testNormalizer(t)

	issue := rawIssue(t, "TECCM-45", "Change", "bad dates", "", map[string]interface{}{
		"customfield_10303": "not-a-date",
	})
	got := n.Normalize(issue, nil)

	assert.Nil(t, got.Times.PlannedStart)
	found := false
	for _, w := range got.Extraction.Warnings {
		if w == `Unparseable planned_start timestamp "not-a-date"` {
			found = true
		}
	}
	assert.True(t, found, "expected a planned_start parse warning, got %v", got.Extraction.Warnings)
}

func TestNormalizeDeterministic(t *testing.T) {
	n := testNormalizer(t)

	issue := rawIssue(t, "INC-7", "Incident", "[AI][Customer system] mail degraded on bay03", "20250722 07:00 - op1: start", map[string]interface{}{
		"customfield_12921": []interface{}{"IONOS Cloud/IC PSS/IC-S3 Object Storage", "AR_Mail"},
	})
	comments := []tracker.RawComment{
		{ID: "1", Author: tracker.User{DisplayName: "Op One"}, Body: "checking postfix on bay03"},
	}

	first := n.Normalize(issue, comments)
	for i := 0; i < 5; i++ {
		again := n.Normalize(issue, comments)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("normalization is not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestIntervalWithoutEndDateReusesStartDate(t *testing.T) {
	comments := []tracker.RawComment{
		{ID: "1", Body: "done in [22/07/2025 07:03, 13:18]"},
	}
	intervals, warnings := LiveIntervals(comments)

	require.Len(t, intervals, 1)
	assert.Empty(t, warnings)
	assert.Equal(t, time.Date(2025, 7, 22, 7, 3, 0, 0, time.UTC), intervals[0].Start)
	assert.Equal(t, time.Date(2025, 7, 22, 13, 18, 0, 0, time.UTC), intervals[0].End)
}

func TestReversedLiveIntervalDropped(t *testing.T) {
	comments := []tracker.RawComment{
		{ID: "1", Body: "typo: [22/07/2025 13:18, 22/07/2025 07:03]"},
	}
	intervals, warnings := LiveIntervals(comments)

	assert.Empty(t, intervals)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "reversed live interval")
}
