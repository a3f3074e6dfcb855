package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSearcher answers queries by substring match on the JQL and records
// every query and result cap it saw.
type fakeSearcher struct {
	results map[string][]string // substring -> keys
	errs    map[string]error    // substring -> error
	queries []string
	limits  []int
}

func (f *fakeSearcher) SearchKeys(_ context.Context, jql string, maxResults int) ([]string, error) {
	f.queries = append(f.queries, jql)
	f.limits = append(f.limits, maxResults)
	for sub, err := range f.errs {
		if strings.Contains(jql, sub) {
			return nil, err
		}
	}
	for sub, keys := range f.results {
		if strings.Contains(jql, sub) {
			return keys, nil
		}
	}
	return nil, nil
}

var incidentAt = time.Date(2025, 7, 22, 8, 0, 0, 0, time.UTC)

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"48h", 48 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"1h", time.Hour, false},
		{"", 0, true},
		{"48", 0, true},
		{"h", 0, true},
		{"-2h", 0, true},
		{"2w", 0, true},
		{"0h", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseWindow(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
		} else {
			require.NoError(t, err, "input %q", tc.in)
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}

func TestDiscoverUnionsSearches(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]string{
		`"Start Date/Time" >= `: {"TECCM-3", "TECCM-1"},
		`"End Date/Time" >= `:   {"TECCM-1", "TECCM-2"},
		`IS EMPTY`:              {"TECCM-4"},
	}}
	d := New(searcher, "TECCM", zap.NewNop())

	keys, err := d.Discover(context.Background(), incidentAt, DefaultOptions())

	require.NoError(t, err)
	assert.Equal(t, []string{"TECCM-1", "TECCM-2", "TECCM-3", "TECCM-4"}, keys)
	assert.Len(t, searcher.queries, 3)
}

func TestDiscoverQueryShape(t *testing.T) {
	searcher := &fakeSearcher{}
	d := New(searcher, "TECCM", zap.NewNop())

	opts := DefaultOptions()
	opts.IncludeActive = false
	opts.IncludeNoEnd = false

	_, err := d.Discover(context.Background(), incidentAt, opts)
	require.NoError(t, err)

	require.Len(t, searcher.queries, 1)
	q := searcher.queries[0]
	assert.Contains(t, q, "project = TECCM")
	// 48h lookback before the incident, 2h margin after it.
	assert.Contains(t, q, `"Start Date/Time" >= "2025-07-20 08:00"`)
	assert.Contains(t, q, `"Start Date/Time" <= "2025-07-22 10:00"`)
	assert.Contains(t, q, `ORDER BY "Start Date/Time" DESC`)
}

func TestDiscoverSkipFlags(t *testing.T) {
	searcher := &fakeSearcher{}
	d := New(searcher, "TECCM", zap.NewNop())

	opts := DefaultOptions()
	opts.IncludeNoEnd = false

	_, err := d.Discover(context.Background(), incidentAt, opts)
	require.NoError(t, err)

	assert.Len(t, searcher.queries, 2)
	for _, q := range searcher.queries {
		assert.NotContains(t, q, "IS EMPTY")
	}
}

func TestDiscoverPartialFailure(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]string{`IS EMPTY`: {"TECCM-9"}},
		errs:    map[string]error{`"End Date/Time" >= `: errors.New("search timeout")},
	}
	d := New(searcher, "TECCM", zap.NewNop())

	keys, err := d.Discover(context.Background(), incidentAt, DefaultOptions())

	// One failed search contributes nothing but does not fail the run.
	require.NoError(t, err)
	assert.Equal(t, []string{"TECCM-9"}, keys)
}

func TestDiscoverAllSearchesFail(t *testing.T) {
	boom := errors.New("tracker down")
	searcher := &fakeSearcher{errs: map[string]error{"project = TECCM": boom}}
	d := New(searcher, "TECCM", zap.NewNop())

	keys, err := d.Discover(context.Background(), incidentAt, DefaultOptions())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, keys)
}

func TestDiscoverDefaultsApplied(t *testing.T) {
	searcher := &fakeSearcher{}
	d := New(searcher, "TECCM", zap.NewNop())

	_, err := d.Discover(context.Background(), incidentAt, Options{IncludeActive: true})
	require.NoError(t, err)

	// Zero window falls back to 48h, zero margin to 2h, zero cap to 500.
	assert.Contains(t, searcher.queries[0], "2025-07-20 08:00")
	assert.Contains(t, searcher.queries[0], "2025-07-22 10:00")
	assert.Equal(t, 500, searcher.limits[0])
}

func TestDiscoverExtraFilter(t *testing.T) {
	searcher := &fakeSearcher{}
	d := New(searcher, "TECCM", zap.NewNop())

	opts := DefaultOptions()
	opts.ExtraFilter = `component = "mail"`

	_, err := d.Discover(context.Background(), incidentAt, opts)
	require.NoError(t, err)

	require.Len(t, searcher.queries, 3)
	for _, q := range searcher.queries {
		assert.Contains(t, q, `project = TECCM AND (component = "mail") AND `)
	}
}

func TestDiscoverWindowAfter(t *testing.T) {
	searcher := &fakeSearcher{}
	d := New(searcher, "TECCM", zap.NewNop())

	opts := DefaultOptions()
	opts.WindowAfter = 4 * time.Hour
	opts.IncludeActive = false
	opts.IncludeNoEnd = false

	_, err := d.Discover(context.Background(), incidentAt, opts)
	require.NoError(t, err)

	require.Len(t, searcher.queries, 1)
	assert.Contains(t, searcher.queries[0], `"Start Date/Time" <= "2025-07-22 12:00"`)
}

func TestDiscoverMaxResultsClamped(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 500},
		{-1, 500},
		{5, 10},
		{10, 10},
		{300, 300},
		{2000, 2000},
		{99999, 2000},
	}

	for _, tc := range cases {
		searcher := &fakeSearcher{}
		d := New(searcher, "TECCM", zap.NewNop())

		opts := DefaultOptions()
		opts.MaxResults = tc.in
		opts.IncludeActive = false
		opts.IncludeNoEnd = false

		_, err := d.Discover(context.Background(), incidentAt, opts)
		require.NoError(t, err)
		require.Len(t, searcher.limits, 1, "max results %d", tc.in)
		assert.Equal(t, tc.want, searcher.limits[0], "max results %d", tc.in)
	}
}
