// Package discovery finds candidate change keys for an incident. Three
// searches run against the tracker and their results are unioned: changes
// that started inside the lookback window, changes active at the incident
// instant, and open-ended changes that started before it.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	errs "github.com/tareqmamari/inc-correlator/internal/errors"
)

// jqlTimeLayout is the timestamp format the tracker's query language accepts.
const jqlTimeLayout = "2006-01-02 15:04"

// Per-search result cap bounds.
const (
	minSearchResults = 10
	maxSearchResults = 2000
)

var windowPattern = regexp.MustCompile(`^(\d+)([hdm])$`)

// ParseWindow parses a lookback window like "48h", "7d" or "30m".
func ParseWindow(s string) (time.Duration, error) {
	m := windowPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, errs.NewInvalidWindow(s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, errs.NewInvalidWindow(s)
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return time.Duration(n) * time.Minute, nil
	}
}

// Searcher is the tracker search surface discovery needs.
type Searcher interface {
	SearchKeys(ctx context.Context, jql string, maxResults int) ([]string, error)
}

// Options control one discovery run.
type Options struct {
	// Window is the lookback before the incident instant.
	Window time.Duration
	// WindowAfter is the margin past the incident instant included in the
	// window search.
	WindowAfter time.Duration
	// ExtraFilter is an additional query clause AND-composed into every
	// search.
	ExtraFilter string
	// IncludeActive adds changes whose planned window spans the incident.
	IncludeActive bool
	// IncludeNoEnd adds open-ended changes started before the incident.
	IncludeNoEnd bool
	// MaxResults caps each individual search, clamped to [10, 2000].
	MaxResults int
}

// DefaultOptions is a 48h lookback with a 2h post-incident margin and all
// searches enabled.
func DefaultOptions() Options {
	return Options{
		Window:        48 * time.Hour,
		WindowAfter:   2 * time.Hour,
		IncludeActive: true,
		IncludeNoEnd:  true,
		MaxResults:    500,
	}
}

// Discoverer runs candidate searches against one tracker project.
type Discoverer struct {
	searcher Searcher
	project  string
	logger   *zap.Logger
}

// New creates a Discoverer for the given project.
func New(searcher Searcher, project string, logger *zap.Logger) *Discoverer {
	return &Discoverer{searcher: searcher, project: project, logger: logger}
}

// Discover returns the sorted union of candidate keys around the incident
// instant. A failed search logs a warning and contributes nothing; the error
// is returned (aggregated) only when every search fails.
func (d *Discoverer) Discover(ctx context.Context, incidentAt time.Time, opts Options) ([]string, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultOptions().Window
	}
	if opts.WindowAfter <= 0 {
		opts.WindowAfter = DefaultOptions().WindowAfter
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultOptions().MaxResults
	}
	if opts.MaxResults < minSearchResults {
		opts.MaxResults = minSearchResults
	}
	if opts.MaxResults > maxSearchResults {
		opts.MaxResults = maxSearchResults
	}

	incidentAt = incidentAt.UTC()
	incStr := incidentAt.Format(jqlTimeLayout)

	scope := fmt.Sprintf("project = %s", d.project)
	if filter := strings.TrimSpace(opts.ExtraFilter); filter != "" {
		scope = fmt.Sprintf("%s AND (%s)", scope, filter)
	}

	queries := []struct {
		name string
		jql  string
		skip bool
	}{
		{
			name: "window",
			jql: fmt.Sprintf(
				`%s AND "Start Date/Time" >= "%s" AND "Start Date/Time" <= "%s" ORDER BY "Start Date/Time" DESC`,
				scope,
				incidentAt.Add(-opts.Window).Format(jqlTimeLayout),
				incidentAt.Add(opts.WindowAfter).Format(jqlTimeLayout),
			),
		},
		{
			name: "active",
			jql: fmt.Sprintf(
				`%s AND "Start Date/Time" <= "%s" AND "End Date/Time" >= "%s" ORDER BY "Start Date/Time" DESC`,
				scope, incStr, incStr,
			),
			skip: !opts.IncludeActive,
		},
		{
			name: "no_end",
			jql: fmt.Sprintf(
				`%s AND "Start Date/Time" <= "%s" AND "End Date/Time" IS EMPTY ORDER BY "Start Date/Time" DESC`,
				scope, incStr,
			),
			skip: !opts.IncludeNoEnd,
		},
	}

	union := make(map[string]struct{})
	var searchErrs *multierror.Error
	ran, failed := 0, 0

	for _, q := range queries {
		if q.skip {
			continue
		}
		ran++

		keys, err := d.searcher.SearchKeys(ctx, q.jql, opts.MaxResults)
		if err != nil {
			failed++
			searchErrs = multierror.Append(searchErrs, fmt.Errorf("%s search: %w", q.name, err))
			d.logger.Warn("Candidate search failed",
				zap.String("search", q.name),
				zap.Error(err),
			)
			continue
		}

		added := 0
		for _, key := range keys {
			if _, seen := union[key]; !seen {
				union[key] = struct{}{}
				added++
			}
		}
		d.logger.Info("Candidate search completed",
			zap.String("search", q.name),
			zap.Int("found", len(keys)),
			zap.Int("new", added),
		)
	}

	if ran > 0 && failed == ran {
		return []string{}, searchErrs.ErrorOrNil()
	}

	keys := make([]string, 0, len(union))
	for key := range union {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	d.logger.Info("Candidate discovery finished",
		zap.Int("candidates", len(keys)),
		zap.Duration("window", opts.Window),
	)
	return keys, nil
}
