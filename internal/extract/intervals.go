package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/tareqmamari/inc-correlator/internal/ticket"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

const (
	intervalLayout = "02/01/2006 15:04"
	timelineLayout = "20060102 15:04"
)

// LiveIntervals extracts actual execution windows from comment bodies.
// Intervals look like [DD/MM/YYYY HH:MM, DD/MM/YYYY HH:MM]; a missing end
// date reuses the start date. Reversed intervals are dropped with a warning.
func LiveIntervals(comments []tracker.RawComment) ([]ticket.Interval, []string) {
	intervals := make([]ticket.Interval, 0, 2)
	var warnings []string

	for _, comment := range comments {
		if comment.Body == "" {
			continue
		}
		for _, m := range intervalPattern.FindAllStringSubmatch(comment.Body, -1) {
			startDate, startClock, endDate, endClock := m[1], m[2], m[3], m[4]
			if endDate == "" {
				endDate = startDate
			}

			start, err := time.ParseInLocation(intervalLayout, startDate+" "+startClock, time.UTC)
			if err != nil {
				continue
			}
			end, err := time.ParseInLocation(intervalLayout, endDate+" "+endClock, time.UTC)
			if err != nil {
				continue
			}

			if end.Before(start) {
				warnings = append(warnings,
					fmt.Sprintf("Dropped reversed live interval [%s %s, %s %s]", startDate, startClock, endDate, endClock))
				continue
			}
			intervals = append(intervals, ticket.Interval{Start: start, End: end})
		}
	}

	return intervals, warnings
}

// TimelineEntries extracts operator timeline lines from an incident
// description. A line looks like "YYYYMMDD HH:MM - user: action".
// Unparseable lines are skipped.
func TimelineEntries(description string) []ticket.TimelineEntry {
	if description == "" {
		return nil
	}

	var entries []ticket.TimelineEntry
	for _, m := range timelinePattern.FindAllStringSubmatch(description, -1) {
		ts, err := time.ParseInLocation(timelineLayout, m[1]+" "+m[2], time.UTC)
		if err != nil {
			continue
		}
		entries = append(entries, ticket.TimelineEntry{
			Timestamp: ts,
			User:      strings.ToLower(m[3]),
			Action:    strings.TrimSpace(m[4]),
		})
	}
	return entries
}

// FirstImpactTime returns the timestamp of the first timeline entry, nil when
// there is no timeline.
func FirstImpactTime(entries []ticket.TimelineEntry) *time.Time {
	if len(entries) == 0 {
		return nil
	}
	ts := entries[0].Timestamp
	return &ts
}
