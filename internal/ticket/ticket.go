// Package ticket defines the normalized ticket model produced by the
// extractor. A Ticket is immutable once produced: rescoring with different
// weights reuses the same Ticket, and rankings are recomputable from
// persisted Tickets without tracker I/O.
package ticket

import (
	"sort"
	"strings"
	"time"
)

// Kind identifies the role of a ticket in the correlation.
type Kind string

const (
	KindIncident            Kind = "INCIDENT"
	KindChange              Kind = "CHANGE"
	KindExternalMaintenance Kind = "EXTERNAL_MAINTENANCE"
)

// KindFromIssueType maps a raw issue-type name to a Kind by case-insensitive
// substring match. Unknown types are passed through uppercased.
func KindFromIssueType(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "incident"):
		return KindIncident
	case strings.Contains(lower, "change"):
		return KindChange
	case strings.Contains(lower, "maintenance"):
		return KindExternalMaintenance
	default:
		return Kind(strings.ToUpper(name))
	}
}

// Interval is an actual execution window reported in a change ticket's
// comments, as opposed to the planned window. Start and End are always both
// set and satisfy Start <= End.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval (inclusive).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// DistanceMinutes returns the distance in minutes from t to the interval,
// 0 if t is inside it.
func (iv Interval) DistanceMinutes(t time.Time) float64 {
	switch {
	case t.Before(iv.Start):
		return iv.Start.Sub(t).Minutes()
	case t.After(iv.End):
		return t.Sub(iv.End).Minutes()
	default:
		return 0
	}
}

// Times holds the temporal fields of a ticket. All instants are UTC.
type Times struct {
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	FirstImpactTime *time.Time `json:"first_impact_time,omitempty"`
	PlannedStart    *time.Time `json:"planned_start,omitempty"`
	PlannedEnd      *time.Time `json:"planned_end,omitempty"`
	LiveIntervals   []Interval `json:"live_intervals"`
}

// Entities holds the canonical entity sets extracted from the ticket text.
// All values are lower-cased, deduplicated and sorted.
type Entities struct {
	Services     []string `json:"services"`
	Hosts        []string `json:"hosts"`
	Technologies []string `json:"technologies"`
}

// Organization holds who owns and worked on the ticket.
type Organization struct {
	Team           string   `json:"team,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
	Reporter       string   `json:"reporter,omitempty"`
	Owner          string   `json:"owner,omitempty"`
	PeopleInvolved []string `json:"people_involved"`
}

// Classification holds the tracker's classification custom fields.
type Classification struct {
	Cause          string   `json:"cause,omitempty"`
	Effect         string   `json:"effect,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	ChangeCategory string   `json:"change_category,omitempty"`
	CustomerImpact string   `json:"customer_impact,omitempty"`
	Environments   []string `json:"environments"`
}

// Extraction records how and when the ticket was normalized.
type Extraction struct {
	Version     string    `json:"version"`
	ExtractedAt time.Time `json:"extracted_at"`
	Warnings    []string  `json:"warnings"`
	Timeline    int       `json:"timeline_entries_count"`
	Comments    int       `json:"comments_count"`
}

// TimelineEntry is one line of an incident's operator timeline.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
}

// Ticket is the normalized, immutable record of one tracker issue.
type Ticket struct {
	Key            string         `json:"issue_key"`
	Kind           Kind           `json:"ticket_type"`
	Summary        string         `json:"summary"`
	Times          Times          `json:"times"`
	Entities       Entities       `json:"entities"`
	Organization   Organization   `json:"organization"`
	Classification Classification `json:"classification"`
	Labels         []string       `json:"labels,omitempty"`
	Extraction     Extraction     `json:"_extraction"`
}

// ImpactTime returns the incident's anchor instant: the first timeline entry
// when present, otherwise the creation time. Nil when neither is known.
func (t *Ticket) ImpactTime() *time.Time {
	if t.Times.FirstImpactTime != nil {
		return t.Times.FirstImpactTime
	}
	return t.Times.CreatedAt
}

// NormalizeSet lower-cases, trims, deduplicates and sorts a string set,
// dropping empties. This is the canonical form for all entity sets.
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
