// Package extract turns raw tracker issues into normalized tickets. The
// normalizer is deterministic: the same raw issue and comments always produce
// the same ticket, so extractions are cacheable and rescoring never needs
// tracker I/O.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/ticket"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

// trackerTimeLayout matches the tracker's timestamp prefix; the zone suffix
// varies per installation and is cut off before parsing.
const trackerTimeLayout = "2006-01-02T15:04:05"

// Normalizer converts raw issues into normalized tickets.
type Normalizer struct {
	rules    *Rules
	fields   FieldMap
	synonyms map[string][]string
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFieldMap overrides the custom-field mapping.
func WithFieldMap(fields FieldMap) Option {
	return func(n *Normalizer) { n.fields = fields }
}

// WithSynonyms overrides the service synonym table.
func WithSynonyms(synonyms map[string][]string) Option {
	return func(n *Normalizer) { n.synonyms = synonyms }
}

// WithClock overrides the extraction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// DefaultSynonyms returns the built-in service synonym table. Keys are
// canonical service names, values are aliases matched as substrings.
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"customer area":     {"adc", "area de clientes", "customer system", "arsys customer panel", "área de clientes"},
		"control panel":     {"pdc", "panel de control", "control panels"},
		"s3 object storage": {"s3", "object storage", "ic-s3", "cloudian", "hyperstore"},
		"block storage":     {"ic-block storage", "block storage"},
		"compute":           {"ic-compute", "compute platform", "compute provisioning"},
		"network":           {"ic-network", "network platform", "network provisioning"},
		"mail":              {"email", "e-mail", "mail platform", "dovecot", "postfix"},
		"dns":               {"domain", "dns platform"},
		"dedicated server":  {"dedicated", "bare metal", "physical server"},
		"cloud server":      {"ngcs", "vps", "v-server", "cloud nx"},
		"webhosting":        {"shared hosting", "sharedhosting", "web hosting"},
		// keycloak commonly runs on the kubernetes platform
		"kubernetes": {"k8s", "container registry", "ic-kubernetes", "keycloak"},
	}
}

// New creates a Normalizer with the default rules, field map and synonyms.
func New(logger *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		rules:    DefaultRules(),
		fields:   DefaultFieldMap(),
		synonyms: DefaultSynonyms(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts a raw issue and its comments into a normalized ticket.
func (n *Normalizer) Normalize(issue *tracker.RawIssue, comments []tracker.RawComment) *ticket.Ticket {
	fields := issue.Fields
	kind := ticket.KindFromIssueType(fields.IssueType.Name)

	var warnings []string

	// The entity pool is summary, description and all comment bodies.
	var pool strings.Builder
	pool.WriteString(fields.Summary)
	pool.WriteString(" ")
	pool.WriteString(fields.Description)
	for _, c := range comments {
		pool.WriteString(" ")
		pool.WriteString(c.Body)
	}
	fullText := pool.String()

	timeline := TimelineEntries(fields.Description)
	liveIntervals, intervalWarnings := LiveIntervals(comments)
	warnings = append(warnings, intervalWarnings...)

	affectedBUs := n.customStrings(fields, FieldAffectedBusinessUnits)

	times := ticket.Times{
		CreatedAt:       n.parseTime(fields.Created, "created", &warnings),
		UpdatedAt:       n.parseTime(fields.Updated, "updated", &warnings),
		ResolvedAt:      n.parseTime(fields.ResolutionDate, "resolved", &warnings),
		FirstImpactTime: FirstImpactTime(timeline),
		PlannedStart:    n.parseTime(n.customString(fields, FieldStartDateTime), "planned_start", &warnings),
		PlannedEnd:      n.parseTime(n.customString(fields, FieldEndDateTime), "planned_end", &warnings),
		LiveIntervals:   liveIntervals,
	}

	if times.PlannedStart != nil && times.PlannedEnd != nil && times.PlannedEnd.Before(*times.PlannedStart) {
		warnings = append(warnings, "Dropped reversed planned window")
		times.PlannedStart = nil
		times.PlannedEnd = nil
	}
	if kind == ticket.KindChange && len(liveIntervals) == 0 {
		warnings = append(warnings, "No live intervals found in comments, using planned window")
	}

	owner := n.customString(fields, FieldChangeOwner)
	if owner == "" {
		owner = n.customString(fields, FieldIncidentOwner)
	}

	t := &ticket.Ticket{
		Key:     issue.Key,
		Kind:    kind,
		Summary: fields.Summary,
		Times:   times,
		Entities: ticket.Entities{
			Services:     n.rules.Services(fullText, affectedBUs, n.synonyms),
			Hosts:        n.rules.Hosts(fullText),
			Technologies: n.rules.Technologies(fullText),
		},
		Organization: ticket.Organization{
			Team:           n.customString(fields, FieldResponsibleEntity),
			Assignee:       userName(fields.Assignee),
			Reporter:       userName(fields.Reporter),
			Owner:          owner,
			PeopleInvolved: n.peopleInvolved(fields, comments, timeline),
		},
		Classification: ticket.Classification{
			Cause:          n.customString(fields, FieldCause),
			Effect:         n.customString(fields, FieldEffect),
			Resolution:     namedName(fields.Resolution),
			ChangeCategory: n.customString(fields, FieldChangeCategory),
			CustomerImpact: n.customString(fields, FieldCustomerImpact),
			Environments:   ticket.NormalizeSet(n.customStrings(fields, FieldEnvironments)),
		},
		Labels: fields.Labels,
		Extraction: ticket.Extraction{
			Version:     Version,
			ExtractedAt: n.now().UTC().Truncate(time.Second),
			Warnings:    warnings,
			Timeline:    len(timeline),
			Comments:    len(comments),
		},
	}

	n.logger.Debug("Normalized ticket",
		zap.String("key", t.Key),
		zap.String("kind", string(t.Kind)),
		zap.Int("services", len(t.Entities.Services)),
		zap.Int("hosts", len(t.Entities.Hosts)),
		zap.Int("live_intervals", len(t.Times.LiveIntervals)),
		zap.Int("warnings", len(warnings)),
	)

	return t
}

// peopleInvolved unions assignee, reporter, comment authors, timeline users
// and the escalation/permitted-user custom fields. Comment author display
// names are lower-cased with spaces removed to approximate usernames.
func (n *Normalizer) peopleInvolved(fields tracker.Fields, comments []tracker.RawComment, timeline []ticket.TimelineEntry) []string {
	people := make([]string, 0, 4)

	if name := userName(fields.Assignee); name != "" {
		people = append(people, name)
	}
	if name := userName(fields.Reporter); name != "" {
		people = append(people, name)
	}
	for _, c := range comments {
		author := c.Author.DisplayName
		if author == "" {
			author = c.Author.Name
		}
		if author != "" {
			people = append(people, strings.ReplaceAll(strings.ToLower(author), " ", ""))
		}
	}
	for _, entry := range timeline {
		if entry.User != "" {
			people = append(people, entry.User)
		}
	}
	people = append(people, n.customStrings(fields, FieldTechEscalation)...)
	people = append(people, n.customStrings(fields, FieldPermittedUsers)...)

	return ticket.NormalizeSet(people)
}

// parseTime parses a tracker timestamp, appending a warning and returning nil
// when the value is present but unparseable.
func (n *Normalizer) parseTime(value, field string, warnings *[]string) *time.Time {
	if value == "" {
		return nil
	}
	s := value
	if len(s) > len(trackerTimeLayout) {
		s = s[:len(trackerTimeLayout)]
	}
	ts, err := time.ParseInLocation(trackerTimeLayout, s, time.UTC)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Unparseable %s timestamp %q", field, value))
		return nil
	}
	return &ts
}

// customString resolves a logical field to a single string value. Raw values
// may be a JSON string or an object carrying name or value.
func (n *Normalizer) customString(fields tracker.Fields, logical string) string {
	raw, ok := fields.Custom[n.fields[logical]]
	if !ok {
		return ""
	}
	return decodeCustomValue(raw)
}

// customStrings resolves a logical field to a list of strings. Scalar values
// come back as a one-element list.
func (n *Normalizer) customStrings(fields tracker.Fields, logical string) []string {
	raw, ok := fields.Custom[n.fields[logical]]
	if !ok {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if v := decodeCustomValue(item); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	if v := decodeCustomValue(raw); v != "" {
		return []string{v}
	}
	return nil
}

// decodeCustomValue extracts the string payload of one custom-field value.
func decodeCustomValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Name != "" {
			return obj.Name
		}
		return obj.Value
	}
	return ""
}

func userName(u *tracker.User) string {
	if u == nil {
		return ""
	}
	return u.Name
}

func namedName(n *tracker.Named) string {
	if n == nil {
		return ""
	}
	return n.Name
}
