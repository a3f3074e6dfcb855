// Package score ranks candidate changes against an incident. Every final
// score decomposes into four explainable sub-scores plus the exact penalty
// and bonus factors applied, so a ranking is auditable after the fact.
package score

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/ticket"
)

// SubScore is one scoring dimension with its explanation.
type SubScore struct {
	Score   float64  `json:"score"`
	Reason  string   `json:"reason"`
	Matches []string `json:"matches,omitempty"`
}

// Factor is one multiplicative penalty or bonus that was applied.
type Factor struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
	Detail     string  `json:"detail,omitempty"`
}

// RankedCandidate is the scored result for one candidate change.
type RankedCandidate struct {
	Key        string   `json:"issue_key"`
	Summary    string   `json:"summary"`
	FinalScore float64  `json:"final_score"`
	Time       SubScore `json:"time_score"`
	Service    SubScore `json:"service_score"`
	Infra      SubScore `json:"infra_score"`
	Org        SubScore `json:"org_score"`
	Penalties  []Factor `json:"penalties_applied"`
	Bonuses    []Factor `json:"bonuses_applied"`
}

// Ranking is the ordered scoring result for one incident.
type Ranking struct {
	IncidentKey string            `json:"incident_key"`
	Candidates  []RankedCandidate `json:"candidates"`
	Weights     Weights           `json:"weights"`
}

// Scorer scores candidates against incidents. Safe for concurrent use: all
// state is the immutable configuration.
type Scorer struct {
	cfg    *Config
	logger *zap.Logger
}

// NewScorer creates a Scorer; a nil config uses the defaults.
func NewScorer(cfg *Config, logger *zap.Logger) *Scorer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Rank scores every candidate against the incident, filters by the minimum
// score and returns candidates ordered by final score descending, ties broken
// by issue key ascending.
func (s *Scorer) Rank(inc *ticket.Ticket, candidates []*ticket.Ticket) *Ranking {
	ranked := make([]RankedCandidate, 0, len(candidates))
	for _, cand := range candidates {
		rc := s.Score(inc, cand)
		if rc.FinalScore >= s.cfg.Thresholds.MinScore {
			ranked = append(ranked, rc)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return ranked[i].Key < ranked[j].Key
	})

	s.logger.Info("Ranked candidates",
		zap.String("incident", inc.Key),
		zap.Int("scored", len(candidates)),
		zap.Int("ranked", len(ranked)),
	)

	return &Ranking{
		IncidentKey: inc.Key,
		Candidates:  ranked,
		Weights:     s.cfg.Weights.Normalized(),
	}
}

// Score computes the full explainable score of one candidate.
func (s *Scorer) Score(inc, cand *ticket.Ticket) RankedCandidate {
	timeScore := s.timeScore(inc, cand)
	serviceScore := s.serviceScore(inc.Entities.Services, cand.Entities.Services)
	infraScore := s.infraScore(inc.Entities, cand.Entities)
	orgScore := s.orgScore(inc.Organization, cand.Organization)

	w := s.cfg.Weights.Normalized()
	final := w.Time*timeScore.Score +
		w.Service*serviceScore.Score +
		w.Infra*infraScore.Score +
		w.Org*orgScore.Score

	final, penalties := s.applyPenalties(final, cand, serviceScore.Score+infraScore.Score)
	final, bonuses := s.applyBonuses(final, inc, cand)

	return RankedCandidate{
		Key:        cand.Key,
		Summary:    cand.Summary,
		FinalScore: round1(final),
		Time:       timeScore,
		Service:    serviceScore,
		Infra:      infraScore,
		Org:        orgScore,
		Penalties:  penalties,
		Bonuses:    bonuses,
	}
}

// timeScore scores how well the incident's impact instant fits the change's
// execution times. Live intervals dominate; the planned window is the
// fallback with a lower ceiling.
func (s *Scorer) timeScore(inc, cand *ticket.Ticket) SubScore {
	impact := inc.ImpactTime()
	if impact == nil {
		return SubScore{Score: 0, Reason: "no impact time on the incident"}
	}

	maxMinutes := s.cfg.Thresholds.TimeDecayHours * 60

	if len(cand.Times.LiveIntervals) > 0 {
		minDistance := math.Inf(1)
		for _, iv := range cand.Times.LiveIntervals {
			if iv.Contains(*impact) {
				return SubScore{
					Score:  100,
					Reason: fmt.Sprintf("impact %s inside live interval", impact.Format("15:04")),
					Matches: []string{fmt.Sprintf("%s - %s",
						iv.Start.Format("2006-01-02 15:04"), iv.End.Format("15:04"))},
				}
			}
			if d := iv.DistanceMinutes(*impact); d < minDistance {
				minDistance = d
			}
		}

		score := decay(100, minDistance, maxMinutes)
		return SubScore{
			Score:  round1(score),
			Reason: fmt.Sprintf("distance to nearest live interval: %d min", int(minDistance)),
		}
	}

	start, end := cand.Times.PlannedStart, cand.Times.PlannedEnd

	if start != nil && end != nil {
		if !impact.Before(*start) && !impact.After(*end) {
			return SubScore{
				Score: 90,
				Reason: fmt.Sprintf("impact inside planned window [%s-%s]",
					start.Format("15:04"), end.Format("15:04")),
			}
		}
		if impact.Before(*start) {
			return SubScore{Score: 0, Reason: "impact precedes the planned change"}
		}
		distance := impact.Sub(*end).Minutes()
		return SubScore{
			Score:  round1(decay(80, distance, maxMinutes)),
			Reason: fmt.Sprintf("distance to planned end: %d min", int(distance)),
		}
	}

	if start != nil {
		if impact.Before(*start) {
			return SubScore{Score: 0, Reason: "impact precedes the planned change"}
		}
		distance := impact.Sub(*start).Minutes()
		return SubScore{
			Score:  round1(decay(70, distance, maxMinutes)),
			Reason: fmt.Sprintf("distance to planned start: %d min", int(distance)),
		}
	}

	return SubScore{Score: 0, Reason: "no temporal information on the change"}
}

// decay maps a distance in minutes to a score below ceiling with square-root
// falloff, reaching zero at maxMinutes.
func decay(ceiling, distanceMinutes, maxMinutes float64) float64 {
	switch {
	case distanceMinutes <= 0:
		return ceiling
	case distanceMinutes >= maxMinutes:
		return 0
	default:
		return ceiling * (1 - math.Sqrt(distanceMinutes/maxMinutes))
	}
}

// serviceScore scores service overlap: 50 plus scaled Jaccard on any exact
// match, 25 for sharing a related-service ecosystem, otherwise 0.
func (s *Scorer) serviceScore(incServices, candServices []string) SubScore {
	incSet := toSet(incServices)
	candSet := toSet(candServices)

	if len(incSet) == 0 || len(candSet) == 0 {
		return SubScore{Score: 0, Reason: "no services to compare"}
	}

	matches := intersect(incSet, candSet)
	if len(matches) > 0 {
		j := jaccard(incSet, candSet)
		return SubScore{
			Score:   round1(50 + j*50),
			Reason:  fmt.Sprintf("exact service match, Jaccard %.2f", j),
			Matches: matches,
		}
	}

	bestGroup := ""
	bestSize := 0
	var bestMatches []string
	for _, group := range sortedKeys(s.cfg.RelatedGroups) {
		groupSet := toSet(s.cfg.RelatedGroups[group])
		incIn := intersect(incSet, groupSet)
		candIn := intersect(candSet, groupSet)
		if len(incIn) == 0 || len(candIn) == 0 {
			continue
		}
		if size := len(incIn) + len(candIn); size > bestSize {
			bestGroup = group
			bestSize = size
			bestMatches = append(incIn, candIn...)
		}
	}
	if bestGroup != "" {
		return SubScore{
			Score:   25,
			Reason:  fmt.Sprintf("same ecosystem: %s", bestGroup),
			Matches: bestMatches,
		}
	}

	return SubScore{Score: 0, Reason: "no service overlap"}
}

// infraScore combines a binary host match (weight 0.6) with technology
// overlap (weight 0.4). A shared host is treated as near-conclusive.
func (s *Scorer) infraScore(inc, cand ticket.Entities) SubScore {
	incHosts := toSet(inc.Hosts)
	candHosts := toSet(cand.Hosts)
	hostMatches := intersect(incHosts, candHosts)

	incTech := toSet(inc.Technologies)
	candTech := toSet(cand.Technologies)
	techMatches := intersect(incTech, candTech)

	hostScore := 0.0
	if len(hostMatches) > 0 {
		hostScore = 100
	}

	techScore := 0.0
	if len(techMatches) > 0 {
		techScore = 50 + jaccard(incTech, candTech)*50
	}

	final := hostScore*0.6 + techScore*0.4

	var parts []string
	if len(hostMatches) > 0 {
		parts = append(parts, "hosts: "+strings.Join(hostMatches, ", "))
	}
	if len(techMatches) > 0 {
		parts = append(parts, "tech: "+strings.Join(techMatches, ", "))
	}
	reason := "no infrastructure overlap"
	if len(parts) > 0 {
		reason = strings.Join(parts, " | ")
	}

	return SubScore{
		Score:   round1(final),
		Reason:  reason,
		Matches: append(hostMatches, techMatches...),
	}
}

// orgScore scores team equality or containment plus shared people, capped
// at 100.
func (s *Scorer) orgScore(inc, cand ticket.Organization) SubScore {
	total := 0.0
	var matches []string
	var reasons []string

	incTeam := strings.ToLower(strings.TrimSpace(inc.Team))
	candTeam := strings.ToLower(strings.TrimSpace(cand.Team))
	if incTeam != "" && candTeam != "" {
		switch {
		case incTeam == candTeam:
			total += 50
			reasons = append(reasons, "same team")
			matches = append(matches, inc.Team)
		case strings.Contains(candTeam, incTeam) || strings.Contains(incTeam, candTeam):
			total += 25
			reasons = append(reasons, "related team")
		}
	}

	peopleMatches := intersect(toSet(inc.PeopleInvolved), toSet(cand.PeopleInvolved))
	if len(peopleMatches) > 0 {
		total += math.Min(50, float64(len(peopleMatches))*15)
		reasons = append(reasons, fmt.Sprintf("%d people in common", len(peopleMatches)))
		matches = append(matches, peopleMatches...)
	}

	reason := "no organizational overlap"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, " | ")
	}

	return SubScore{
		Score:   math.Min(100, round1(total)),
		Reason:  reason,
		Matches: matches,
	}
}

// applyPenalties multiplies the weighted score by the penalties that apply,
// in fixed order. Duration penalties are skipped on a strong service+infra
// match.
func (s *Scorer) applyPenalties(final float64, cand *ticket.Ticket, serviceInfraSum float64) (float64, []Factor) {
	var applied []Factor
	p := s.cfg.Penalties

	apply := func(name string, mult float64, detail string) {
		final *= mult
		applied = append(applied, Factor{Name: name, Multiplier: mult, Detail: detail})
	}

	if len(cand.Times.LiveIntervals) == 0 {
		apply("no_live_intervals", p.NoLiveIntervals, "")
	}
	if len(cand.Entities.Hosts) == 0 {
		apply("no_hosts", p.NoHosts, "")
	}
	if len(cand.Entities.Services) == 0 {
		apply("no_services", p.NoServices, "")
	}
	if n := len(cand.Entities.Services); n > s.cfg.Thresholds.GenericChangeServices {
		apply("generic_change", p.GenericChange, fmt.Sprintf("%d services", n))
	}

	start, end := cand.Times.PlannedStart, cand.Times.PlannedEnd
	strongMatch := serviceInfraSum > 80
	if start != nil && end != nil && !strongMatch {
		hours := end.Sub(*start).Hours()
		switch {
		case hours > durationQuarterHours:
			apply("long_duration_quarter", p.LongDurationQuarter, fmt.Sprintf("%dh", int(hours)))
		case hours > durationMonthHours:
			apply("long_duration_month", p.LongDurationMonth, fmt.Sprintf("%dh", int(hours)))
		case hours > durationWeekHours:
			apply("long_duration_week", p.LongDurationWeek, fmt.Sprintf("%dh", int(hours)))
		}
	}

	return final, applied
}

// applyBonuses multiplies by at most one proximity bonus, based on the
// absolute gap between the incident anchor and the change's planned start.
func (s *Scorer) applyBonuses(final float64, inc, cand *ticket.Ticket) (float64, []Factor) {
	var applied []Factor
	b := s.cfg.Bonuses

	incTime := inc.Times.FirstImpactTime
	if incTime == nil {
		incTime = inc.Times.PlannedStart
	}
	if incTime == nil {
		incTime = inc.Times.CreatedAt
	}
	candStart := cand.Times.PlannedStart
	if incTime == nil || candStart == nil {
		return final, applied
	}

	diffHours := math.Abs(incTime.Sub(*candStart).Hours())

	apply := func(name string, mult float64) {
		final *= mult
		applied = append(applied, Factor{
			Name:       name,
			Multiplier: mult,
			Detail:     fmt.Sprintf("%.1fh", diffHours),
		})
	}

	switch {
	case diffHours <= proximityExactHours:
		apply("proximity_exact", b.ProximityExact)
	case diffHours <= proximity1hHours:
		apply("proximity_1h", b.Proximity1h)
	case diffHours <= proximity2hHours:
		apply("proximity_2h", b.Proximity2h)
	case diffHours <= proximity4hHours:
		apply("proximity_4h", b.Proximity4h)
	}

	return final, applied
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// intersect returns the sorted intersection of two sets.
func intersect(a, b map[string]struct{}) []string {
	var out []string
	for v := range a {
		if _, ok := b[v]; ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := len(intersect(a, b))
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
