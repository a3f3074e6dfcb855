// Package job orchestrates a full correlation run: credential check,
// incident extraction, candidate discovery, pooled candidate fetch and
// scoring. Job progress is observable through the status board while the run
// is in flight.
package job

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/discovery"
	errs "github.com/tareqmamari/inc-correlator/internal/errors"
	"github.com/tareqmamari/inc-correlator/internal/extract"
	"github.com/tareqmamari/inc-correlator/internal/fetch"
	"github.com/tareqmamari/inc-correlator/internal/metrics"
	"github.com/tareqmamari/inc-correlator/internal/score"
	"github.com/tareqmamari/inc-correlator/internal/ticket"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

var incidentKeyPattern = regexp.MustCompile(`^INC-\d+$`)

// Tracker is the full tracker surface a correlation run needs.
type Tracker interface {
	Issue(ctx context.Context, key string) (*tracker.RawIssue, error)
	Comments(ctx context.Context, key string) ([]tracker.RawComment, error)
	SearchKeys(ctx context.Context, jql string, maxResults int) ([]string, error)
	Myself(ctx context.Context) (string, error)
}

// Request describes one correlation run.
type Request struct {
	// Seed is the incident key, INC-<digits>. Ignored when Virtual is set.
	Seed string `json:"seed"`
	// Virtual replaces the tracker incident with a caller-provided seed.
	// Virtual seeds skip the seed fetch entirely.
	Virtual *VirtualSeed `json:"virtual,omitempty"`

	// Window is the lookback window, e.g. "48h", "7d". Empty means 48h.
	Window string `json:"window,omitempty"`
	// WindowAfter extends the window search past the incident instant.
	// Empty means 2h.
	WindowAfter string `json:"window_after,omitempty"`
	// ExtraFilter is an additional query clause AND-composed into every
	// discovery search.
	ExtraFilter string `json:"extra_filter,omitempty"`
	// MaxResults caps each discovery search; clamped to [10, 2000].
	MaxResults int `json:"max_results,omitempty"`
	// IncludeActive adds changes spanning the incident instant.
	// Omitted means true.
	IncludeActive *bool `json:"include_active,omitempty"`
	// IncludeNoEnd adds open-ended changes started before the incident.
	// Omitted means true.
	IncludeNoEnd *bool `json:"include_no_end,omitempty"`
	// IncludeExternalMaintenance keeps EXTERNAL_MAINTENANCE candidates.
	IncludeExternalMaintenance bool `json:"include_external_maintenance"`

	// Scoring overrides the coordinator's scoring configuration for this
	// run only.
	Scoring *score.Config `json:"scoring,omitempty"`
}

// virtualSeedKey names virtual incidents that carry no name of their own.
const virtualSeedKey = "VIRTUAL"

// VirtualSeed is a caller-provided incident used in place of a tracker
// ticket. Only the fields the scorer consumes are accepted on the wire; the
// internal ticket model never crosses the API boundary.
type VirtualSeed struct {
	Name         string    `json:"name,omitempty"`
	ImpactTime   time.Time `json:"impact_time"`
	Services     []string  `json:"services,omitempty"`
	Hosts        []string  `json:"hosts,omitempty"`
	Technologies []string  `json:"technologies,omitempty"`
	Team         string    `json:"team,omitempty"`
}

// Key returns the seed identifier used for job bookkeeping.
func (v *VirtualSeed) Key() string {
	if v.Name != "" {
		return v.Name
	}
	return virtualSeedKey
}

// ticket maps the wire shape onto the internal model.
func (v *VirtualSeed) ticket() *ticket.Ticket {
	impact := v.ImpactTime.UTC()
	return &ticket.Ticket{
		Key:     v.Key(),
		Kind:    ticket.KindIncident,
		Summary: v.Name,
		Times:   ticket.Times{FirstImpactTime: &impact},
		Entities: ticket.Entities{
			Services:     ticket.NormalizeSet(v.Services),
			Hosts:        ticket.NormalizeSet(v.Hosts),
			Technologies: ticket.NormalizeSet(v.Technologies),
		},
		Organization: ticket.Organization{Team: v.Team},
	}
}

// Result is the outcome of a completed correlation run.
type Result struct {
	JobID      string            `json:"job_id"`
	Incident   *ticket.Ticket    `json:"incident"`
	Candidates []*ticket.Ticket  `json:"candidates"`
	Ranking    *score.Ranking    `json:"ranking"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Coordinator runs correlation jobs.
type Coordinator struct {
	tracker     Tracker
	normalizer  *extract.Normalizer
	scorer      *score.Scorer
	project     string
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
	board       *Board
}

// NewCoordinator wires a Coordinator. The metrics tracker may be nil.
func NewCoordinator(t Tracker, n *extract.Normalizer, s *score.Scorer, project string, concurrency int, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		tracker:     t,
		normalizer:  n,
		scorer:      s,
		project:     project,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
		board:       NewBoard(),
	}
}

// Board exposes the status board for the HTTP surface.
func (c *Coordinator) Board() *Board {
	return c.board
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Run executes one correlation job to completion under the given ID. An
// empty jobID gets a fresh one. Cancellation at any phase fails the job and
// discards partial scoring output.
func (c *Coordinator) Run(ctx context.Context, jobID string, req Request) (*Result, error) {
	if req.Virtual == nil && !incidentKeyPattern.MatchString(req.Seed) {
		return nil, errs.NewInvalidInput("seed must look like INC-12345")
	}
	if req.Virtual != nil && req.Virtual.ImpactTime.IsZero() {
		return nil, errs.NewInvalidInput("virtual seed requires impact_time")
	}
	if jobID == "" {
		jobID = NewJobID()
	}

	opts := discovery.DefaultOptions()
	if req.IncludeActive != nil {
		opts.IncludeActive = *req.IncludeActive
	}
	if req.IncludeNoEnd != nil {
		opts.IncludeNoEnd = *req.IncludeNoEnd
	}
	opts.ExtraFilter = req.ExtraFilter
	if req.MaxResults > 0 {
		opts.MaxResults = req.MaxResults
	}
	if req.Window != "" {
		window, err := discovery.ParseWindow(req.Window)
		if err != nil {
			return nil, err
		}
		opts.Window = window
	}
	if req.WindowAfter != "" {
		after, err := discovery.ParseWindow(req.WindowAfter)
		if err != nil {
			return nil, err
		}
		opts.WindowAfter = after
	}

	seed := req.Seed
	if req.Virtual != nil {
		seed = req.Virtual.Key()
	}
	c.board.register(jobID, seed)
	if c.metrics != nil {
		c.metrics.RecordJobStart()
	}

	result, err := c.run(ctx, jobID, seed, req, opts)
	if err != nil {
		c.board.fail(jobID, err)
		if c.metrics != nil {
			c.metrics.RecordJobEnd(false)
		}
		return nil, err
	}

	c.board.setPhase(jobID, PhaseCompleted)
	if c.metrics != nil {
		c.metrics.RecordJobEnd(true)
	}
	return result, nil
}

func (c *Coordinator) run(ctx context.Context, jobID, seed string, req Request, opts discovery.Options) (*Result, error) {
	logger := c.logger.With(zap.String("job_id", jobID), zap.String("seed", seed))

	// Credential check before any heavier work.
	if _, err := c.tracker.Myself(ctx); err != nil {
		return nil, err
	}

	c.board.setPhase(jobID, PhaseExtracting)
	phaseStart := time.Now()

	var incident *ticket.Ticket
	if req.Virtual != nil {
		incident = req.Virtual.ticket()
	}
	seedCost := 0
	if incident == nil {
		seedCost = 1
		issue, err := c.tracker.Issue(ctx, seed)
		if err != nil {
			return nil, err
		}
		comments, err := c.tracker.Comments(ctx, seed)
		if err != nil {
			logger.Warn("Seed comment fetch failed, continuing without comments", zap.Error(err))
			comments = nil
		}
		incident = c.normalizer.Normalize(issue, comments)
	}

	anchor := incident.ImpactTime()
	if anchor == nil {
		return nil, errs.NewInvalidInput("incident has no impact or creation time")
	}

	discoverer := discovery.New(c.tracker, c.project, logger)
	keys, err := discoverer.Discover(ctx, *anchor, opts)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	total := seedCost + len(keys)
	c.board.setProgress(jobID, seedCost, total)

	pool := fetch.New(c.tracker, c.normalizer, c.metrics, logger, c.concurrency)
	fetched := pool.Fetch(ctx, keys, func(done, t int) {
		c.board.setProgress(jobID, seedCost+done, total)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.metrics != nil {
		c.metrics.RecordPhase("fetch", time.Since(phaseStart))
	}

	candidates := filterKinds(fetched.Tickets, req.IncludeExternalMaintenance)

	scorer := c.scorer
	if req.Scoring != nil {
		scorer = score.NewScorer(req.Scoring, logger)
	}

	c.board.setPhase(jobID, PhaseScoring)
	scoreStart := time.Now()
	ranking := scorer.Rank(incident, candidates)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.metrics != nil {
		c.metrics.RecordPhase("score", time.Since(scoreStart))
		c.metrics.RecordCandidatesScored(len(candidates))
	}

	fetchErrors := make(map[string]string, len(fetched.Errors))
	for key, ferr := range fetched.Errors {
		fetchErrors[key] = ferr.Error()
	}

	logger.Info("Correlation job finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("ranked", len(ranking.Candidates)),
		zap.Int("fetch_errors", len(fetchErrors)),
	)

	return &Result{
		JobID:      jobID,
		Incident:   incident,
		Candidates: candidates,
		Ranking:    ranking,
		Errors:     fetchErrors,
	}, nil
}

// filterKinds keeps changes, and external maintenance when requested.
// Incidents or unknown kinds returned by discovery are dropped.
func filterKinds(tickets []*ticket.Ticket, includeExternal bool) []*ticket.Ticket {
	out := make([]*ticket.Ticket, 0, len(tickets))
	for _, t := range tickets {
		switch t.Kind {
		case ticket.KindChange:
			out = append(out, t)
		case ticket.KindExternalMaintenance:
			if includeExternal {
				out = append(out, t)
			}
		}
	}
	return out
}
