package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	errs "github.com/tareqmamari/inc-correlator/internal/errors"
	"github.com/tareqmamari/inc-correlator/internal/job"
	"github.com/tareqmamari/inc-correlator/internal/score"
	"github.com/tareqmamari/inc-correlator/internal/session"
	"github.com/tareqmamari/inc-correlator/internal/ticket"
)

// jobTimeout bounds a detached correlation run.
const jobTimeout = 30 * time.Minute

// analysisPayload is the extraction blob persisted per job.
type analysisPayload struct {
	Incident   *ticket.Ticket    `json:"incident"`
	Candidates []*ticket.Ticket  `json:"candidates"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExtract starts a correlation job and returns its ID immediately.
// The job runs detached, authenticated with the caller's credentials.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.NewInvalidInput("invalid request body: "+err.Error()))
		return
	}

	window := req.Window
	if window == "" {
		window = "48h"
	}

	jobID := job.NewJobID()
	creds, _ := session.FromContext(r.Context())

	seed := req.Seed
	if req.Virtual != nil {
		seed = req.Virtual.Key()
	}
	if err := s.store.CreateJob(r.Context(), jobID, seed, window, creds.Username); err != nil {
		s.writeError(w, err)
		return
	}

	go s.runJob(jobID, req, creds)

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "pending",
	})
}

// runJob executes a correlation job detached from the originating request
// and persists its outcome.
func (s *Server) runJob(jobID string, req job.Request, creds session.Credentials) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if creds.Valid() {
		ctx = session.WithCredentials(ctx, creds)
	}

	if req.Scoring == nil {
		if cfg, err := s.store.ScoringConfig(ctx); err == nil {
			req.Scoring = cfg
		}
	}

	result, err := s.coordinator.Run(ctx, jobID, req)
	if err != nil {
		msg := err.Error()
		if uerr := s.store.UpdateJobStatus(ctx, jobID, "failed", nil, nil, &msg); uerr != nil {
			s.logger.Error("Failed to persist job failure", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return
	}

	payload := analysisPayload{
		Incident:   result.Incident,
		Candidates: result.Candidates,
		Errors:     result.Errors,
	}
	if err := s.store.SaveExtraction(ctx, jobID, payload); err != nil {
		s.logger.Error("Failed to persist extraction", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := s.store.SaveRanking(ctx, jobID, result.Ranking.Weights, result.Ranking); err != nil {
		s.logger.Error("Failed to persist ranking", zap.String("job_id", jobID), zap.Error(err))
	}

	total := len(result.Candidates)
	if err := s.store.UpdateJobStatus(ctx, jobID, "completed", &total, &total, nil); err != nil {
		s.logger.Error("Failed to persist job completion", zap.String("job_id", jobID), zap.Error(err))
	}
	s.cache.Delete("ranking:" + jobID)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.store.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Live board state wins over the persisted snapshot.
	for i := range records {
		if live, ok := s.coordinator.Board().Get(records[i].JobID); ok {
			records[i].Status = string(live.Phase)
			records[i].Progress = live.Done
			if live.Total > 0 {
				t := live.Total
				records[i].Total = &t
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": records})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	record, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if record == nil {
		s.writeError(w, errs.New(errs.CodeTicketNotFound, errs.NotFound, "Job not found"))
		return
	}

	if live, ok := s.coordinator.Board().Get(jobID); ok {
		record.Status = string(live.Phase)
		record.Progress = live.Done
		if live.Total > 0 {
			t := live.Total
			record.Total = &t
		}
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if live, ok := s.coordinator.Board().Get(jobID); ok && !live.Phase.Terminal() {
		s.writeError(w, errs.NewInvalidInput("job is still running"))
		return
	}
	s.coordinator.Board().Forget(jobID)

	deleted, err := s.store.DeleteJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, errs.New(errs.CodeTicketNotFound, errs.NotFound, "Job not found"))
		return
	}

	s.cache.Delete("ranking:" + jobID)
	w.WriteHeader(http.StatusNoContent)
}

// rescoreRequest reuses a persisted extraction with different scoring
// parameters. Omitted sections keep the stored defaults.
type rescoreRequest struct {
	JobID      string            `json:"job_id"`
	Weights    *score.Weights    `json:"weights,omitempty"`
	Thresholds *score.Thresholds `json:"thresholds,omitempty"`
	Penalties  *score.Penalties  `json:"penalties,omitempty"`
	Bonuses    *score.Bonuses    `json:"bonuses,omitempty"`
}

// handleRescore recomputes a ranking from the stored extraction without any
// tracker I/O.
func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	var req rescoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.NewInvalidInput("invalid request body: "+err.Error()))
		return
	}
	if req.JobID == "" {
		s.writeError(w, errs.NewInvalidInput("job_id is required"))
		return
	}

	var payload analysisPayload
	found, err := s.store.GetExtraction(r.Context(), req.JobID, &payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, errs.New(errs.CodeTicketNotFound, errs.NotFound, "No extraction for this job"))
		return
	}

	cfg, err := s.store.ScoringConfig(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Weights != nil {
		cfg.Weights = *req.Weights
	}
	if req.Thresholds != nil {
		cfg.Thresholds = *req.Thresholds
	}
	if req.Penalties != nil {
		cfg.Penalties = *req.Penalties
	}
	if req.Bonuses != nil {
		cfg.Bonuses = *req.Bonuses
	}
	if err := cfg.Validate(); err != nil {
		s.writeError(w, errs.New(errs.CodeInvalidWeights, errs.Config, err.Error()))
		return
	}

	scorer := score.NewScorer(cfg, s.logger)
	ranking := scorer.Rank(payload.Incident, payload.Candidates)

	if err := s.store.SaveRanking(r.Context(), req.JobID, ranking.Weights, ranking); err != nil {
		s.writeError(w, err)
		return
	}
	s.cache.Delete("ranking:" + req.JobID)

	s.writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	top, err := s.store.TopResults(r.Context(), s.cfg.TopResults)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, errs.NewInvalidInput("top must be a positive integer"))
			return
		}
		top = n
	}

	cacheKey := "ranking:" + jobID
	var ranking score.Ranking
	if cached, ok := s.cache.Get(cacheKey); ok {
		ranking = cached.(score.Ranking)
	} else {
		found, err := s.store.LatestRanking(r.Context(), jobID, &ranking)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !found {
			s.writeError(w, errs.New(errs.CodeTicketNotFound, errs.NotFound, "No ranking for this job"))
			return
		}
		s.cache.Set(cacheKey, ranking, rankingCacheTTL)
	}

	if top < len(ranking.Candidates) {
		ranking.Candidates = ranking.Candidates[:top]
	}
	s.writeJSON(w, http.StatusOK, ranking)
}

// handleChangeDetail returns one candidate's normalized ticket together with
// its scored entry from the latest ranking.
func (s *Server) handleChangeDetail(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")

	var payload analysisPayload
	found, err := s.store.GetExtraction(r.Context(), jobID, &payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, errs.New(errs.CodeTicketNotFound, errs.NotFound, "No extraction for this job"))
		return
	}

	var candidate *ticket.Ticket
	for _, c := range payload.Candidates {
		if c.Key == key {
			candidate = c
			break
		}
	}
	if candidate == nil {
		s.writeError(w, errs.NewTicketNotFound(key))
		return
	}

	response := map[string]interface{}{"ticket": candidate}
	var ranking score.Ranking
	if ok, _ := s.store.LatestRanking(r.Context(), jobID, &ranking); ok {
		for i := range ranking.Candidates {
			if ranking.Candidates[i].Key == key {
				response["score"] = ranking.Candidates[i]
				break
			}
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.ScoringConfig(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg.Weights)
}

func (s *Server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var weights score.Weights
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		s.writeError(w, errs.NewInvalidInput("invalid request body: "+err.Error()))
		return
	}
	if weights.Time < 0 || weights.Service < 0 || weights.Infra < 0 || weights.Org < 0 ||
		weights.Time+weights.Service+weights.Infra+weights.Org == 0 {
		s.writeError(w, errs.New(errs.CodeInvalidWeights, errs.Config, "weights must be non-negative with a positive sum"))
		return
	}

	if err := s.store.SetWeights(r.Context(), weights); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, weights)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.GetStats())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy to HTTP statuses and renders the
// structured error as the response body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var se *errs.StructuredError
	if !errors.As(err, &se) {
		se = errs.New("INTERNAL", errs.Transient, err.Error())
	}

	status := http.StatusInternalServerError
	switch se.Category {
	case errs.Auth:
		status = http.StatusUnauthorized
		if se.Code == errs.CodeForbidden {
			status = http.StatusForbidden
		}
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.RateLimit:
		status = http.StatusTooManyRequests
	case errs.Config:
		status = http.StatusBadRequest
	case errs.Parse:
		status = http.StatusUnprocessableEntity
	case errs.Transient:
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]interface{}{"error": se})
}
