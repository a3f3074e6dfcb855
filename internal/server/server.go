// Package server exposes the correlator over HTTP: analysis jobs, rankings,
// rescoring and runtime scoring configuration. Every analysis request is
// authenticated with the caller's own tracker credentials via basic auth.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/cache"
	"github.com/tareqmamari/inc-correlator/internal/config"
	"github.com/tareqmamari/inc-correlator/internal/job"
	"github.com/tareqmamari/inc-correlator/internal/metrics"
	"github.com/tareqmamari/inc-correlator/internal/session"
	"github.com/tareqmamari/inc-correlator/internal/store"
)

// rankingCacheTTL bounds staleness of cached ranking reads.
const rankingCacheTTL = 30 * time.Second

// Server is the HTTP surface of the correlator.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	coordinator *job.Coordinator
	metrics     *metrics.Metrics
	cache       *cache.Cache
	logger      *zap.Logger
	httpServer  *http.Server
}

// New wires a Server.
func New(cfg *config.Config, st *store.Store, coordinator *job.Coordinator, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		coordinator: coordinator,
		metrics:     m,
		cache:       cache.New(256),
		logger:      logger,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsEndpoint {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withCredentials)

		r.Route("/analysis", func(r chi.Router) {
			r.Post("/extract", s.handleExtract)
			r.Post("/score", s.handleRescore)
			r.Get("/jobs", s.handleListJobs)
			r.Route("/jobs/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
			})
			r.Get("/{id}/ranking", s.handleRanking)
			r.Get("/{id}/change/{key}", s.handleChangeDetail)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/weights", s.handleGetWeights)
			r.Put("/weights", s.handlePutWeights)
		})

		r.Get("/stats", s.handleStats)
	})

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// withCredentials lifts basic-auth credentials into the session context.
// Requests without credentials proceed; the tracker client rejects them when
// no fallback credentials are configured.
func (s *Server) withCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username, password, ok := r.BasicAuth(); ok {
			ctx := session.WithCredentials(r.Context(), session.Credentials{
				Username: username,
				Password: password,
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
