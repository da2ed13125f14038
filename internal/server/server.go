// Package server exposes the ingestion, session/event query and prediction
// APIs over HTTP, plus a Server-Sent Events stream of flow events for
// dashboards.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/internal/flowlog"
	"github.com/thebtf/kiln/internal/pipeline"
	"github.com/thebtf/kiln/internal/predict"
	"github.com/thebtf/kiln/internal/sse"
	"github.com/thebtf/kiln/internal/store"
)

// Service wires the HTTP surface onto the pipeline and prediction engine.
type Service struct {
	version      string
	config       *config.Config
	orchestrator *pipeline.Orchestrator
	flow         *flowlog.Log
	engine       *predict.Engine
	adapters     []store.Adapter
	broadcaster  *sse.Broadcaster
	router       chi.Router
	httpServer   *http.Server
	startTime    time.Time
}

// Deps bundles the service's collaborators.
type Deps struct {
	Version      string
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Flow         *flowlog.Log
	Engine       *predict.Engine
	Adapters     []store.Adapter
	Broadcaster  *sse.Broadcaster
}

// New creates the HTTP service and registers its routes.
func New(deps Deps) *Service {
	svc := &Service{
		version:      deps.Version,
		config:       deps.Config,
		orchestrator: deps.Orchestrator,
		flow:         deps.Flow,
		engine:       deps.Engine,
		adapters:     deps.Adapters,
		broadcaster:  deps.Broadcaster,
		router:       chi.NewRouter(),
		startTime:    time.Now(),
	}
	svc.setupRoutes()
	return svc
}

// Router exposes the configured router, mainly for tests.
func (s *Service) Router() chi.Router {
	return s.router
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/sessions/active", s.handleActiveSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCancelSession)
		r.Get("/events/recent", s.handleRecentEvents)
		r.Get("/events/stream", s.handleEventStream)
		r.Get("/items/{id}/events", s.handleItemEvents)
		r.Post("/predict/success", s.handlePredictSuccess)
		r.Post("/predict/roi", s.handlePredictROI)
		r.Post("/predict/strategy", s.handlePredictStrategy)
		r.Post("/retrain", s.handleRetrain)
		r.Post("/outcomes", s.handleOutcomes)
		r.Post("/reconcile", s.handleReconcile)
		r.Get("/health", s.handleHealth)
	})
}

// Start runs the HTTP server until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.config.HTTPPort).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
