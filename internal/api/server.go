// Package api is the HTTP and WebSocket facade over the dashboard core.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chaplin/healthboard/internal/analysis"
	"github.com/chaplin/healthboard/internal/auth"
	"github.com/chaplin/healthboard/internal/config"
	"github.com/chaplin/healthboard/internal/drilldown"
	"github.com/chaplin/healthboard/internal/eventstore"
	"github.com/chaplin/healthboard/internal/hub"
	"github.com/chaplin/healthboard/internal/prompts"
	"github.com/chaplin/healthboard/internal/reportcache"
	"github.com/chaplin/healthboard/internal/reports"
	"github.com/chaplin/healthboard/internal/scheduler"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	store        drilldown.Scanner
	cache        *reportcache.Cache
	reports      *reports.Service
	authService  *auth.Service
	hub          *hub.Hub
	orchestrator *analysis.Orchestrator
	prompts      *prompts.Store
	scheduler    *scheduler.Scheduler
	register     *analysis.RedisRegister // nil when the memory register is in use
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(ctx context.Context, cfg *config.Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	store, err := eventstore.New(ctx, eventstore.Config{
		Table:         cfg.DynamoDB.Table,
		Region:        cfg.DynamoDB.Region,
		AssumeRoleARN: cfg.DynamoDB.AssumeRoleARN,
		ExternalID:    cfg.DynamoDB.ExternalID,
		Endpoint:      cfg.DynamoDB.Endpoint,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing event store: %w", err)
	}
	s.store = store

	s.cache, err = reportcache.New(cfg.Cache.Dir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing report cache: %w", err)
	}

	s.reports = reports.NewService(store, s.cache, s.logger)
	s.prompts = prompts.NewStore(cfg.Cache.Dir, s.logger)
	s.authService = auth.NewService(cfg.Auth)
	s.hub = hub.New(s.logger)

	var register analysis.Register
	if cfg.Redis.Enabled {
		redisRegister, err := analysis.NewRedisRegister(analysis.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing redis register: %w", err)
		}
		s.register = redisRegister
		register = redisRegister
	} else {
		register = analysis.NewMemoryRegister()
	}

	runner := analysis.NewRunner(analysis.RunnerConfig{
		Command: cfg.Agent.Command,
		Args:    cfg.Agent.Args,
		Timeout: cfg.Agent.Timeout,
		WorkDir: cfg.Agent.WorkDir,
	}, s.logger)
	s.orchestrator = analysis.NewOrchestrator(runner, s.hub, register, s.prompts, s.logger)

	if cfg.Refresh.Schedule != "" {
		s.scheduler = scheduler.New(s.logger)
		if err := s.scheduler.Add("cache-refresh", cfg.Refresh.Schedule, s.reports.RefreshAll); err != nil {
			return nil, err
		}
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(90 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setupRoutes wires the surface. The cached critical-events GETs and the
// WebSocket endpoint stay outside the auth gate: reading an already-built
// cache is open, triggering regeneration is not.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)
	s.router.Post("/login", s.login)

	s.router.Get("/critical-events-cached", s.criticalEventsCached(reports.KindCriticalEvents))
	s.router.Get("/critical-events-cached-60", s.criticalEventsCached(reports.KindCriticalEvents60))
	s.router.Get("/critical-events-cached-pastdue", s.criticalEventsCached(reports.KindCriticalEventsPastDue))
	s.router.Get("/ws", s.serveWS)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authService.Middleware)

		r.Get("/categories-summary", s.categoriesSummary)
		r.Get("/event-category-stats", s.categoryStats)
		r.Get("/event-type-stats", s.typeStats)
		r.Get("/event-category-details/{id}", s.categoryDetails)
		r.Get("/event-category-details/{id}/pdf", s.categoryDetailsPDF)
		r.Get("/event-type-details/{id}", s.typeDetails)
		r.Get("/insights-report", s.insightsReport)

		r.Post("/drill-down", s.drillDown)
		r.Post("/refresh-cache", s.refreshCache)

		r.Post("/critical-events-refresh", s.criticalEventsRefresh(reports.KindCriticalEvents))
		r.Post("/critical-events-refresh-60", s.criticalEventsRefresh(reports.KindCriticalEvents60))
		r.Post("/critical-events-refresh-pastdue", s.criticalEventsRefresh(reports.KindCriticalEventsPastDue))

		r.Post("/agent-analysis-stream", s.agentAnalysisStream)
		r.Post("/agent-analysis", s.agentAnalysis)
		r.Get("/agent-analysis-result/{submissionID}", s.agentAnalysisResult)
		r.Get("/suggested-prompts", s.suggestedPrompts)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if s.scheduler != nil {
			<-s.scheduler.Stop().Done()
		}
		if s.register != nil {
			s.register.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   apiError{Code: code, Message: message},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
