package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/quyetvm183/Encybara/internal/config"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/recommend"
	"github.com/quyetvm183/Encybara/internal/refresh"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// Pinger reports backing store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// componentReporter is implemented by health registries that can report
// each component separately
type componentReporter interface {
	HealthCheckAll(ctx context.Context) map[string]error
}

// Deps groups what the API needs from the rest of the service
type Deps struct {
	Scheduler    *refresh.Scheduler
	Orchestrator *recommend.Orchestrator
	Profiles     storage.ProfileStore
	Enrollments  storage.EnrollmentStore
	Catalog      storage.CatalogStore
	Health       Pinger
	Clients      []*models.ApiClient
}

// Server represents the operator HTTP API
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	deps           Deps
	authMiddleware *AuthMiddleware
	refreshGroup   singleflight.Group
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		config:         cfg,
		deps:           deps,
		authMiddleware: NewAuthMiddleware(deps.Clients...),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Public endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		r.With(s.authMiddleware.RequirePermission(models.PermRefreshWrite)).Post("/refresh", s.handleRefreshAll)

		r.Route("/learners/{userID}", func(r chi.Router) {
			r.With(s.authMiddleware.RequirePermission(models.PermRefreshWrite)).Post("/refresh", s.handleRefreshLearner)
			r.With(s.authMiddleware.RequirePermission(models.PermRecommendationsRead)).Get("/recommendations", s.handleRecommendations)
			r.With(s.authMiddleware.RequirePermission(models.PermRecommendationsRead)).Get("/enrollments", s.handleEnrollments)
		})

		r.With(s.authMiddleware.RequirePermission(models.PermCoursesRead)).Get("/courses", s.handleListCourses)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
