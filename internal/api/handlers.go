package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/quyetvm183/Encybara/internal/enrollment"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/recommend"
	"github.com/quyetvm183/Encybara/internal/refresh"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondServiceError maps pipeline errors onto HTTP statuses
func respondServiceError(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, refresh.ErrProfileNotFound):
		respondError(w, http.StatusNotFound, "profile_not_found", "no skill profile for learner")
	case errors.Is(err, recommend.ErrInvalidProfile):
		respondError(w, http.StatusUnprocessableEntity, "invalid_profile", err.Error())
	case errors.Is(err, recommend.ErrNoSuitableCandidates):
		respondError(w, http.StatusNotFound, "no_suitable_candidates", "no course matches the learner's profile")
	case errors.Is(err, recommend.ErrNoCoursesAvailable):
		respondError(w, http.StatusServiceUnavailable, "no_courses_available", "course catalog is empty")
	case errors.Is(err, enrollment.ErrTransientWriteConflict):
		respondError(w, http.StatusConflict, "write_conflict", "concurrent refresh in progress, retry later")
	default:
		slog.Error("request failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
			return
		}
	}

	resp := map[string]interface{}{
		"status": "ready",
	}

	if reporter, ok := s.deps.Health.(componentReporter); ok {
		components := make(map[string]string)
		for name, err := range reporter.HealthCheckAll(r.Context()) {
			if err != nil {
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}
		resp["components"] = components
	}

	respondJSON(w, http.StatusOK, resp)
}

// Refresh handlers

// RefreshAllResponse is returned by POST /api/v1/refresh
type RefreshAllResponse struct {
	Summary refresh.Summary `json:"summary"`
	Shared  bool            `json:"shared"`
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	// Concurrent triggers join the run already in flight. The run outlives
	// the request that started it.
	ctx := context.WithoutCancel(r.Context())
	v, _, shared := s.refreshGroup.Do("refresh-all", func() (interface{}, error) {
		slog.Info("bulk refresh triggered", "operator", operatorName(ctx))
		return s.deps.Scheduler.RefreshAll(ctx), nil
	})

	respondJSON(w, http.StatusOK, RefreshAllResponse{
		Summary: v.(refresh.Summary),
		Shared:  shared,
	})
}

// RefreshLearnerRequest optionally rebuilds around a reassessed level
type RefreshLearnerRequest struct {
	BaseLevel *float64 `json:"base_level,omitempty"`
}

// RefreshLearnerResponse is returned by POST /api/v1/learners/{userID}/refresh
type RefreshLearnerResponse struct {
	UserID       string `json:"user_id"`
	Materialized int    `json:"materialized"`
}

func (s *Server) handleRefreshLearner(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req RefreshLearnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	slog.Info("learner refresh triggered",
		"user_id", userID,
		"operator", operatorName(r.Context()),
		"from_level", req.BaseLevel != nil,
	)

	var (
		n   int
		err error
	)
	if req.BaseLevel != nil {
		if *req.BaseLevel < models.MinScore || *req.BaseLevel > models.MaxScore {
			respondError(w, http.StatusBadRequest, "validation_error", "base_level must be between 1.0 and 7.0")
			return
		}
		n, err = s.deps.Scheduler.RefreshFromLevel(r.Context(), userID, *req.BaseLevel)
	} else {
		n, err = s.deps.Scheduler.RefreshOne(r.Context(), userID)
	}

	if err != nil {
		respondServiceError(w, err, userID)
		return
	}

	respondJSON(w, http.StatusOK, RefreshLearnerResponse{UserID: userID, Materialized: n})
}

// Read handlers

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	profile, err := s.deps.Profiles.FindByUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, userID)
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "profile_not_found", "no skill profile for learner")
		return
	}

	candidates, err := s.deps.Orchestrator.Recommend(r.Context(), profile)
	if err != nil {
		respondServiceError(w, err, userID)
		return
	}

	respondJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleEnrollments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	enrollments, err := s.deps.Enrollments.ListByUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, userID)
		return
	}

	if r.URL.Query().Get("recommended") == "true" {
		filtered := enrollments[:0]
		for _, e := range enrollments {
			if e.IsRecommendation() {
				filtered = append(filtered, e)
			}
		}
		enrollments = filtered
	}

	if enrollments == nil {
		enrollments = []*models.Enrollment{}
	}

	respondJSON(w, http.StatusOK, enrollments)
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		courses []models.CourseCandidate
		err     error
	)

	if rawAxis := q.Get("axis"); rawAxis != "" {
		axis, perr := models.ParseSkillAxis(rawAxis)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "validation_error", perr.Error())
			return
		}

		lower, lerr := parseLevel(q.Get("lower"), models.MinScore)
		upper, uerr := parseLevel(q.Get("upper"), models.MaxScore)
		if lerr != nil || uerr != nil || lower > upper {
			respondError(w, http.StatusBadRequest, "validation_error", "lower and upper must be numbers with lower <= upper")
			return
		}

		courses, err = s.deps.Catalog.FindPublicByAxisAndRange(r.Context(), axis, lower, upper)
	} else {
		courses, err = s.deps.Catalog.FindAll(r.Context())
	}

	if err != nil {
		slog.Error("failed to list courses", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list courses")
		return
	}

	if courses == nil {
		courses = []models.CourseCandidate{}
	}

	respondJSON(w, http.StatusOK, courses)
}

func parseLevel(raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}
