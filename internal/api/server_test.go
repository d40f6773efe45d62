package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quyetvm183/Encybara/internal/config"
	"github.com/quyetvm183/Encybara/internal/enrollment"
	"github.com/quyetvm183/Encybara/internal/health"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/recommend"
	"github.com/quyetvm183/Encybara/internal/refresh"
	"github.com/quyetvm183/Encybara/internal/storage"
)

const (
	adminKey  = "admin-key-0123456789"
	readerKey = "reader-key-0123456789"
)

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("database unreachable") }

type testEnv struct {
	repo   *storage.MemoryRepository
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := storage.NewMemoryRepository()
	require.NoError(t, repo.UpsertCourses(ctx, []models.CourseCandidate{
		{ID: "listen-3", Name: "Listen 3", Axis: models.AxisListening, DifficultyLevel: 3, RecommendedLevel: 3, Status: models.CoursePublic},
		{ID: "speak-3", Name: "Speak 3", Axis: models.AxisSpeaking, DifficultyLevel: 3, RecommendedLevel: 3, Status: models.CoursePublic},
		{ID: "read-3", Name: "Read 3", Axis: models.AxisReading, DifficultyLevel: 3, RecommendedLevel: 3, Status: models.CoursePublic},
		{ID: "write-3", Name: "Write 3", Axis: models.AxisWriting, DifficultyLevel: 3, RecommendedLevel: 3, Status: models.CoursePublic},
		{ID: "read-6", Name: "Read 6", Axis: models.AxisReading, DifficultyLevel: 6, RecommendedLevel: 6, Status: models.CoursePublic},
		{ID: "read-draft", Name: "Read Draft", Axis: models.AxisReading, DifficultyLevel: 3, RecommendedLevel: 3, Status: models.CoursePending},
	}))
	require.NoError(t, repo.SaveProfile(ctx, &models.SkillProfile{
		ID:       "profile-alice",
		UserID:   "alice",
		Current:  models.SkillScores{Listening: 3, Speaking: 3, Reading: 3, Writing: 3},
		Previous: models.SkillScores{Listening: 2.5, Speaking: 2.5, Reading: 2.5, Writing: 2.5},
	}))

	noSleep := enrollment.RetryPolicy{Sleep: func(context.Context, time.Duration) error { return nil }}
	orchestrator := recommend.NewOrchestrator(repo, repo)
	materializer := enrollment.NewMaterializer(repo, enrollment.WithRetryPolicy(noSleep))
	scheduler := refresh.NewScheduler(repo, repo, orchestrator, materializer)

	server := NewServer(config.ServerConfig{RequestTimeout: 10 * time.Second}, Deps{
		Scheduler:    scheduler,
		Orchestrator: orchestrator,
		Profiles:     repo,
		Enrollments:  repo,
		Catalog:      repo,
		Health:       repo,
		Clients: []*models.ApiClient{
			{Name: "admin", ApiKey: adminKey, Permissions: []string{"*"}},
			{Name: "reader", ApiKey: readerKey, Permissions: []string{models.PermRecommendationsRead, models.PermCoursesRead}},
		},
	})

	return &testEnv{repo: repo, server: server}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if into != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode(t, rec, nil).Success)

	rec = env.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_BackendDown(t *testing.T) {
	server := NewServer(config.ServerConfig{}, Deps{Health: failingPinger{}})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec, nil)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_ready", body.Error.Code)
}

func TestReady_Components(t *testing.T) {
	registry := health.NewRegistry()
	registry.Register("store", health.CheckFunc(func(context.Context) error { return nil }))
	registry.RegisterOptional("cache", health.CheckFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))

	server := NewServer(config.ServerConfig{}, Deps{Health: registry})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "a degraded cache does not block readiness")

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Components["store"])
	assert.Equal(t, "dial tcp: refused", body.Components["cache"])
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		header string
		want   int
	}{
		{"missing key", http.MethodGet, "/api/v1/courses", "", "", http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/api/v1/courses", "nope-nope-nope", "", http.StatusUnauthorized},
		{"reader can list courses", http.MethodGet, "/api/v1/courses", readerKey, "", http.StatusOK},
		{"reader cannot refresh", http.MethodPost, "/api/v1/refresh", readerKey, "", http.StatusForbidden},
		{"x-api-key header", http.MethodGet, "/api/v1/courses", "", readerKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}

			rec := httptest.NewRecorder()
			env.server.Router().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_NoClientsRejectsEverything(t *testing.T) {
	server := NewServer(config.ServerConfig{}, Deps{Clients: []*models.ApiClient{{Name: "blank"}}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshLearner(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/learners/alice/refresh", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RefreshLearnerResponse
	decode(t, rec, &resp)
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, 3, resp.Materialized, "progressive limit caps the write")

	rows, err := env.repo.ListByUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Second call replaces rather than accumulates
	rec = env.do(t, http.MethodPost, "/api/v1/learners/alice/refresh", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows, err = env.repo.ListByUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRefreshLearner_BaseLevel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/learners/alice/refresh", adminKey, `{"base_level": 6.0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RefreshLearnerResponse
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Materialized)

	rows, err := env.repo.ListByUser(context.Background(), "alice")
	require.NoError(t, err)
	var courseIDs []string
	for _, e := range rows {
		courseIDs = append(courseIDs, e.CourseID)
	}
	assert.NotContains(t, courseIDs, "read-6", "read-6 sits above alice's reading level")
	assert.Equal(t, []string{"listen-3"}, courseIDs, "the whole-scale pass writes one course")
}

func TestRefreshLearner_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"unknown learner", "/api/v1/learners/bob/refresh", "", http.StatusNotFound, "profile_not_found"},
		{"bad json", "/api/v1/learners/alice/refresh", "not json", http.StatusBadRequest, "invalid_request"},
		{"base level out of range", "/api/v1/learners/alice/refresh", `{"base_level": 9}`, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, adminKey, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			body := decode(t, rec, nil)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantErr, body.Error.Code)
		})
	}
}

func TestRefreshAll(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/refresh", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RefreshAllResponse
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.Succeeded)
	assert.Zero(t, resp.Summary.Failed)
	assert.NotEmpty(t, resp.Summary.RunID)
}

func TestRecommendations(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/learners/alice/recommendations", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var courses []models.CourseCandidate
	decode(t, rec, &courses)
	require.Len(t, courses, 4)
	for _, c := range courses {
		assert.Equal(t, 3.0, c.DifficultyLevel)
		assert.Equal(t, models.CoursePublic, c.Status)
	}

	// Dry run writes nothing
	rows, err := env.repo.ListByUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, rows)

	rec = env.do(t, http.MethodGet, "/api/v1/learners/bob/recommendations", readerKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecommendations_InvalidProfile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.SaveProfile(context.Background(), &models.SkillProfile{
		ID:      "profile-broken",
		UserID:  "broken",
		Current: models.SkillScores{Listening: 9, Speaking: 3, Reading: 3, Writing: 3},
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/learners/broken/recommendations", readerKey, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEnrollments(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/learners/alice/enrollments", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []*models.Enrollment
	decode(t, rec, &rows)
	assert.Empty(t, rows)

	rec = env.do(t, http.MethodPost, "/api/v1/learners/alice/refresh", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	env.repo.SetActive("alice", "listen-3", 40)

	rec = env.do(t, http.MethodGet, "/api/v1/learners/alice/enrollments", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows = nil
	decode(t, rec, &rows)
	assert.Len(t, rows, 3)

	rec = env.do(t, http.MethodGet, "/api/v1/learners/alice/enrollments?recommended=true", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows = nil
	decode(t, rec, &rows)
	assert.Len(t, rows, 2)
	for _, e := range rows {
		assert.False(t, e.Active)
	}
}

func TestListCourses(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/courses", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.CourseCandidate
	decode(t, rec, &all)
	assert.Len(t, all, 6, "unfiltered listing includes every status")

	rec = env.do(t, http.MethodGet, "/api/v1/courses?axis=reading&lower=2.5&upper=3.5", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reading []models.CourseCandidate
	decode(t, rec, &reading)
	require.Len(t, reading, 1)
	assert.Equal(t, "read-3", reading[0].ID)

	for _, q := range []string{"axis=grammar", "axis=reading&lower=x", "axis=reading&lower=5&upper=2"} {
		rec = env.do(t, http.MethodGet, "/api/v1/courses?"+q, readerKey, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{refresh.ErrProfileNotFound, http.StatusNotFound},
		{recommend.ErrInvalidProfile, http.StatusUnprocessableEntity},
		{recommend.ErrNoSuitableCandidates, http.StatusNotFound},
		{recommend.ErrNoCoursesAvailable, http.StatusServiceUnavailable},
		{enrollment.ErrTransientWriteConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondServiceError(rec, tt.err, "u")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
