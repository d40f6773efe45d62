package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/quyetvm183/Encybara/internal/models"
)

// Client is a Go SDK for the Encybara operator API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new operator API client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.Code, e.Message)
}

// Summary mirrors one bulk refresh cycle
type Summary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// RefreshAllResult is the outcome of a bulk refresh trigger
type RefreshAllResult struct {
	Summary Summary `json:"summary"`
	Shared  bool    `json:"shared"`
}

// RefreshResult is the outcome of a single learner refresh
type RefreshResult struct {
	UserID       string `json:"user_id"`
	Materialized int    `json:"materialized"`
}

// CourseFilter narrows a course listing to one axis and difficulty range
type CourseFilter struct {
	Axis  models.SkillAxis
	Lower *float64
	Upper *float64
}

// RefreshAll triggers a bulk refresh. Concurrent triggers share one run.
func (c *Client) RefreshAll(ctx context.Context) (*RefreshAllResult, error) {
	var result RefreshAllResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/refresh", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RefreshLearner rebuilds one learner's recommendations. A non-nil baseLevel
// rebuilds around a freshly assessed level instead of the stored profile.
func (c *Client) RefreshLearner(ctx context.Context, userID string, baseLevel *float64) (*RefreshResult, error) {
	var body io.Reader
	if baseLevel != nil {
		payload, err := json.Marshal(map[string]float64{"base_level": *baseLevel})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	var result RefreshResult
	path := fmt.Sprintf("/api/v1/learners/%s/refresh", url.PathEscape(userID))
	if err := c.call(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Recommendations returns the ranked candidates for a learner without
// writing anything
func (c *Client) Recommendations(ctx context.Context, userID string) ([]models.CourseCandidate, error) {
	var courses []models.CourseCandidate
	path := fmt.Sprintf("/api/v1/learners/%s/recommendations", url.PathEscape(userID))
	if err := c.call(ctx, http.MethodGet, path, nil, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// Enrollments lists a learner's enrollments. With recommendedOnly set only
// inactive rows are returned.
func (c *Client) Enrollments(ctx context.Context, userID string, recommendedOnly bool) ([]*models.Enrollment, error) {
	path := fmt.Sprintf("/api/v1/learners/%s/enrollments", url.PathEscape(userID))
	if recommendedOnly {
		path += "?recommended=true"
	}

	var rows []*models.Enrollment
	if err := c.call(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Courses lists the catalog. A nil filter returns every course.
func (c *Client) Courses(ctx context.Context, filter *CourseFilter) ([]models.CourseCandidate, error) {
	path := "/api/v1/courses"
	if filter != nil && filter.Axis != "" {
		q := url.Values{}
		q.Set("axis", string(filter.Axis))
		if filter.Lower != nil {
			q.Set("lower", strconv.FormatFloat(*filter.Lower, 'f', -1, 64))
		}
		if filter.Upper != nil {
			q.Set("upper", strconv.FormatFloat(*filter.Upper, 'f', -1, 64))
		}
		path += "?" + q.Encode()
	}

	var courses []models.CourseCandidate
	if err := c.call(ctx, http.MethodGet, path, nil, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

// call performs a request and unwraps the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		apiErr := &APIError{StatusCode: http.StatusOK}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return apiErr
	}

	if out != nil && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}

	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// parseError understands both the envelope used by handlers and the flat
// shape written by the auth middleware
func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body)}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		apiErr.Code = flat.Error
		apiErr.Message = flat.Message
	}

	return apiErr
}
