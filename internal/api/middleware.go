package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/quyetvm183/Encybara/internal/models"
)

type ctxKey struct{}

// ClientFromContext returns the operator that authenticated the request
func ClientFromContext(ctx context.Context) *models.ApiClient {
	client, _ := ctx.Value(ctxKey{}).(*models.ApiClient)
	return client
}

// operatorName is the authenticated client's name for audit logging
func operatorName(ctx context.Context) string {
	if client := ClientFromContext(ctx); client != nil {
		return client.Name
	}
	return "anonymous"
}

// AuthMiddleware handles API key authentication against a fixed set of
// operator clients
type AuthMiddleware struct {
	clients []*models.ApiClient
}

// NewAuthMiddleware creates new auth middleware. Clients without a key are ignored.
func NewAuthMiddleware(clients ...*models.ApiClient) *AuthMiddleware {
	var active []*models.ApiClient
	for _, c := range clients {
		if c != nil && c.ApiKey != "" {
			active = append(active, c)
		}
	}

	if len(active) == 0 {
		slog.Warn("no api clients configured, operator api will reject every request")
	}

	return &AuthMiddleware{clients: active}
}

// Authenticate verifies API key from Authorization header
// Supports formats: "Bearer key" or "key" in Authorization header
// Also supports X-API-Key header
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing api key", "provide Authorization header with Bearer token or X-API-Key header")
			return
		}

		client := m.lookup(apiKey)
		if client == nil {
			slog.Warn("invalid api key attempt", "key_prefix", maskKey(apiKey), "remote_addr", r.RemoteAddr)
			writeAuthError(w, http.StatusUnauthorized, "invalid api key", "the provided api key is not valid")
			return
		}

		slog.Debug("authenticated request", "client", client.Name, "key_prefix", client.MaskedApiKey())

		ctx := context.WithValue(r.Context(), ctxKey{}, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookup compares in constant time against every configured key
func (m *AuthMiddleware) lookup(apiKey string) *models.ApiClient {
	var found *models.ApiClient
	for _, c := range m.clients {
		if subtle.ConstantTimeCompare([]byte(c.ApiKey), []byte(apiKey)) == 1 {
			found = c
		}
	}
	return found
}

// RequirePermission returns middleware that checks for specific permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated", "authentication required")
				return
			}

			if !client.HasPermission(permission) {
				slog.Warn("permission denied",
					"client", client.Name,
					"required", permission,
					"has", client.Permissions,
				)
				writeAuthError(w, http.StatusForbidden, "permission denied",
					"client does not have required permission: "+permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey extracts API key from request headers
func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	return r.Header.Get("X-API-Key")
}

// maskKey returns first 8 chars of key for safe logging
func maskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}

// AuthError represents an authentication error response
type AuthError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeAuthError writes JSON error response
func writeAuthError(w http.ResponseWriter, status int, error, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(AuthError{
		Error:   error,
		Message: message,
	})
}
