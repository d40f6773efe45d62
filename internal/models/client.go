package models

import "strings"

// Operator permissions checked by the admin API
const (
	PermRefreshWrite        = "refresh:write"
	PermRecommendationsRead = "recommendations:read"
	PermCoursesRead         = "courses:read"
)

// ApiClient is an operator credential for the admin API
type ApiClient struct {
	Name        string   `json:"name"`
	ApiKey      string   `json:"-"` // Never serialize
	Permissions []string `json:"permissions"`
}

// HasPermission checks if client has specific permission
// Supports wildcard permissions like "refresh:*"
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil {
		return false
	}

	for _, perm := range c.Permissions {
		if perm == required || perm == "*" {
			return true
		}

		if strings.HasSuffix(perm, ":*") {
			prefix := strings.TrimSuffix(perm, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}
	}

	return false
}

// MaskedApiKey returns first 8 characters of API key for logging
func (c *ApiClient) MaskedApiKey() string {
	if len(c.ApiKey) < 8 {
		return "***"
	}
	return c.ApiKey[:8] + "..."
}
