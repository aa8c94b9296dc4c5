package authsdk

import (
	"time"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the JSON error body every endpoint returns (RFC 6749 §5.2
// layout). Client code should use the APIError type from errors.go instead.
type ErrorResponse struct {
	// Error is the machine-readable error code (e.g., "invalid_request")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Session Types
// ============================================================================

// LoginRequest starts a session for a subject whose credentials were already
// checked by the caller.
type LoginRequest struct {
	// Subject becomes the sub claim of both tokens
	Subject string `json:"subject" example:"user-42"`

	// Claims are carried in the tokens' "ext" claim and survive refresh
	Claims map[string]any `json:"claims,omitempty"`
}

// RefreshRequest carries a refresh token for rotation or logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is an access/refresh token pair.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type" example:"Bearer"`
	ExpiresIn        int64  `json:"expires_in" example:"600"`
	RefreshExpiresIn int64  `json:"refresh_expires_in" example:"604800"`
	SessionID        string `json:"session_id"`
}

// UserInfoResponse is the verified claim set of an access token.
type UserInfoResponse struct {
	Subject   string         `json:"sub" example:"user-42"`
	Issuer    string         `json:"iss" example:"auth.example"`
	Audience  []string       `json:"aud"`
	SessionID string         `json:"sid"`
	IssuedAt  time.Time      `json:"iat"`
	ExpiresAt time.Time      `json:"exp"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// ============================================================================
// Key Management Types
// ============================================================================

// SigningKeyInfo describes a key the service can sign or verify with.
type SigningKeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg" example:"ES256"`
	Active    bool       `json:"active"`
	NotBefore time.Time  `json:"not_before"`
	NotAfter  *time.Time `json:"not_after,omitempty"`
}

// RotateKeyResponse is returned by POST /v1/keys/rotate.
type RotateKeyResponse struct {
	NewKey SigningKeyInfo `json:"new_key"`
	// KeyCount is how many keys can currently verify tokens, including the new one
	KeyCount int `json:"key_count"`
}

// ListKeysResponse is returned by GET /v1/keys.
type ListKeysResponse struct {
	Keys []SigningKeyInfo `json:"keys"`
}

// ============================================================================
// Metrics Types
// ============================================================================

// MetricPoint is one counter series.
type MetricPoint struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
}

// MetricsResponse maps counter names to their series.
type MetricsResponse struct {
	Counters map[string][]MetricPoint `json:"counters"`
}

// ============================================================================
// Health Check Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	// Store indicates the refresh token store status
	Store string `json:"store"`

	// Signer indicates whether an active signing key is loaded
	Signer string `json:"signer"`
}

// ============================================================================
// JWKS Types
// ============================================================================

// JWKSResponse contains the JSON Web Key Set.
// This is returned from the GET /.well-known/jwks.json endpoint and contains
// public keys used to verify JWT signatures.
type JWKSResponse jwtx.JWKS
