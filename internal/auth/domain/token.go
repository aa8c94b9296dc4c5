package domain

import "time"

// TokenPair is what login and refresh return to the client.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`         // access token lifetime, seconds
	RefreshExpiresIn int64  `json:"refresh_expires_in"` // refresh token lifetime, seconds
	SessionID        string `json:"session_id"`
}

// RefreshRecord is the server-side state of one issued refresh token. Only
// the token's fingerprint is stored.
type RefreshRecord struct {
	JTI       string
	Subject   string
	SessionID string // lineage shared by every token rotated from one login
	TokenHash string // base64url SHA-256 of the presented token
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool // flips false to true exactly once, on Consume
	Revoked   bool
}

// IsExpired reports whether the record is strictly past ExpiresAt.
func (r *RefreshRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
