package jwtx

import (
	"strings"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/idx"
	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 10 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenKind separates access tokens from refresh tokens. It travels in the
// token_use claim so one can never be presented in place of the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// ClaimSet is the decoded payload of a token.
type ClaimSet struct {
	Issuer    string
	Audience  []string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time // zero when absent
	JWTID     string

	// Use is set by the issuer from the requested TokenKind.
	Use TokenKind
	// SessionID ties refresh tokens of one login together.
	SessionID string
	// Custom holds deployment claims, carried under the "ext" object.
	Custom map[string]any
}

// NewJTI returns a unique, time-sortable token id.
func NewJTI() string {
	return idx.New()
}

// wireClaims is the JSON payload layout.
type wireClaims struct {
	jwt.RegisteredClaims

	Use       TokenKind      `json:"token_use,omitempty"`
	SessionID string         `json:"sid,omitempty"`
	Ext       map[string]any `json:"ext,omitempty"`
}

func (c ClaimSet) toWire() wireClaims {
	w := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   c.Subject,
			Audience:  jwt.ClaimStrings(c.Audience),
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			ID:        c.JWTID,
		},
		Use:       c.Use,
		SessionID: c.SessionID,
		Ext:       c.Custom,
	}
	if !c.NotBefore.IsZero() {
		w.NotBefore = jwt.NewNumericDate(c.NotBefore)
	}
	return w
}

func (w wireClaims) toClaimSet() ClaimSet {
	c := ClaimSet{
		Issuer:    w.Issuer,
		Audience:  []string(w.Audience),
		Subject:   w.Subject,
		JWTID:     w.ID,
		Use:       w.Use,
		SessionID: w.SessionID,
		Custom:    w.Ext,
	}
	if w.IssuedAt != nil {
		c.IssuedAt = w.IssuedAt.UTC()
	}
	if w.ExpiresAt != nil {
		c.ExpiresAt = w.ExpiresAt.UTC()
	}
	if w.NotBefore != nil {
		c.NotBefore = w.NotBefore.UTC()
	}
	return c
}

// truncate drops sub-second precision, matching what survives the
// NumericDate encoding.
func (c ClaimSet) truncate() ClaimSet {
	c.IssuedAt = c.IssuedAt.UTC().Truncate(time.Second)
	c.ExpiresAt = c.ExpiresAt.UTC().Truncate(time.Second)
	if !c.NotBefore.IsZero() {
		c.NotBefore = c.NotBefore.UTC().Truncate(time.Second)
	}
	return c
}

// Scopes returns the space- or list-encoded "scope" custom claim.
func (c ClaimSet) Scopes() []string {
	switch v := c.Custom["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
