package jwtx

import (
	"fmt"
	"slices"
	"time"
)

// Expectation is what a relying party requires of a token's claims.
type Expectation struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// Use, when set, must match the token_use claim.
	Use TokenKind
}

// ClaimValidator checks a decoded ClaimSet against an Expectation.
type ClaimValidator struct {
	now func() time.Time
}

// ValidatorOption configures a ClaimValidator.
type ValidatorOption func(*ClaimValidator)

// WithValidatorClock overrides the validator's clock.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *ClaimValidator) { v.now = now }
}

func NewClaimValidator(opts ...ValidatorOption) *ClaimValidator {
	v := &ClaimValidator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the first failing check, in the order issuer, audience,
// expiry, not-before, token use. Only the first failure is ever returned so
// callers cannot learn which other checks a token would have passed.
func (v *ClaimValidator) Validate(c ClaimSet, want Expectation) error {
	if errs := v.Check(c, want); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Check runs every check and returns all failures in check order. It is
// meant for diagnostics; use Validate for decisions.
func (v *ClaimValidator) Check(c ClaimSet, want Expectation) []error {
	now := v.now()
	var errs []error

	if c.Issuer != want.Issuer {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrIssuerMismatch, c.Issuer))
	}
	if !slices.Contains(c.Audience, want.Audience) {
		errs = append(errs, fmt.Errorf("%w: %q not in %v", ErrAudienceMismatch, want.Audience, c.Audience))
	}
	switch {
	case c.ExpiresAt.IsZero():
		errs = append(errs, fmt.Errorf("%w: missing exp", ErrTokenExpired))
	case now.After(c.ExpiresAt.Add(want.ClockSkew)):
		errs = append(errs, fmt.Errorf("%w: at %s", ErrTokenExpired, c.ExpiresAt.Format(time.RFC3339)))
	}
	if !c.NotBefore.IsZero() && now.Before(c.NotBefore.Add(-want.ClockSkew)) {
		errs = append(errs, fmt.Errorf("%w: until %s", ErrTokenNotYetValid, c.NotBefore.Format(time.RFC3339)))
	}
	if want.Use != "" && c.Use != want.Use {
		errs = append(errs, fmt.Errorf("%w: token_use %q, want %q", ErrInvalidClaims, c.Use, want.Use))
	}

	return errs
}
