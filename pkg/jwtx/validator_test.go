package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestClaimValidatorChecks(t *testing.T) {
	clock := newTestClock()
	v := jwtx.NewClaimValidator(jwtx.WithValidatorClock(clock.Now))
	now := clock.Now()

	valid := jwtx.ClaimSet{
		Issuer:    exampleIssuer,
		Audience:  []string{"other.example", exampleAudience},
		Subject:   "user-42",
		IssuedAt:  now.Add(-time.Minute),
		ExpiresAt: now.Add(time.Minute),
		NotBefore: now.Add(-time.Minute),
		Use:       jwtx.KindAccess,
	}
	want := expectAccess()

	tests := []struct {
		name    string
		mutate  func(c *jwtx.ClaimSet)
		wantErr error
	}{
		{"valid", func(c *jwtx.ClaimSet) {}, nil},
		{"issuer", func(c *jwtx.ClaimSet) { c.Issuer = "evil.example" }, jwtx.ErrIssuerMismatch},
		{"audience", func(c *jwtx.ClaimSet) { c.Audience = []string{"other.example"} }, jwtx.ErrAudienceMismatch},
		{"expired", func(c *jwtx.ClaimSet) { c.ExpiresAt = now.Add(-time.Minute) }, jwtx.ErrTokenExpired},
		{"expired within skew", func(c *jwtx.ClaimSet) { c.ExpiresAt = now.Add(-20 * time.Second) }, nil},
		{"missing exp", func(c *jwtx.ClaimSet) { c.ExpiresAt = time.Time{} }, jwtx.ErrTokenExpired},
		{"not yet valid", func(c *jwtx.ClaimSet) { c.NotBefore = now.Add(time.Minute) }, jwtx.ErrTokenNotYetValid},
		{"nbf within skew", func(c *jwtx.ClaimSet) { c.NotBefore = now.Add(20 * time.Second) }, nil},
		{"nbf absent", func(c *jwtx.ClaimSet) { c.NotBefore = time.Time{} }, nil},
		{"wrong token use", func(c *jwtx.ClaimSet) { c.Use = jwtx.KindRefresh }, jwtx.ErrInvalidClaims},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)

			err := v.Validate(c, want)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClaimValidatorFirstFailureWins(t *testing.T) {
	clock := newTestClock()
	v := jwtx.NewClaimValidator(jwtx.WithValidatorClock(clock.Now))
	now := clock.Now()

	// Fails every check at once.
	bad := jwtx.ClaimSet{
		Issuer:    "evil.example",
		Audience:  []string{"other.example"},
		ExpiresAt: now.Add(-time.Hour),
		NotBefore: now.Add(time.Hour),
		Use:       jwtx.KindRefresh,
	}

	errs := v.Check(bad, expectAccess())
	require.Len(t, errs, 5)
	require.ErrorIs(t, errs[0], jwtx.ErrIssuerMismatch)
	require.ErrorIs(t, errs[1], jwtx.ErrAudienceMismatch)
	require.ErrorIs(t, errs[2], jwtx.ErrTokenExpired)
	require.ErrorIs(t, errs[3], jwtx.ErrTokenNotYetValid)
	require.ErrorIs(t, errs[4], jwtx.ErrInvalidClaims)

	err := v.Validate(bad, expectAccess())
	require.ErrorIs(t, err, jwtx.ErrIssuerMismatch)
	require.NotErrorIs(t, err, jwtx.ErrTokenExpired)

	bad.Issuer = exampleIssuer
	require.ErrorIs(t, v.Validate(bad, expectAccess()), jwtx.ErrAudienceMismatch)

	bad.Audience = []string{exampleAudience}
	require.ErrorIs(t, v.Validate(bad, expectAccess()), jwtx.ErrTokenExpired)
}
