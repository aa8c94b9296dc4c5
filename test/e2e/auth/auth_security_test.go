package auth_test

import (
	"testing"

	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestLoginRequiresLoginToken verifies only trusted callers can start sessions.
func TestLoginRequiresLoginToken(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newClient(baseURL)
	client.LoginToken = "not-the-login-token-0123456789abcdef"

	_, err := client.Login(t.Context(), authsdk.LoginRequest{Subject: "user-42"})
	assertUnauthorized(t, err, "Wrong login token should be rejected")
}

// TestInvalidAccessToken verifies userinfo rejects garbage and refresh tokens.
func TestInvalidAccessToken(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newClient(baseURL)

	_, err := client.UserInfo(t.Context(), "invalid-token-12345")
	assertUnauthorized(t, err, "Invalid token should be rejected")

	tokens := login(t, client, "user-42", "")
	_, err = client.UserInfo(t.Context(), tokens.RefreshToken)
	assertUnauthorized(t, err, "Refresh token should not pass as access token")
}

// TestRefreshFailuresLookAlike verifies every refresh failure yields the
// same response so callers cannot tell why a token was refused.
func TestRefreshFailuresLookAlike(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := newClient(baseURL)
	tokens := login(t, client, "user-42", "")

	_, garbageErr := client.Refresh(t.Context(), "not-a-jwt")
	_, accessErr := client.Refresh(t.Context(), tokens.AccessToken)

	var garbage, access *authsdk.APIError
	require.ErrorAs(t, garbageErr, &garbage)
	require.ErrorAs(t, accessErr, &access)
	require.Equal(t, garbage, access)
	require.ErrorIs(t, garbageErr, authsdk.ErrInvalidToken)
}
