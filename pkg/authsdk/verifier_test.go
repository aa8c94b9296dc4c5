package authsdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var want = jwtx.Expectation{Issuer: "auth.example", Audience: "api.example"}

// jwksServer publishes keys' JWKS and counts fetches.
func jwksServer(t *testing.T, keys *jwtx.KeyStore) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		httpx.WriteJSON(w, http.StatusOK, keys.PublicJWKS())
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func newSigningStore(t *testing.T) *jwtx.KeyStore {
	t.Helper()
	kp, _, err := jwtx.GenerateKeyPair(jwtx.ES256, 0, time.Now(), time.Time{})
	require.NoError(t, err)
	keys, err := jwtx.NewKeyStore(jwtx.ES256, kp, nil)
	require.NoError(t, err)
	return keys
}

func issue(t *testing.T, keys *jwtx.KeyStore, kind jwtx.TokenKind) string {
	t.Helper()
	now := time.Now()
	raw, err := jwtx.NewIssuer(keys).Issue(jwtx.ClaimSet{
		Issuer:    want.Issuer,
		Audience:  []string{want.Audience},
		Subject:   "user-42",
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
		JWTID:     jwtx.NewJTI(),
	}, kind)
	require.NoError(t, err)
	return raw
}

func TestRemoteVerifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	keys := newSigningStore(t)
	srv, _ := jwksServer(t, keys)

	v, err := authsdk.NewRemoteVerifier(ctx, authsdk.NewClient(srv.URL), jwtx.ES256, want)
	require.NoError(t, err)

	claims, err := v.Verify(ctx, issue(t, keys, jwtx.KindAccess))
	require.NoError(t, err)
	require.Equal(t, "user-42", claims.Subject)

	t.Run("refresh token is not an access token", func(t *testing.T) {
		_, err := v.Verify(ctx, issue(t, keys, jwtx.KindRefresh))
		require.ErrorIs(t, err, jwtx.ErrInvalidClaims)
	})
}

func TestRemoteVerifierReloadsOnUnknownKid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	keys := newSigningStore(t)
	srv, fetches := jwksServer(t, keys)

	v, err := authsdk.NewRemoteVerifier(ctx, authsdk.NewClient(srv.URL), jwtx.ES256, want,
		authsdk.WithMinReloadInterval(0))
	require.NoError(t, err)
	require.EqualValues(t, 1, fetches.Load())

	next, _, err := jwtx.GenerateKeyPair(jwtx.ES256, 0, time.Now(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, keys.Rotate(next))

	_, err = v.Verify(ctx, issue(t, keys, jwtx.KindAccess))
	require.NoError(t, err)
	require.EqualValues(t, 2, fetches.Load())
}

func TestRemoteVerifierReloadIsRateLimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	keys := newSigningStore(t)
	srv, fetches := jwksServer(t, keys)

	now := time.Now()
	clock := func() time.Time { return now }
	v, err := authsdk.NewRemoteVerifier(ctx, authsdk.NewClient(srv.URL), jwtx.ES256, want,
		authsdk.WithVerifierClock(clock))
	require.NoError(t, err)

	other := newSigningStore(t)
	for range 5 {
		_, err := v.Verify(ctx, issue(t, other, jwtx.KindAccess))
		require.ErrorIs(t, err, jwtx.ErrUnknownKey)
	}
	require.EqualValues(t, 1, fetches.Load())
}

func TestRemoteVerifierIgnoresOtherAlgorithms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	keys := newSigningStore(t)
	srv, _ := jwksServer(t, keys)

	v, err := authsdk.NewRemoteVerifier(ctx, authsdk.NewClient(srv.URL), jwtx.RS256, want)
	require.NoError(t, err)

	_, err = v.Verify(ctx, issue(t, keys, jwtx.KindAccess))
	require.ErrorIs(t, err, jwtx.ErrAlgorithmNotAllowed)
}

func TestRemoteVerifierBacksAuthnMiddleware(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	keys := newSigningStore(t)
	srv, _ := jwksServer(t, keys)

	v, err := authsdk.NewRemoteVerifier(ctx, authsdk.NewClient(srv.URL), jwtx.ES256, want)
	require.NoError(t, err)

	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httpx.SubjectFromContext(r.Context())))
	}), httpx.AuthnMiddleware(v))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, keys, jwtx.KindAccess))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-42", rec.Body.String())
}
