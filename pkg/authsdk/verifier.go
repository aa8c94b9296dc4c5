package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// GetJWKS fetches the currently published verification keys.
func (c *Client) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/.well-known/jwks.json", nil, "")
	if err != nil {
		return nil, err
	}

	var jwks JWKSResponse
	if err := decodeJSON(resp, &jwks, http.StatusOK); err != nil {
		return nil, err
	}
	return &jwks, nil
}

// DefaultMinReloadInterval bounds how often an unknown kid can trigger a
// JWKS fetch.
const DefaultMinReloadInterval = 30 * time.Second

// RemoteVerifier verifies access tokens in a relying service using the
// token service's published JWKS. It never holds a private key.
type RemoteVerifier struct {
	client   *Client
	keys     *jwtx.KeyStore
	verifier *jwtx.Verifier
	want     jwtx.Expectation

	minReload time.Duration
	now       func() time.Time

	mu         sync.Mutex
	lastReload time.Time
}

// RemoteVerifierOption configures a RemoteVerifier.
type RemoteVerifierOption func(*RemoteVerifier)

// WithMinReloadInterval overrides DefaultMinReloadInterval.
func WithMinReloadInterval(d time.Duration) RemoteVerifierOption {
	return func(v *RemoteVerifier) { v.minReload = d }
}

// WithVerifierClock overrides the clock used for claim checks and reloads.
func WithVerifierClock(now func() time.Time) RemoteVerifierOption {
	return func(v *RemoteVerifier) { v.now = now }
}

// NewRemoteVerifier fetches the JWKS once and returns a verifier pinned to
// alg. Published keys of any other algorithm are ignored. want.Use defaults
// to access tokens.
func NewRemoteVerifier(
	ctx context.Context,
	client *Client,
	alg jwtx.Algorithm,
	want jwtx.Expectation,
	opts ...RemoteVerifierOption,
) (*RemoteVerifier, error) {
	if want.Use == "" {
		want.Use = jwtx.KindAccess
	}
	v := &RemoteVerifier{
		client:    client,
		want:      want,
		minReload: DefaultMinReloadInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	keys, err := jwtx.NewVerifyOnlyKeyStore(alg, nil, jwtx.WithKeyClock(v.now))
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.verifier = jwtx.NewVerifier(keys, jwtx.NewClaimValidator(jwtx.WithValidatorClock(v.now)))

	if err := v.Reload(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload replaces the key set with the currently published one.
func (v *RemoteVerifier) Reload(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reloadLocked(ctx)
}

func (v *RemoteVerifier) reloadLocked(ctx context.Context) error {
	// Failed fetches count too, so an unreachable server is not hammered.
	v.lastReload = v.now()

	jwks, err := v.client.GetJWKS(ctx)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	pinned := v.keys.Algorithm().String()
	var keys []jwtx.KeyPair
	for _, jwk := range jwks.Keys {
		if jwk.Alg != pinned {
			continue
		}
		kp, err := jwk.KeyPair()
		if err != nil {
			slogx.FromContext(ctx).Warn("jwks_key_skipped", "kid", jwk.Kid, "error", err)
			continue
		}
		keys = append(keys, kp)
	}

	if err := v.keys.Replace(keys...); err != nil {
		return fmt.Errorf("load jwks: %w", err)
	}
	slogx.FromContext(ctx).Debug("jwks_reloaded", slog.Int("keys", len(keys)))
	return nil
}

// Verify checks raw against the cached keys. A token signed by a kid the
// cache does not know triggers one reload, at most once per minimum reload
// interval, before the token is rejected.
func (v *RemoteVerifier) Verify(ctx context.Context, raw string) (jwtx.ClaimSet, error) {
	claims, err := v.verifier.Verify(raw, v.want)
	if err == nil || !errors.Is(err, jwtx.ErrUnknownKey) {
		return claims, err
	}

	if !v.reloadIfStale(ctx) {
		return jwtx.ClaimSet{}, err
	}
	return v.verifier.Verify(raw, v.want)
}

// Authorize lets a RemoteVerifier back httpx.AuthnMiddleware.
func (v *RemoteVerifier) Authorize(ctx context.Context, raw string) (jwtx.ClaimSet, error) {
	return v.Verify(ctx, raw)
}

func (v *RemoteVerifier) reloadIfStale(ctx context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.now().Sub(v.lastReload) < v.minReload {
		return false
	}
	if err := v.reloadLocked(ctx); err != nil {
		slogx.FromContext(ctx).Warn("jwks_reload_failed", "error", err)
		return false
	}
	return true
}
