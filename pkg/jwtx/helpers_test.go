package jwtx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	exampleIssuer   = "auth.example"
	exampleAudience = "api.example"
)

// testClock is a settable clock shared by a KeyStore and a ClaimValidator.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newKey(t *testing.T, alg jwtx.Algorithm, notBefore, notAfter time.Time) jwtx.KeyPair {
	t.Helper()
	kp, _, err := jwtx.GenerateKeyPair(alg, 2048, notBefore, notAfter)
	require.NoError(t, err)
	return kp
}

// fixture bundles a store, issuer and verifier sharing one clock.
type fixture struct {
	clock    *testClock
	keys     *jwtx.KeyStore
	issuer   *jwtx.Issuer
	verifier *jwtx.Verifier
}

func newFixture(t *testing.T, alg jwtx.Algorithm, opts ...jwtx.KeyStoreOption) *fixture {
	t.Helper()
	clock := newTestClock()
	opts = append([]jwtx.KeyStoreOption{jwtx.WithKeyClock(clock.Now)}, opts...)

	keys, err := jwtx.NewKeyStore(alg, newKey(t, alg, clock.Now(), time.Time{}), nil, opts...)
	require.NoError(t, err)

	return &fixture{
		clock:    clock,
		keys:     keys,
		issuer:   jwtx.NewIssuer(keys),
		verifier: jwtx.NewVerifier(keys, jwtx.NewClaimValidator(jwtx.WithValidatorClock(clock.Now))),
	}
}

func (f *fixture) claims(ttl time.Duration) jwtx.ClaimSet {
	now := f.clock.Now()
	return jwtx.ClaimSet{
		Issuer:    exampleIssuer,
		Audience:  []string{exampleAudience},
		Subject:   "user-42",
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		JWTID:     jwtx.NewJTI(),
		SessionID: "session-1",
	}
}

func expectAccess() jwtx.Expectation {
	return jwtx.Expectation{
		Issuer:    exampleIssuer,
		Audience:  exampleAudience,
		ClockSkew: 30 * time.Second,
		Use:       jwtx.KindAccess,
	}
}
