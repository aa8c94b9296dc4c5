package service_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestRotateKeepsOldTokensValid(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	before, err := f.keys.ActiveKey()
	require.NoError(t, err)
	pair, err := f.sessions.Login(ctx, service.Credentials{Subject: "user-42"})
	require.NoError(t, err)

	rotation := &service.KeyRotationService{Keys: f.keys, Grace: keyGrace, Metrics: f.metrics, Now: f.clock.Now}
	info, err := rotation.Rotate(ctx)
	require.NoError(t, err)
	require.True(t, info.Active)
	require.NotEqual(t, before.KeyID, info.Kid)

	_, err = f.sessions.Authorize(ctx, pair.AccessToken)
	require.NoError(t, err, "token signed by the demoted key still verifies")

	next, err := f.sessions.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, info.Kid, kidOf(t, next.AccessToken))

	keys := rotation.ListKeys()
	require.Len(t, keys, 2)
	require.Equal(t, info.Kid, keys[0].Kid)
	require.True(t, keys[0].Active)
	require.Equal(t, before.KeyID, keys[1].Kid)
	require.False(t, keys[1].Active)
	require.NotNil(t, keys[1].NotAfter)
	require.True(t, keys[1].NotAfter.Equal(f.clock.Now().Add(keyGrace)))

	require.EqualValues(t, 1, f.counter(t, "tokend_key_rotations_total",
		attribute.String("source", service.RotationGenerated)))
}

func TestRotatePersistsSealedKey(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	sealer, err := cryptox.NewKeySealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	rotation := &service.KeyRotationService{
		Keys: f.keys, Store: f.db, Sealer: sealer,
		Lifetime: 30 * 24 * time.Hour, Grace: keyGrace, Now: f.clock.Now,
	}

	first, err := rotation.Rotate(ctx)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := rotation.Rotate(ctx)
	require.NoError(t, err)

	usable, err := f.db.SigningKeys().ListUsableSigningKeys(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, usable, 2)
	require.Equal(t, second.Kid, usable[0].Kid)
	require.Nil(t, usable[0].RetiredAt)
	require.Equal(t, first.Kid, usable[1].Kid)
	require.NotNil(t, usable[1].RetiredAt)
	require.True(t, usable[1].ExpiresAt.Equal(f.clock.Now().Add(keyGrace)))

	pemKey, err := sealer.Open(usable[0].PrivateKeySealed, usable[0].Kid)
	require.NoError(t, err)
	kp, err := jwtx.NewKeyPair(usable[0].Kid, jwtx.ES256, pemKey, usable[0].CreatedAt, usable[0].ExpiresAt)
	require.NoError(t, err)
	require.True(t, kp.CanSign())

	_, err = sealer.Open(usable[0].PrivateKeySealed, usable[1].Kid)
	require.Error(t, err, "sealed keys are bound to their kid")
}

func TestExternalKeysAreAdopted(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()
	rotation := &service.KeyRotationService{Keys: f.keys, External: true, Metrics: f.metrics}

	_, err := rotation.Rotate(ctx)
	require.ErrorIs(t, err, service.ErrExternalKeys)

	next, _, err := jwtx.GenerateKeyPair(jwtx.ES256, 0, f.clock.Now(), f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, rotation.Adopt(ctx, next))

	active, err := f.keys.ActiveKey()
	require.NoError(t, err)
	require.Equal(t, next.KeyID, active.KeyID)

	wrongAlg, _, err := jwtx.GenerateKeyPair(jwtx.RS256, 2048, f.clock.Now(), f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.ErrorIs(t, rotation.Adopt(ctx, wrongAlg), jwtx.ErrAlgorithmNotAllowed)
}

func kidOf(t *testing.T, raw string) string {
	t.Helper()
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	require.NoError(t, err)
	kid, _ := tok.Header["kid"].(string)
	return kid
}
