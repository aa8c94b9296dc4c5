package service_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestHousekeepingPrunesAfterGrace(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	old, err := f.keys.ActiveKey()
	require.NoError(t, err)
	pair, err := f.sessions.Login(ctx, service.Credentials{Subject: "user-42"})
	require.NoError(t, err)

	sealer, err := cryptox.NewKeySealer([]byte("housekeeping-master-key"))
	require.NoError(t, err)
	rotation := &service.KeyRotationService{
		Keys: f.keys, Store: f.db, Sealer: sealer, Grace: keyGrace, Now: f.clock.Now,
	}
	_, err = rotation.Rotate(ctx)
	require.NoError(t, err)
	_, err = rotation.Rotate(ctx)
	require.NoError(t, err)

	hk := service.NewHousekeepingService(f.keys, f.db.RefreshTokens(), slogx.Discard(), time.Minute)
	hk.SigningKeys = f.db.SigningKeys()
	hk.Now = f.clock.Now

	report := hk.Cleanup(ctx)
	require.Empty(t, report.PrunedKeys, "nothing is past NotAfter yet")
	require.Zero(t, report.DeletedRefresh)

	f.clock.Advance(keyGrace)
	_, err = f.keys.Resolve(old.KeyID)
	require.NoError(t, err, "demoted key is still resolvable at exactly NotAfter")

	f.clock.Advance(time.Second)
	report = hk.Cleanup(ctx)
	require.Len(t, report.PrunedKeys, 2)
	require.Contains(t, report.PrunedKeys, old.KeyID)
	require.EqualValues(t, 1, report.DeletedSigningKeys, "the first generated key was retired with the same grace")

	_, err = f.sessions.Authorize(ctx, pair.AccessToken)
	require.ErrorIs(t, err, jwtx.ErrUnknownKey)

	require.Len(t, f.keys.PublicJWKS().Keys, 1, "only the active key is published")
}

func TestHousekeepingDeletesExpiredRefreshRecords(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	_, err := f.sessions.Login(ctx, service.Credentials{Subject: "user-42"})
	require.NoError(t, err)

	hk := service.NewHousekeepingService(f.keys, f.db.RefreshTokens(), slogx.Discard(), 0)
	require.Equal(t, time.Hour, hk.Interval)
	hk.Now = func() time.Time { return f.clock.Now().Add(8 * 24 * time.Hour) }

	report := hk.Cleanup(ctx)
	require.EqualValues(t, 1, report.DeletedRefresh)
}

func TestHousekeepingStartStop(t *testing.T) {
	f := newFixture(t)
	hk := service.NewHousekeepingService(f.keys, f.db.RefreshTokens(), slogx.Discard(), time.Hour)
	hk.Start()
	hk.Stop()
}

func TestHousekeepingRenewsExpiringKey(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	old, err := f.keys.ActiveKey()
	require.NoError(t, err)

	rotation := &service.KeyRotationService{Keys: f.keys, Lifetime: 90 * 24 * time.Hour, Grace: keyGrace, Now: f.clock.Now}
	hk := service.NewHousekeepingService(f.keys, f.db.RefreshTokens(), slogx.Discard(), time.Hour)
	hk.Rotation = rotation
	hk.RenewBefore = keyGrace + hk.Interval
	hk.Now = f.clock.Now

	require.Empty(t, hk.Cleanup(ctx).RenewedKey, "key is far from NotAfter")

	// A refresh token issued now would outlive the key.
	f.clock.Advance(90*24*time.Hour - keyGrace)
	report := hk.Cleanup(ctx)
	require.NotEmpty(t, report.RenewedKey)

	active, err := f.keys.ActiveKey()
	require.NoError(t, err)
	require.Equal(t, report.RenewedKey, active.KeyID)
	_, err = f.keys.Resolve(old.KeyID)
	require.NoError(t, err, "renewed key keeps verifying until its NotAfter")

	require.Empty(t, hk.Cleanup(ctx).RenewedKey, "fresh key is not renewed again")
}

func TestHousekeepingReplacesExpiredKey(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()

	f.clock.Advance(91 * 24 * time.Hour)
	_, err := f.keys.ActiveKey()
	require.ErrorIs(t, err, jwtx.ErrNoActiveKey)
	_, err = f.sessions.Login(ctx, service.Credentials{Subject: "user-42"})
	require.Error(t, err)

	hk := service.NewHousekeepingService(f.keys, f.db.RefreshTokens(), slogx.Discard(), time.Hour)
	hk.Rotation = &service.KeyRotationService{Keys: f.keys, Grace: keyGrace, Now: f.clock.Now}
	hk.RenewBefore = keyGrace
	hk.Now = f.clock.Now

	report := hk.Cleanup(ctx)
	require.NotEmpty(t, report.RenewedKey)
	require.Len(t, report.PrunedKeys, 1, "the expired key is pruned once demoted")

	pair, err := f.sessions.Login(ctx, service.Credentials{Subject: "user-42"})
	require.NoError(t, err)
	_, err = f.sessions.Authorize(ctx, pair.AccessToken)
	require.NoError(t, err)
}

func TestHousekeepingLeavesExternalKeysAlone(t *testing.T) {
	f := newFixture(t)
	ctx := testContext()
	f.clock.Advance(89 * 24 * time.Hour)

	hk := service.NewHousekeepingService(f.keys, f.db.RefreshTokens(), slogx.Discard(), time.Hour)
	hk.Rotation = &service.KeyRotationService{Keys: f.keys, External: true}
	hk.RenewBefore = keyGrace
	hk.Now = f.clock.Now

	require.Empty(t, hk.Cleanup(ctx).RenewedKey)
}
