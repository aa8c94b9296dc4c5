package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tokend/internal/auth/store/storetest"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "tokend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestRefreshTokens(t *testing.T) {
	storetest.RunRefreshTokens(t, func(t *testing.T) store.RefreshTokens {
		return newTestStore(t).RefreshTokens()
	})
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))

	version, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func TestRefreshTokensDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t).RefreshTokens()

	live, _ := storetest.Record("session-a")
	stale, _ := storetest.Record("session-b")
	stale.IssuedAt = live.IssuedAt.Add(-2 * time.Hour)
	stale.ExpiresAt = live.IssuedAt.Add(-time.Hour)
	require.NoError(t, s.Persist(ctx, live))
	require.NoError(t, s.Persist(ctx, stale))

	n, err := s.DeleteExpired(ctx, live.IssuedAt)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.Consume(ctx, stale.JTI, stale.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Consume(ctx, live.JTI, live.TokenHash)
	require.NoError(t, err)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	rec, _ := storetest.Record("session-tx")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.RefreshTokens().Persist(ctx, rec))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.RefreshTokens().Consume(ctx, rec.JTI, rec.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.RefreshTokens().Persist(ctx, rec)
	}))
	_, err = s.RefreshTokens().Consume(ctx, rec.JTI, rec.TokenHash)
	require.NoError(t, err)
}

func TestSigningKeys(t *testing.T) {
	ctx := context.Background()
	keys := newTestStore(t).SigningKeys()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := domain.SigningKey{
		Kid: "tk-old", Algorithm: "ES256", PrivateKeySealed: []byte("sealed-old"),
		CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(24 * time.Hour),
	}
	newer := domain.SigningKey{
		Kid: "tk-new", Algorithm: "ES256", PrivateKeySealed: []byte("sealed-new"),
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(90 * 24 * time.Hour),
	}
	gone := domain.SigningKey{
		Kid: "tk-gone", Algorithm: "ES256", PrivateKeySealed: []byte("sealed-gone"),
		CreatedAt: now.Add(-100 * 24 * time.Hour), ExpiresAt: now.Add(-time.Minute),
	}
	for _, k := range []domain.SigningKey{older, newer, gone} {
		require.NoError(t, keys.CreateSigningKey(ctx, k))
	}
	require.ErrorIs(t, keys.CreateSigningKey(ctx, older), store.ErrAlreadyExists)

	usable, err := keys.ListUsableSigningKeys(ctx, now)
	require.NoError(t, err)
	require.Len(t, usable, 2)
	require.Equal(t, "tk-new", usable[0].Kid)
	require.Equal(t, "tk-old", usable[1].Kid)
	require.Equal(t, []byte("sealed-new"), usable[0].PrivateKeySealed)
	require.True(t, usable[0].IsActive(now))

	t.Run("retire caps expiry", func(t *testing.T) {
		require.NoError(t, keys.RetireSigningKey(ctx, "tk-new", now, now.Add(time.Hour)))

		got, err := keys.GetSigningKey(ctx, "tk-new")
		require.NoError(t, err)
		require.NotNil(t, got.RetiredAt)
		require.True(t, got.RetiredAt.Equal(now))
		require.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
		require.False(t, got.IsActive(now))

		// A later grace never extends a key.
		require.NoError(t, keys.RetireSigningKey(ctx, "tk-new", now.Add(time.Minute), now.Add(48*time.Hour)))
		got, err = keys.GetSigningKey(ctx, "tk-new")
		require.NoError(t, err)
		require.True(t, got.RetiredAt.Equal(now))
		require.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

		require.ErrorIs(t, keys.RetireSigningKey(ctx, "tk-missing", now, now), store.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		n, err := keys.DeleteExpiredSigningKeys(ctx, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		_, err = keys.GetSigningKey(ctx, "tk-gone")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
