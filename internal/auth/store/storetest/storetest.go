// Package storetest is a conformance suite run by every RefreshTokens driver.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Record returns a fresh, unused record in session sid along with the raw
// token whose fingerprint it stores.
func Record(sid string) (domain.RefreshRecord, string) {
	raw := cryptox.MustGenerateToken(cryptox.TokenSize256)
	now := time.Now().UTC().Truncate(time.Second)
	return domain.RefreshRecord{
		JTI:       idx.New(),
		Subject:   "user-42",
		SessionID: sid,
		TokenHash: cryptox.FingerprintToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, raw
}

// RunRefreshTokens exercises the RefreshTokens contract against a fresh store
// from newStore for each subtest.
func RunRefreshTokens(t *testing.T, newStore func(t *testing.T) store.RefreshTokens) {
	ctx := context.Background()

	t.Run("consume once", func(t *testing.T) {
		s := newStore(t)
		rec, _ := Record("session-a")
		require.NoError(t, s.Persist(ctx, rec))

		got, err := s.Consume(ctx, rec.JTI, rec.TokenHash)
		require.NoError(t, err)
		require.Equal(t, rec.JTI, got.JTI)
		require.Equal(t, rec.Subject, got.Subject)
		require.Equal(t, rec.SessionID, got.SessionID)
		require.True(t, got.Used, "consume returns the updated record")
		require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("duplicate jti", func(t *testing.T) {
		s := newStore(t)
		rec, _ := Record("session-a")
		require.NoError(t, s.Persist(ctx, rec))
		require.ErrorIs(t, s.Persist(ctx, rec), store.ErrAlreadyExists)
	})

	t.Run("unknown jti", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Consume(ctx, "missing", "hash")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.Revoke(ctx, "missing"), store.ErrNotFound)
	})

	t.Run("hash mismatch leaves record usable", func(t *testing.T) {
		s := newStore(t)
		rec, _ := Record("session-a")
		require.NoError(t, s.Persist(ctx, rec))

		_, err := s.Consume(ctx, rec.JTI, cryptox.FingerprintToken("forged"))
		require.ErrorIs(t, err, store.ErrTokenMismatch)

		_, err = s.Consume(ctx, rec.JTI, rec.TokenHash)
		require.NoError(t, err)
	})

	t.Run("replay revokes lineage", func(t *testing.T) {
		s := newStore(t)
		first, _ := Record("session-a")
		second, _ := Record("session-a")
		other, _ := Record("session-b")
		require.NoError(t, s.Persist(ctx, first))
		require.NoError(t, s.Persist(ctx, second))
		require.NoError(t, s.Persist(ctx, other))

		_, err := s.Consume(ctx, first.JTI, first.TokenHash)
		require.NoError(t, err)

		_, err = s.Consume(ctx, first.JTI, first.TokenHash)
		require.ErrorIs(t, err, store.ErrReuseDetected)

		_, err = s.Consume(ctx, second.JTI, second.TokenHash)
		require.ErrorIs(t, err, store.ErrReuseDetected, "sibling in the lineage is revoked")

		third, _ := Record("session-a")
		require.ErrorIs(t, s.Persist(ctx, third), store.ErrSessionRevoked)

		_, err = s.Consume(ctx, other.JTI, other.TokenHash)
		require.NoError(t, err, "other sessions are untouched")
	})

	t.Run("revoke single", func(t *testing.T) {
		s := newStore(t)
		rec, _ := Record("session-a")
		require.NoError(t, s.Persist(ctx, rec))
		require.NoError(t, s.Revoke(ctx, rec.JTI))

		_, err := s.Consume(ctx, rec.JTI, rec.TokenHash)
		require.ErrorIs(t, err, store.ErrReuseDetected)
	})

	t.Run("revoke session", func(t *testing.T) {
		s := newStore(t)
		rec, _ := Record("session-a")
		require.NoError(t, s.Persist(ctx, rec))
		require.NoError(t, s.RevokeSession(ctx, "session-a"))

		_, err := s.Consume(ctx, rec.JTI, rec.TokenHash)
		require.ErrorIs(t, err, store.ErrReuseDetected)

		require.NoError(t, s.RevokeSession(ctx, "session-never-seen"))
		late, _ := Record("session-never-seen")
		require.ErrorIs(t, s.Persist(ctx, late), store.ErrSessionRevoked)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s := newStore(t)
		rec, _ := Record("session-race")
		sibling, _ := Record("session-race")
		require.NoError(t, s.Persist(ctx, rec))
		require.NoError(t, s.Persist(ctx, sibling))

		const callers = 16
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, callers)
		)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = s.Consume(ctx, rec.JTI, rec.TokenHash)
			}()
		}
		close(start)
		wg.Wait()

		var won, reused int
		for _, err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, store.ErrReuseDetected):
				reused++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, won)
		require.Equal(t, callers-1, reused)

		_, err := s.Consume(ctx, sibling.JTI, sibling.TokenHash)
		require.ErrorIs(t, err, store.ErrReuseDetected, "lineage revoked after the race")
	})
}
