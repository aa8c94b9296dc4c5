package jwtx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestKeyStoreActiveAndResolve(t *testing.T) {
	clock := newTestClock()
	initial := newKey(t, jwtx.ES256, clock.Now(), time.Time{})

	keys, err := jwtx.NewKeyStore(jwtx.ES256, initial, nil, jwtx.WithKeyClock(clock.Now))
	require.NoError(t, err)
	require.True(t, keys.IsReady())

	active, err := keys.ActiveKey()
	require.NoError(t, err)
	require.Equal(t, initial.KeyID, active.KeyID)

	got, err := keys.Resolve(initial.KeyID)
	require.NoError(t, err)
	require.Equal(t, initial.KeyID, got.KeyID)

	_, err = keys.Resolve("never-seen")
	require.ErrorIs(t, err, jwtx.ErrUnknownKey)
}

func TestKeyStoreRejectsBadKeys(t *testing.T) {
	clock := newTestClock()
	es := newKey(t, jwtx.ES256, clock.Now(), time.Time{})
	rs := newKey(t, jwtx.RS256, clock.Now(), time.Time{})

	_, err := jwtx.NewKeyStore(jwtx.RS256, es, nil)
	require.ErrorIs(t, err, jwtx.ErrAlgorithmNotAllowed)

	publicOnly, err := jwtx.NewPublicKeyPair("pub", jwtx.ES256, es.Public(), time.Time{}, time.Time{})
	require.NoError(t, err)
	_, err = jwtx.NewKeyStore(jwtx.ES256, publicOnly, nil)
	require.ErrorIs(t, err, jwtx.ErrInvalidKey)

	keys, err := jwtx.NewKeyStore(jwtx.ES256, es, nil)
	require.NoError(t, err)
	require.ErrorIs(t, keys.Rotate(rs), jwtx.ErrAlgorithmNotAllowed)
	require.ErrorIs(t, keys.Rotate(es), jwtx.ErrInvalidKey, "duplicate kid")
}

func TestKeyStoreRotateKeepsPreviousKey(t *testing.T) {
	clock := newTestClock()
	first := newKey(t, jwtx.ES256, clock.Now(), time.Time{})
	keys, err := jwtx.NewKeyStore(jwtx.ES256, first, nil,
		jwtx.WithKeyClock(clock.Now),
		jwtx.WithRetireGrace(time.Hour),
	)
	require.NoError(t, err)

	second := newKey(t, jwtx.ES256, clock.Now(), time.Time{})
	require.NoError(t, keys.Rotate(second))

	active, err := keys.ActiveKey()
	require.NoError(t, err)
	require.Equal(t, second.KeyID, active.KeyID)

	prev, err := keys.Resolve(first.KeyID)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(time.Hour), prev.NotAfter, "grace caps NotAfter")

	require.Len(t, keys.PublicJWKS().Keys, 2)
	require.Equal(t, second.KeyID, keys.PublicJWKS().Keys[0].Kid, "active key first")

	// Not yet strictly past NotAfter.
	clock.Advance(time.Hour)
	require.Empty(t, keys.Prune(clock.Now()))
	_, err = keys.Resolve(first.KeyID)
	require.NoError(t, err)

	// Past NotAfter: unresolvable even before pruning, then pruned.
	clock.Advance(time.Second)
	_, err = keys.Resolve(first.KeyID)
	require.ErrorIs(t, err, jwtx.ErrUnknownKey)
	require.Len(t, keys.PublicJWKS().Keys, 1)

	require.Equal(t, []string{first.KeyID}, keys.Prune(clock.Now()))
	require.Len(t, keys.Keys(), 1)
}

func TestKeyStorePruneNeverDropsActive(t *testing.T) {
	clock := newTestClock()
	expiring := newKey(t, jwtx.ES256, clock.Now(), clock.Now().Add(time.Minute))
	keys, err := jwtx.NewKeyStore(jwtx.ES256, expiring, nil, jwtx.WithKeyClock(clock.Now))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.Empty(t, keys.Prune(clock.Now()))
	require.Len(t, keys.Keys(), 1)

	// Kept, but never handed out for signing once expired.
	_, err = keys.ActiveKey()
	require.ErrorIs(t, err, jwtx.ErrNoActiveKey)

	replacement := newKey(t, jwtx.ES256, clock.Now(), time.Time{})
	require.NoError(t, keys.Rotate(replacement))
	active, err := keys.ActiveKey()
	require.NoError(t, err)
	require.Equal(t, replacement.KeyID, active.KeyID)
	require.Equal(t, []string{expiring.KeyID}, keys.Prune(clock.Now()))
}

func TestKeyStoreExpiredActiveKeyStopsSigning(t *testing.T) {
	clock := newTestClock()
	active := newKey(t, jwtx.ES256, clock.Now(), clock.Now().Add(time.Hour))
	keys, err := jwtx.NewKeyStore(jwtx.ES256, active, nil, jwtx.WithKeyClock(clock.Now))
	require.NoError(t, err)

	issuer := jwtx.NewIssuer(keys)
	verifier := jwtx.NewVerifier(keys, jwtx.NewClaimValidator(jwtx.WithValidatorClock(clock.Now)))
	claims := func() jwtx.ClaimSet {
		now := clock.Now()
		return jwtx.ClaimSet{
			Issuer:    exampleIssuer,
			Audience:  []string{exampleAudience},
			Subject:   "user-42",
			IssuedAt:  now,
			ExpiresAt: now.Add(5 * time.Minute),
			JWTID:     jwtx.NewJTI(),
		}
	}

	// At exactly NotAfter the key still signs and verifies.
	clock.Advance(time.Hour)
	require.True(t, keys.IsReady())
	token, err := issuer.Issue(claims(), jwtx.KindAccess)
	require.NoError(t, err)
	_, err = verifier.Verify(token, expectAccess())
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.False(t, keys.IsReady())
	_, err = keys.ActiveKey()
	require.ErrorIs(t, err, jwtx.ErrNoActiveKey)

	_, err = issuer.Issue(claims(), jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrNoActiveKey)
	require.Empty(t, keys.PublicJWKS().Keys)
}

func TestVerifyOnlyKeyStore(t *testing.T) {
	clock := newTestClock()
	signing := newKey(t, jwtx.RS256, clock.Now(), time.Time{})

	pub, err := jwtx.NewPublicKeyPair(signing.KeyID, jwtx.RS256, signing.Public(), time.Time{}, time.Time{})
	require.NoError(t, err)

	keys, err := jwtx.NewVerifyOnlyKeyStore(jwtx.RS256, []jwtx.KeyPair{pub})
	require.NoError(t, err)
	require.False(t, keys.IsReady())

	_, err = keys.ActiveKey()
	require.ErrorIs(t, err, jwtx.ErrNoActiveKey)

	_, err = keys.Resolve(signing.KeyID)
	require.NoError(t, err)

	require.NoError(t, keys.Replace())
	_, err = keys.Resolve(signing.KeyID)
	require.ErrorIs(t, err, jwtx.ErrUnknownKey)
}

func TestKeyStoreConcurrentRotateAndResolve(t *testing.T) {
	clock := newTestClock()
	first := newKey(t, jwtx.ES256, clock.Now(), time.Time{})
	keys, err := jwtx.NewKeyStore(jwtx.ES256, first, nil, jwtx.WithKeyClock(clock.Now))
	require.NoError(t, err)

	next := make([]jwtx.KeyPair, 8)
	for i := range next {
		next[i] = newKey(t, jwtx.ES256, clock.Now(), time.Time{})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, k := range next {
			require.NoError(t, keys.Rotate(k))
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				active, err := keys.ActiveKey()
				require.NoError(t, err)
				// The active key is always resolvable from the same generation.
				_, err = keys.Resolve(active.KeyID)
				require.NoError(t, err)
				_, err = keys.Resolve(first.KeyID)
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	active, err := keys.ActiveKey()
	require.NoError(t, err)
	require.Equal(t, next[len(next)-1].KeyID, active.KeyID)
	require.Len(t, keys.Keys(), len(next)+1)
}

func TestKeyPairNeverSerialisesPrivateMaterial(t *testing.T) {
	kp := newKey(t, jwtx.RS256, time.Time{}, time.Time{})

	data, err := kp.MarshalJSON()
	require.NoError(t, err)
	require.NotContains(t, string(data), `"d"`)
	require.NotContains(t, string(data), "PRIVATE")
	require.Contains(t, string(data), kp.KeyID)
}
