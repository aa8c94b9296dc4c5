package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/cryptox"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
)

// Rotation sources.
const (
	RotationGenerated = "generated"
	RotationExternal  = "external"
)

// DefaultKeyLifetime bounds a generated key's NotAfter.
const DefaultKeyLifetime = 90 * 24 * time.Hour

// KeyRotationService moves the KeyStore to a new signing key.
//
// With Store set (persistent mode) the new key is sealed and written, and the
// previous key is retired, in one transaction before the in-memory rotation.
// With External set (file mode) keys are never generated here; Adopt is fed
// by the key directory watcher instead.
type KeyRotationService struct {
	Keys     *jwtx.KeyStore
	Store    store.Store        // nil unless persistent
	Sealer   *cryptox.KeySealer // required with Store
	External bool

	RSABits  int
	Lifetime time.Duration
	// Grace is how long a demoted key stays verifiable. It must cover the
	// refresh token lifetime plus clock skew.
	Grace time.Duration

	Metrics *Metrics
	Now     func() time.Time
}

// KeyInfo is the public view of a key in the KeyStore.
type KeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	Active    bool       `json:"active"`
	NotBefore time.Time  `json:"not_before"`
	NotAfter  *time.Time `json:"not_after,omitempty"`
}

func (s *KeyRotationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Rotate generates a key, persists it when configured, and makes it active.
func (s *KeyRotationService) Rotate(ctx context.Context) (KeyInfo, error) {
	if s.External {
		return KeyInfo{}, ErrExternalKeys
	}

	lifetime := s.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultKeyLifetime
	}

	now := s.now().UTC().Truncate(time.Second)
	next, pemKey, err := jwtx.GenerateKeyPair(s.Keys.Algorithm(), s.RSABits, now, now.Add(lifetime))
	if err != nil {
		return KeyInfo{}, fmt.Errorf("generate key: %w", err)
	}

	if s.Store != nil {
		if err := s.persist(ctx, next, pemKey, now); err != nil {
			return KeyInfo{}, err
		}
	}

	if err := s.Keys.Rotate(next); err != nil {
		return KeyInfo{}, fmt.Errorf("rotate key store: %w", err)
	}

	s.Metrics.keyRotated(ctx, RotationGenerated)
	slogx.FromContext(ctx).Info("signing_key_rotated", "kid", next.KeyID, "source", RotationGenerated)
	return keyInfo(next, true), nil
}

// Adopt makes an externally generated key active.
func (s *KeyRotationService) Adopt(ctx context.Context, next jwtx.KeyPair) error {
	if err := s.Keys.Rotate(next); err != nil {
		return fmt.Errorf("adopt key %s: %w", next.KeyID, err)
	}
	s.Metrics.keyRotated(ctx, RotationExternal)
	slogx.FromContext(ctx).Info("signing_key_rotated", "kid", next.KeyID, "source", RotationExternal)
	return nil
}

// ListKeys returns every key the store can currently sign or verify with,
// active first.
func (s *KeyRotationService) ListKeys() []KeyInfo {
	active, _ := s.Keys.ActiveKey()
	keys := s.Keys.Keys()
	out := make([]KeyInfo, len(keys))
	for i, k := range keys {
		out[i] = keyInfo(k, k.KeyID == active.KeyID)
	}
	return out
}

func (s *KeyRotationService) persist(ctx context.Context, next jwtx.KeyPair, pemKey []byte, now time.Time) error {
	if s.Sealer == nil {
		return errors.New("persistent key rotation requires a sealer")
	}
	sealed, err := s.Sealer.Seal(pemKey, next.KeyID)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	prev, prevErr := s.Keys.ActiveKey()

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
			Kid:              next.KeyID,
			Algorithm:        next.Algorithm.String(),
			PrivateKeySealed: sealed,
			CreatedAt:        next.NotBefore,
			ExpiresAt:        next.NotAfter,
		}); err != nil {
			return fmt.Errorf("create signing key: %w", err)
		}
		if prevErr != nil {
			return nil
		}
		err := tx.SigningKeys().RetireSigningKey(ctx, prev.KeyID, now, now.Add(s.Grace))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("retire signing key %s: %w", prev.KeyID, err)
		}
		return nil
	})
}

func keyInfo(k jwtx.KeyPair, active bool) KeyInfo {
	info := KeyInfo{
		Kid:       k.KeyID,
		Algorithm: k.Algorithm.String(),
		Active:    active,
		NotBefore: k.NotBefore,
	}
	if !k.NotAfter.IsZero() {
		na := k.NotAfter
		info.NotAfter = &na
	}
	return info
}
