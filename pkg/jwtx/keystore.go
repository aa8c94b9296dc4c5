package jwtx

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// KeyStore holds the active signing key and the verify-only keys that are
// still inside their validity window.
//
// Readers load an immutable snapshot through an atomic pointer and never
// block. Writers (Rotate, Prune, Replace) serialise on a mutex, build a new
// snapshot and publish it with a single store, so no reader can observe a
// half-rotated key set.
type KeyStore struct {
	alg   Algorithm
	now   func() time.Time
	grace time.Duration

	mu   sync.Mutex
	snap atomic.Pointer[keySnapshot]
}

type keySnapshot struct {
	active string // kid of the active key; empty for verify-only stores
	keys   map[string]KeyPair
}

// KeyStoreOption configures a KeyStore.
type KeyStoreOption func(*KeyStore)

// WithKeyClock overrides the clock used for expiry decisions.
func WithKeyClock(now func() time.Time) KeyStoreOption {
	return func(s *KeyStore) { s.now = now }
}

// WithRetireGrace caps the NotAfter of a key demoted by Rotate at
// rotation time + grace. Set it to the longest token lifetime (plus clock
// skew) so a demoted key outlives every token it signed.
func WithRetireGrace(grace time.Duration) KeyStoreOption {
	return func(s *KeyStore) { s.grace = grace }
}

// NewKeyStore builds a KeyStore with initial as the active key. Any extra
// keys are loaded verify-only, which is how persisted keys from before a
// restart are brought back.
func NewKeyStore(alg Algorithm, initial KeyPair, verifyOnly []KeyPair, opts ...KeyStoreOption) (*KeyStore, error) {
	s := newKeyStore(alg, opts...)
	if err := s.checkKey(initial, true); err != nil {
		return nil, err
	}

	snap := &keySnapshot{active: initial.KeyID, keys: map[string]KeyPair{initial.KeyID: initial}}
	for _, k := range verifyOnly {
		if err := s.checkKey(k, false); err != nil {
			return nil, err
		}
		if _, dup := snap.keys[k.KeyID]; dup {
			return nil, fmt.Errorf("%w: duplicate kid %q", ErrInvalidKey, k.KeyID)
		}
		snap.keys[k.KeyID] = k
	}
	s.snap.Store(snap)
	return s, nil
}

// NewVerifyOnlyKeyStore builds a KeyStore that can resolve keys but has no
// active signing key, as used by services consuming a published JWKS.
func NewVerifyOnlyKeyStore(alg Algorithm, keys []KeyPair, opts ...KeyStoreOption) (*KeyStore, error) {
	s := newKeyStore(alg, opts...)
	s.snap.Store(&keySnapshot{keys: map[string]KeyPair{}})
	if err := s.Replace(keys...); err != nil {
		return nil, err
	}
	return s, nil
}

func newKeyStore(alg Algorithm, opts ...KeyStoreOption) *KeyStore {
	s := &KeyStore{alg: alg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Algorithm returns the deployment algorithm the store is pinned to.
func (s *KeyStore) Algorithm() Algorithm { return s.alg }

// ActiveKey returns the key new tokens are signed with. An active key
// strictly past NotAfter is reported as ErrNoActiveKey, since Resolve would
// reject every token it signed.
func (s *KeyStore) ActiveKey() (KeyPair, error) {
	snap := s.snap.Load()
	if snap.active == "" {
		return KeyPair{}, ErrNoActiveKey
	}
	k := snap.keys[snap.active]
	if k.ExpiredAt(s.now()) {
		return KeyPair{}, fmt.Errorf("%w: %q expired at %s", ErrNoActiveKey, k.KeyID, k.NotAfter.Format(time.RFC3339))
	}
	return k, nil
}

// Resolve returns the key for kid. Keys that were never loaded, have been
// pruned, or are strictly past NotAfter all resolve to ErrUnknownKey.
func (s *KeyStore) Resolve(kid string) (KeyPair, error) {
	k, ok := s.snap.Load().keys[kid]
	if !ok || k.ExpiredAt(s.now()) {
		return KeyPair{}, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return k, nil
}

// Rotate makes next the active key and demotes the previous one to
// verify-only. The previous key is never removed here; Prune drops it once
// it is past NotAfter.
func (s *KeyStore) Rotate(next KeyPair) error {
	if err := s.checkKey(next, true); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, dup := cur.keys[next.KeyID]; dup {
		return fmt.Errorf("%w: duplicate kid %q", ErrInvalidKey, next.KeyID)
	}

	snap := cur.clone()
	if prev, ok := snap.keys[cur.active]; ok && s.grace > 0 {
		retireBy := s.now().Add(s.grace)
		if prev.NotAfter.IsZero() || prev.NotAfter.After(retireBy) {
			prev.NotAfter = retireBy
		}
		snap.keys[prev.KeyID] = prev
	}
	snap.keys[next.KeyID] = next
	snap.active = next.KeyID

	s.snap.Store(snap)
	return nil
}

// Prune drops every non-active key strictly past NotAfter and returns the
// kids it removed. An expired active key is kept until Rotate replaces it;
// ActiveKey refuses to hand it out meanwhile.
func (s *KeyStore) Prune(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	var pruned []string
	for kid, k := range cur.keys {
		if kid != cur.active && k.ExpiredAt(now) {
			pruned = append(pruned, kid)
		}
	}
	if len(pruned) == 0 {
		return nil
	}

	snap := cur.clone()
	for _, kid := range pruned {
		delete(snap.keys, kid)
	}
	s.snap.Store(snap)

	slices.Sort(pruned)
	return pruned
}

// Replace swaps the whole verify-only set. The active key, if any, is kept.
func (s *KeyStore) Replace(keys ...KeyPair) error {
	for _, k := range keys {
		if err := s.checkKey(k, false); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	snap := &keySnapshot{active: cur.active, keys: make(map[string]KeyPair, len(keys)+1)}
	if cur.active != "" {
		snap.keys[cur.active] = cur.keys[cur.active]
	}
	for _, k := range keys {
		if k.KeyID == cur.active {
			continue
		}
		snap.keys[k.KeyID] = k
	}
	s.snap.Store(snap)
	return nil
}

// Keys lists every key in the current snapshot, active first, then by
// NotBefore descending.
func (s *KeyStore) Keys() []KeyPair {
	snap := s.snap.Load()
	out := make([]KeyPair, 0, len(snap.keys))
	for _, k := range snap.keys {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b KeyPair) int {
		switch {
		case a.KeyID == snap.active:
			return -1
		case b.KeyID == snap.active:
			return 1
		}
		if c := b.NotBefore.Compare(a.NotBefore); c != 0 {
			return c
		}
		return cmp.Compare(a.KeyID, b.KeyID)
	})
	return out
}

// PublicJWKS publishes the active key and every verify-only key that has not
// passed NotAfter.
func (s *KeyStore) PublicJWKS() JWKS {
	now := s.now()
	keys := s.Keys()
	jwks := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		if k.ExpiredAt(now) {
			continue
		}
		jwks.Keys = append(jwks.Keys, k.JWK())
	}
	return jwks
}

// IsReady reports whether the store has an unexpired key to sign with.
func (s *KeyStore) IsReady() bool {
	_, err := s.ActiveKey()
	return err == nil
}

func (s *KeyStore) checkKey(k KeyPair, signing bool) error {
	if k.KeyID == "" {
		return fmt.Errorf("%w: empty kid", ErrInvalidKey)
	}
	if k.Algorithm != s.alg {
		return fmt.Errorf("%w: key %q is %s, store is %s", ErrAlgorithmNotAllowed, k.KeyID, k.Algorithm, s.alg)
	}
	if err := checkPublicKey(k.Algorithm, k.public); err != nil {
		return err
	}
	if signing && !k.CanSign() {
		return fmt.Errorf("%w: %q: %v", ErrInvalidKey, k.KeyID, errNoPrivateKey)
	}
	return nil
}

func (s *keySnapshot) clone() *keySnapshot {
	keys := make(map[string]KeyPair, len(s.keys)+1)
	for kid, k := range s.keys {
		keys[kid] = k
	}
	return &keySnapshot{active: s.active, keys: keys}
}
