package domain

import "time"

// SigningKey is a persisted signing key. The private key PEM is sealed with
// the master key and never leaves the process unsealed.
type SigningKey struct {
	Kid              string
	Algorithm        string     // RS256 or ES256
	PrivateKeySealed []byte     // AES-256-GCM sealed PKCS#1/PKCS#8 PEM
	CreatedAt        time.Time  // also the key's NotBefore
	RetiredAt        *time.Time // demoted to verify-only; nil while eligible to sign
	ExpiresAt        time.Time  // NotAfter; the row is deleted after this
}

// IsActive reports whether the key may still be chosen to sign.
func (k *SigningKey) IsActive(now time.Time) bool {
	return k.RetiredAt == nil && now.Before(k.ExpiresAt)
}

// IsExpired reports whether the key is strictly past ExpiresAt.
func (k *SigningKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
