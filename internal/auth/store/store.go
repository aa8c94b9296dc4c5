package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrReuseDetected is returned by Consume when the record was already
	// used or revoked. The whole session lineage has been revoked by the time
	// the caller sees it.
	ErrReuseDetected = errors.New("store: refresh token reuse detected")

	// ErrTokenMismatch is returned by Consume when the presented token does
	// not match the stored fingerprint. The record is left untouched.
	ErrTokenMismatch = errors.New("store: refresh token mismatch")

	// ErrSessionRevoked is returned by Persist for a lineage that has already
	// been revoked.
	ErrSessionRevoked = errors.New("store: session revoked")

	// ErrUnavailable wraps backend connectivity failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// RefreshTokens is the refresh-token store. Consume is the rotation
// primitive and must be a single conditional update at the storage layer.
type RefreshTokens interface {
	// Persist stores a new record. Fails with ErrAlreadyExists on a duplicate
	// jti and ErrSessionRevoked if the record's session has been revoked.
	Persist(ctx context.Context, rec domain.RefreshRecord) error

	// Consume marks the record used iff it is unused, unrevoked and
	// tokenHash matches, returning the updated record (Used is true).
	Consume(ctx context.Context, jti, tokenHash string) (domain.RefreshRecord, error)

	// Revoke marks a single record revoked.
	Revoke(ctx context.Context, jti string) error

	// RevokeSession revokes every record of the session and refuses future
	// Persist calls for it.
	RevokeSession(ctx context.Context, sessionID string) error

	// DeleteExpired removes records strictly past expiry and returns how many
	// were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKey fetches a key by kid.
	GetSigningKey(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListUsableSigningKeys returns keys not yet past ExpiresAt, newest first.
	ListUsableSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error)

	// RetireSigningKey stamps retired_at and pulls expires_at in to
	// notAfter if that is sooner.
	RetireSigningKey(ctx context.Context, kid string, at, notAfter time.Time) error

	// DeleteExpiredSigningKeys removes keys strictly past ExpiresAt.
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}

// Backend is implemented by every driver.
type Backend interface {
	Ping(ctx context.Context) error
	Close() error
}

// Store is the SQL driver's root: both repositories plus migrations and
// transactions.
type Store interface {
	Backend

	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// WithTx runs fn in a read/write transaction, committing iff fn returns
	// nil. Nested transactions are not supported.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys
}
