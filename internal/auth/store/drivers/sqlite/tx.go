package sqlite

import (
	"database/sql"

	"github.com/aussiebroadwan/tokend/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

// Repos bound to a transaction never open their own; multi-statement
// operations join the caller's transaction instead.
func (t *txStore) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{q: t.tx} }
func (t *txStore) SigningKeys() store.SigningKeys     { return &signingKeysRepo{q: t.tx} }
