package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
)

type signingKeysRepo struct {
	q querier
}

const signingKeyColumns = `kid, algorithm, private_key_sealed, created_at, retired_at, expires_at`

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	var retired sql.NullInt64
	if key.RetiredAt != nil {
		retired = sql.NullInt64{Int64: unix(*key.RetiredAt), Valid: true}
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO signing_keys (`+signingKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		key.Kid, key.Algorithm, key.PrivateKeySealed, unix(key.CreatedAt), retired, unix(key.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: signing key %s", store.ErrAlreadyExists, key.Kid)
	}
	return err
}

func (r *signingKeysRepo) GetSigningKey(ctx context.Context, kid string) (domain.SigningKey, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid)
	key, err := scanSigningKey(row)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	return key, nil
}

func (r *signingKeysRepo) ListUsableSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys
		 WHERE expires_at >= ?
		 ORDER BY created_at DESC, kid DESC`,
		unix(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		key, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, at, notAfter time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE signing_keys SET
		   retired_at = COALESCE(retired_at, ?),
		   expires_at = MIN(expires_at, ?)
		 WHERE kid = ?`,
		unix(at), unix(notAfter), kid,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM signing_keys WHERE expires_at < ?`, unix(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSigningKey(s rowScanner) (domain.SigningKey, error) {
	var (
		key                  domain.SigningKey
		createdAt, expiresAt int64
		retiredAt            sql.NullInt64
	)
	if err := s.Scan(&key.Kid, &key.Algorithm, &key.PrivateKeySealed, &createdAt, &retiredAt, &expiresAt); err != nil {
		return domain.SigningKey{}, err
	}
	key.CreatedAt = fromUnix(createdAt)
	key.RetiredAt = fromNullUnix(retiredAt)
	key.ExpiresAt = fromUnix(expiresAt)
	return key, nil
}
