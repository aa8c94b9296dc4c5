package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/domain"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
)

type refreshTokensRepo struct {
	q     querier
	begin func(context.Context, *sql.TxOptions) (*sql.Tx, error) // nil inside WithTx
}

const refreshTokenColumns = `jti, session_id, subject, token_hash, issued_at, expires_at, used, revoked`

func (r *refreshTokensRepo) Persist(ctx context.Context, rec domain.RefreshRecord) error {
	return atomically(ctx, r.q, r.begin, func(q querier) error {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO refresh_sessions (id, subject, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			rec.SessionID, rec.Subject, unix(rec.IssuedAt),
		); err != nil {
			return err
		}

		var revoked bool
		if err := q.QueryRowContext(ctx,
			`SELECT revoked FROM refresh_sessions WHERE id = ?`, rec.SessionID,
		).Scan(&revoked); err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("%w: %s", store.ErrSessionRevoked, rec.SessionID)
		}

		_, err := q.ExecContext(ctx,
			`INSERT INTO refresh_tokens (`+refreshTokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.JTI, rec.SessionID, rec.Subject, rec.TokenHash,
			unix(rec.IssuedAt), unix(rec.ExpiresAt), rec.Used, rec.Revoked,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: refresh token %s", store.ErrAlreadyExists, rec.JTI)
		}
		return err
	})
}

// Consume is one conditional UPDATE; SQLite applies it atomically, so of any
// number of concurrent callers exactly one sees a row affected. Losers read
// the row back to classify the failure.
func (r *refreshTokensRepo) Consume(ctx context.Context, jti, tokenHash string) (domain.RefreshRecord, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET used = 1
		 WHERE jti = ? AND token_hash = ? AND used = 0 AND revoked = 0`,
		jti, tokenHash,
	)
	if err != nil {
		return domain.RefreshRecord{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.RefreshRecord{}, err
	}

	rec, err := getRefreshToken(ctx, r.q, jti)
	if err != nil {
		return domain.RefreshRecord{}, err
	}
	if n == 1 {
		return rec, nil
	}

	if rec.TokenHash != tokenHash {
		return domain.RefreshRecord{}, store.ErrTokenMismatch
	}
	if err := r.RevokeSession(ctx, rec.SessionID); err != nil {
		return domain.RefreshRecord{}, fmt.Errorf("revoke session after reuse: %w", err)
	}
	return domain.RefreshRecord{}, fmt.Errorf("%w: jti %s, session %s", store.ErrReuseDetected, jti, rec.SessionID)
}

func (r *refreshTokensRepo) Revoke(ctx context.Context, jti string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE jti = ?`, jti)
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

func (r *refreshTokensRepo) RevokeSession(ctx context.Context, sessionID string) error {
	now := unix(time.Now())
	return atomically(ctx, r.q, r.begin, func(q querier) error {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO refresh_sessions (id, subject, revoked, created_at, revoked_at) VALUES (?, '', 1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   revoked = 1,
			   revoked_at = COALESCE(refresh_sessions.revoked_at, excluded.revoked_at)`,
			sessionID, now, now,
		); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE session_id = ?`, sessionID)
		return err
	})
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := atomically(ctx, r.q, r.begin, func(q querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, unix(now))
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx,
			`DELETE FROM refresh_sessions
			 WHERE NOT EXISTS (SELECT 1 FROM refresh_tokens t WHERE t.session_id = refresh_sessions.id)`)
		return err
	})
	return n, err
}

func getRefreshToken(ctx context.Context, q querier, jti string) (domain.RefreshRecord, error) {
	var (
		rec                 domain.RefreshRecord
		issuedAt, expiresAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE jti = ?`, jti,
	).Scan(&rec.JTI, &rec.SessionID, &rec.Subject, &rec.TokenHash, &issuedAt, &expiresAt, &rec.Used, &rec.Revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefreshRecord{}, fmt.Errorf("%w: refresh token %s", store.ErrNotFound, jti)
		}
		return domain.RefreshRecord{}, err
	}
	rec.IssuedAt = fromUnix(issuedAt)
	rec.ExpiresAt = fromUnix(expiresAt)
	return rec, nil
}
