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
	"github.com/google/uuid"
)

// SessionConfig is the token policy of a deployment.
type SessionConfig struct {
	Issuer string
	// Audience is written to every token; Audience[0] is the audience this
	// service itself expects when verifying.
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ClockSkew  time.Duration
}

// Credentials is the outcome of a login that was already checked upstream.
type Credentials struct {
	Subject string
	// Custom is carried in the tokens' "ext" claim and survives refresh.
	Custom map[string]any
}

// SessionManager issues token pairs at login, rotates them on refresh and
// authorizes access tokens.
type SessionManager struct {
	cfg      SessionConfig
	issuer   *jwtx.Issuer
	verifier *jwtx.Verifier
	refresh  store.RefreshTokens
	metrics  *Metrics
	now      func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithClock sets the clock used for issuing and validating tokens.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// WithMetrics records issuance, refresh and rejection counters.
func WithMetrics(metrics *Metrics) SessionOption {
	return func(m *SessionManager) { m.metrics = metrics }
}

func NewSessionManager(keys *jwtx.KeyStore, refresh store.RefreshTokens, cfg SessionConfig, opts ...SessionOption) *SessionManager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = jwtx.DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = jwtx.DefaultRefreshTokenTTL
	}

	m := &SessionManager{
		cfg:     cfg,
		issuer:  jwtx.NewIssuer(keys),
		refresh: refresh,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.verifier = jwtx.NewVerifier(keys, jwtx.NewClaimValidator(jwtx.WithValidatorClock(m.now)))
	return m
}

// Login starts a new session lineage for already-validated credentials.
func (m *SessionManager) Login(ctx context.Context, cred Credentials) (domain.TokenPair, error) {
	pair, err := m.issuePair(ctx, cred.Subject, uuid.NewString(), cred.Custom)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("login: %w", err)
	}
	slogx.FromContext(ctx).Info("session_started", "sub", cred.Subject, "sid", pair.SessionID)
	return pair, nil
}

// Refresh verifies and consumes a refresh token and issues the next pair in
// the same session. A replayed token revokes the whole session; the returned
// error then wraps both ErrUnauthorized and store.ErrReuseDetected.
func (m *SessionManager) Refresh(ctx context.Context, presented string) (domain.TokenPair, error) {
	log := slogx.FromContext(ctx)

	claims, err := m.verify(ctx, "refresh", presented, jwtx.KindRefresh)
	if err != nil {
		m.metrics.refreshed(ctx, OutcomeRejected)
		return domain.TokenPair{}, err
	}

	rec, err := m.refresh.Consume(ctx, claims.JWTID, cryptox.FingerprintToken(presented))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrReuseDetected):
		log.Warn("refresh_token_reuse", "sub", claims.Subject, "sid", claims.SessionID, "jti", claims.JWTID)
		m.metrics.reuseDetected(ctx)
		m.metrics.refreshed(ctx, OutcomeReuseDetected)
		return domain.TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrTokenMismatch):
		log.Info("refresh_token_rejected", "sid", claims.SessionID, "error", err)
		m.metrics.refreshed(ctx, OutcomeRejected)
		return domain.TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	default:
		m.metrics.refreshed(ctx, OutcomeError)
		return domain.TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}

	if rec.Subject != claims.Subject || rec.SessionID != claims.SessionID {
		log.Warn("refresh_record_mismatch", "sid", claims.SessionID, "jti", claims.JWTID)
		m.metrics.refreshed(ctx, OutcomeRejected)
		return domain.TokenPair{}, ErrUnauthorized
	}

	pair, err := m.issuePair(ctx, claims.Subject, claims.SessionID, claims.Custom)
	if errors.Is(err, store.ErrSessionRevoked) {
		// A concurrent replay revoked the lineage after this caller won the
		// consume; the pair it signed is never handed out.
		log.Warn("refresh_session_revoked", "sid", claims.SessionID)
		m.metrics.refreshed(ctx, OutcomeReuseDetected)
		return domain.TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if err != nil {
		m.metrics.refreshed(ctx, OutcomeError)
		return domain.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	m.metrics.refreshed(ctx, OutcomeRotated)
	log.Debug("refresh_rotated", "sid", claims.SessionID)
	return pair, nil
}

// Authorize verifies an access token. It never touches the refresh store.
func (m *SessionManager) Authorize(ctx context.Context, presented string) (jwtx.ClaimSet, error) {
	return m.verify(ctx, "authorize", presented, jwtx.KindAccess)
}

// Logout revokes the session of a valid refresh token.
func (m *SessionManager) Logout(ctx context.Context, presented string) error {
	claims, err := m.verify(ctx, "logout", presented, jwtx.KindRefresh)
	if err != nil {
		return err
	}
	if err := m.refresh.RevokeSession(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	slogx.FromContext(ctx).Info("session_ended", "sub", claims.Subject, "sid", claims.SessionID)
	return nil
}

// Expectation is what this service requires of tokens of the given kind.
func (m *SessionManager) Expectation(kind jwtx.TokenKind) jwtx.Expectation {
	var aud string
	if len(m.cfg.Audience) > 0 {
		aud = m.cfg.Audience[0]
	}
	return jwtx.Expectation{
		Issuer:    m.cfg.Issuer,
		Audience:  aud,
		ClockSkew: m.cfg.ClockSkew,
		Use:       kind,
	}
}

func (m *SessionManager) verify(ctx context.Context, op, raw string, kind jwtx.TokenKind) (jwtx.ClaimSet, error) {
	claims, err := m.verifier.Verify(raw, m.Expectation(kind))
	if err != nil {
		kindOf := jwtx.KindOf(err)
		stage, _ := jwtx.StageOf(err)
		slogx.FromContext(ctx).Info("token_rejected", "op", op, "kind", kindOf, "stage", string(stage))
		m.metrics.tokenRejected(ctx, kindOf)
		return jwtx.ClaimSet{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims, nil
}

// issuePair signs both tokens first and only then persists the refresh
// record, so an abandoned call leaves nothing behind.
func (m *SessionManager) issuePair(ctx context.Context, subject, sid string, custom map[string]any) (domain.TokenPair, error) {
	now := m.now().UTC().Truncate(time.Second)
	base := jwtx.ClaimSet{
		Issuer:    m.cfg.Issuer,
		Audience:  m.cfg.Audience,
		Subject:   subject,
		IssuedAt:  now,
		SessionID: sid,
		Custom:    custom,
	}

	access := base
	access.JWTID = jwtx.NewJTI()
	access.ExpiresAt = now.Add(m.cfg.AccessTTL)
	accessRaw, err := m.issuer.Issue(access, jwtx.KindAccess)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refresh := base
	refresh.JWTID = jwtx.NewJTI()
	refresh.ExpiresAt = now.Add(m.cfg.RefreshTTL)
	refreshRaw, err := m.issuer.Issue(refresh, jwtx.KindRefresh)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if err := m.refresh.Persist(ctx, domain.RefreshRecord{
		JTI:       refresh.JWTID,
		Subject:   subject,
		SessionID: sid,
		TokenHash: cryptox.FingerprintToken(refreshRaw),
		IssuedAt:  now,
		ExpiresAt: refresh.ExpiresAt,
	}); err != nil {
		return domain.TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}

	m.metrics.tokenIssued(ctx, string(jwtx.KindAccess))
	m.metrics.tokenIssued(ctx, string(jwtx.KindRefresh))

	return domain.TokenPair{
		AccessToken:      accessRaw,
		RefreshToken:     refreshRaw,
		TokenType:        "Bearer",
		ExpiresIn:        int64(m.cfg.AccessTTL / time.Second),
		RefreshExpiresIn: int64(m.cfg.RefreshTTL / time.Second),
		SessionID:        sid,
	}, nil
}
