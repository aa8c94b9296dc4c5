package authsdk

import (
	"context"
	"errors"
	"sync"
	"time"
)

// expiryBuffer refreshes access tokens this long before they expire.
const expiryBuffer = 30 * time.Second

// Session holds a token pair and refreshes the access token when needed.
// It is safe for concurrent use.
type Session struct {
	client *Client
	now    func() time.Time

	// mu is held across a refresh so the same refresh token is never
	// presented twice; the server treats a second presentation as replay and
	// revokes the session.
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	sessionID    string
	expiresAt    time.Time
}

// StartSession logs in and wraps the resulting pair in a Session.
func (c *Client) StartSession(ctx context.Context, req LoginRequest) (*Session, error) {
	tokens, err := c.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.NewSession(tokens), nil
}

// NewSession creates a session from an existing token pair, e.g. one kept
// by the caller across restarts.
func (c *Client) NewSession(tokens *TokenResponse) *Session {
	s := &Session{client: c, now: time.Now}
	s.set(tokens)
	return s
}

// ID returns the session lineage id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// AccessToken returns a valid access token, refreshing first if the current
// one is about to expire.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshToken == "" {
		return "", errors.New("authsdk: session has ended")
	}
	if s.now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	tokens, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", err
	}
	s.set(tokens)
	return s.accessToken, nil
}

// UserInfo returns the claims of the session's access token.
func (s *Session) UserInfo(ctx context.Context) (*UserInfoResponse, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.UserInfo(ctx, token)
}

// Logout revokes the session on the server and forgets its tokens.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshToken == "" {
		return nil
	}
	if err := s.client.Logout(ctx, s.refreshToken); err != nil {
		return err
	}
	s.accessToken, s.refreshToken = "", ""
	return nil
}

func (s *Session) set(tokens *TokenResponse) {
	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.sessionID = tokens.SessionID
	s.expiresAt = s.now().Add(time.Duration(tokens.ExpiresIn)*time.Second - expiryBuffer)
}
