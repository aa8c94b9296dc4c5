package authsdk

import (
	"context"
	"errors"
	"net/http"
)

// Login starts a session for subject. The client's LoginToken must be set.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	if c.LoginToken == "" {
		return nil, errors.New("authsdk: login requires a login token")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/sessions", req, c.LoginToken)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}

	return &tokens, nil
}

// Refresh exchanges a refresh token for the next pair in its session. The
// presented token is consumed whether or not the new pair is received.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/token/refresh", RefreshRequest{RefreshToken: refreshToken}, "")
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}

	return &tokens, nil
}

// Logout revokes the whole session of refreshToken.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/logout", RefreshRequest{RefreshToken: refreshToken}, "")
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// UserInfo returns the verified claims of accessToken.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/userinfo", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var info UserInfoResponse
	if err := decodeJSON(resp, &info, http.StatusOK); err != nil {
		return nil, err
	}

	return &info, nil
}
