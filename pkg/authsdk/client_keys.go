package authsdk

import (
	"context"
	"net/http"
)

// RotateKey makes a freshly generated key active. accessToken needs the
// keys:admin scope.
func (c *Client) RotateKey(ctx context.Context, accessToken string) (*RotateKeyResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/keys/rotate", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var out RotateKeyResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListKeys lists the keys the service can sign or verify with.
func (c *Client) ListKeys(ctx context.Context, accessToken string) (*ListKeysResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/keys", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var out ListKeysResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetMetrics returns a snapshot of the service's counters.
func (c *Client) GetMetrics(ctx context.Context, accessToken string) (*MetricsResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/metrics", nil, accessToken)
	if err != nil {
		return nil, err
	}

	var out MetricsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	return &out, nil
}
