package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// Client is a client for the token service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// LoginToken authenticates calls to POST /v1/sessions. Only trusted
	// upstream services that have already checked a user's credentials hold it.
	LoginToken string
}

// NewClient creates a new token service client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
