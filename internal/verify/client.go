// Package verify calls the external payment-verification endpoint.
// The endpoint is untrusted: anything other than the exact success
// shape is an error, never a silent unlock.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mailfit/mailfit/internal/domain"
)

const (
	requestTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of an untrusted response we read.
	maxResponseBytes = 1 << 16
)

// Client implements domain.UnlockVerifier against an HTTP endpoint
// that answers GET <base>?session_id=<id> with {"paid": true|false}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a verifier for the given endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// NewClientWithHTTP creates a verifier with a custom http.Client (for tests).
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type verifyResponse struct {
	Paid  bool   `json:"paid"`
	Error string `json:"error,omitempty"`
}

// Verify reports whether the checkout session corresponds to a
// completed payment.
func (c *Client) Verify(ctx context.Context, sessionID string) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("verification endpoint not configured")
	}
	if sessionID == "" {
		return false, fmt.Errorf("empty session id")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false, fmt.Errorf("invalid verification endpoint: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build verification request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("failed to read verification response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verification endpoint returned %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("unexpected verification response shape: %w", err)
	}
	if parsed.Error != "" {
		return false, fmt.Errorf("verification rejected: %s", parsed.Error)
	}

	return parsed.Paid, nil
}

// Ensure Client implements domain.UnlockVerifier.
var _ domain.UnlockVerifier = (*Client)(nil)
