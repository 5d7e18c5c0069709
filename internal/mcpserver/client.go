package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for reaching a mevguard server.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token for a fronting gateway
}

// TransactionArgs is a transaction as the tools receive it. Amounts are
// base-10 integer strings and the payload is 0x-hex.
type TransactionArgs struct {
	ID       string `json:"id,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
	Payload  string `json:"payload,omitempty"`
}

// GuardClient is a pure HTTP client for the mevguard API.
type GuardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGuardClient creates a new client.
func NewGuardClient(cfg Config) *GuardClient {
	return &GuardClient{
		cfg: cfg,
		httpClient: &http.Client{
			// Protect blocks until the execution outcome is known
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the server and returns the response body.
func (c *GuardClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Assess scores a transaction and returns the plan it would get.
func (c *GuardClient) Assess(ctx context.Context, tx TransactionArgs) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/assess", nil, tx)
}

// Protect runs a transaction through the full protection journey.
func (c *GuardClient) Protect(ctx context.Context, tx TransactionArgs) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/protect", nil, tx)
}

// GetJourney returns the archived journey of a transaction.
func (c *GuardClient) GetJourney(ctx context.Context, txID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/journeys/"+url.PathEscape(txID), nil, nil)
}

// ListJourneys lists archived journeys, newest first. A non-empty cursor
// continues from a previous page.
func (c *GuardClient) ListJourneys(ctx context.Context, state string, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/journeys", q, nil)
}

// GetPool returns the current mempool snapshot.
func (c *GuardClient) GetPool(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/pool", nil, nil)
}
