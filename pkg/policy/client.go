package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/httpclient"
)

// CheckRequest is the body of a policy check. Metadata carries only a
// summary of the call arguments, never their values.
type CheckRequest struct {
	TenantID  string                 `json:"tenantId"`
	UserID    string                 `json:"userId"`
	Service   string                 `json:"service"`
	Operation string                 `json:"operation"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Decision is the policy verdict for one request.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Client talks to the external policy engine. Any transport or
// non-2xx failure is reported as an error, which callers treat as
// policy-unavailable.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the retrying HTTP client.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(p *Client) {
		p.http = c
	}
}

// NewClient creates a policy client for the engine at baseURL.
func NewClient(baseURL string, timeout time.Duration, maxRetries int, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http: httpclient.New(
			httpclient.WithTimeout(timeout),
			httpclient.WithMaxRetries(maxRetries),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAndApprove asks the engine to approve one tool invocation.
func (c *Client) CheckAndApprove(ctx context.Context, req *CheckRequest) (*Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize policy check: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/policy/check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("policy check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy check returned HTTP %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("failed to decode policy decision: %w", err)
	}
	return &decision, nil
}

// IsServiceEnabled reports, per the engine, whether the named service
// is currently enabled.
func (c *Client) IsServiceEnabled(ctx context.Context, name string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/policy/services/%s/enabled", c.baseURL, name), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("enabled query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("enabled query returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode enabled query: %w", err)
	}
	return result.Enabled, nil
}

// GetEnabledServices returns the names of all enabled services per the
// engine.
func (c *Client) GetEnabledServices(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/policy/services/enabled", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("enabled services query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enabled services query returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Services []string `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode enabled services: %w", err)
	}
	return result.Services, nil
}

// ArgumentMetadata builds the check metadata from call arguments. Only
// the sorted key names are sent.
func ArgumentMetadata(arguments map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]interface{}{
		"argumentKeys":  keys,
		"argumentCount": len(keys),
	}
}
