// Package visionhttp implements vision.Analyzer against the HTTP analysis
// service (POST /analyze with a JSON body naming the snapshot to fetch).
package visionhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/argushq/argus/pkg/provider/vision"
)

// Compile-time assertion that Client implements vision.Analyzer.
var _ vision.Analyzer = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout. Analysis includes a model
// inference pass on the remote side, so the default is a generous 60 s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// Client talks to the vision analysis service. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the analysis service at baseURL
// (e.g., "http://localhost:8001").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("visionhttp: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Analyze implements vision.Analyzer.
func (c *Client) Analyze(ctx context.Context, req vision.Request) (vision.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return vision.Result{}, fmt.Errorf("visionhttp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return vision.Result{}, fmt.Errorf("visionhttp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return vision.Result{}, fmt.Errorf("visionhttp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return vision.Result{}, fmt.Errorf("visionhttp: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return vision.Result{}, fmt.Errorf("visionhttp: read response body: %w", err)
	}

	var result vision.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return vision.Result{}, fmt.Errorf("visionhttp: parse JSON response: %w", err)
	}
	return result, nil
}
