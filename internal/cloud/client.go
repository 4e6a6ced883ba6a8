// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/jeranaias/azchat/internal/model"
)

// Configuration constants for the completion endpoint.
const (
	// DefaultAPIVersion is used when no API version is configured.
	DefaultAPIVersion = "2023-05-15"

	// DefaultDialTimeout bounds connection setup. Completion calls are not
	// otherwise timed out; callers bound them through the context.
	DefaultDialTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// userAgent identifies the client to the endpoint.
	userAgent = "azchat/1.0"
)

// newHTTPClient builds an HTTP client without an overall timeout so that
// long streams are not cut off; dial and TLS setup are still bounded.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 0,
		},
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks directly to an Azure OpenAI style deployment endpoint.
//
// Each catalog model maps to a deployment route:
//
//	POST {endpoint}/openai/deployments/{deployment}/chat/completions?api-version={v}
//
// A Client is safe for concurrent use.
type Client struct {
	apiKey      string
	endpoint    string
	apiVersion  string
	deployments map[string]string
	httpClient  *http.Client
	log         *log.Logger

	// parseLog throttles diagnostics for skipped stream records.
	parseLog rate.Sometimes
}

// NewClient creates a client for endpoint authenticated with apiKey.
// Missing values are not an error here; requests fail with ErrNotConfigured.
func NewClient(apiKey, endpoint, apiVersion string) *Client {
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = DefaultAPIVersion
	}
	return &Client{
		apiKey:      strings.TrimSpace(apiKey),
		endpoint:    strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiVersion:  strings.TrimSpace(apiVersion),
		deployments: make(map[string]string),
		httpClient:  newHTTPClient(),
		log:         log.Default().WithPrefix("cloud"),
		parseLog:    rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// WithDeployments overrides the deployment name for the given model IDs.
func (c *Client) WithDeployments(deployments map[string]string) *Client {
	for id, name := range deployments {
		if name = strings.TrimSpace(name); name != "" {
			c.deployments[id] = name
		}
	}
	return c
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the diagnostic logger.
func (c *Client) WithLogger(l *log.Logger) *Client {
	if l != nil {
		c.log = l.WithPrefix("cloud")
	}
	return c
}

// IsConfigured returns true if key, endpoint and API version are all set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.endpoint != "" && c.apiVersion != ""
}

// Endpoint returns the configured endpoint base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// APIVersion returns the configured API version.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// display. The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// Deployment returns the deployment name serving modelID.
func (c *Client) Deployment(modelID string) (string, bool) {
	if name, ok := c.deployments[modelID]; ok {
		return name, true
	}
	d, ok := model.Lookup(modelID)
	if !ok {
		return "", false
	}
	return d.Deployment, true
}

// checkConfigured reports which setting is missing.
func (c *Client) checkConfigured() error {
	var missing []string
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.apiVersion == "" {
		missing = append(missing, "API version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// deploymentURL builds the chat completions URL for a deployment.
func (c *Client) deploymentURL(deployment string) string {
	return c.endpoint + "/openai/deployments/" + url.PathEscape(deployment) +
		"/chat/completions?api-version=" + url.QueryEscape(c.apiVersion)
}

// =============================================================================
// BLOCKING COMPLETION
// =============================================================================

// Complete sends req and waits for the full reply.
//
// Validation and configuration errors are returned before any network call.
// A non-2xx reply yields *UpstreamError; connection failures yield
// *TransportError.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()
	c.logResponse(httpReq, resp, time.Since(start))

	body, err := readResponse(resp)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("unparseable response: %v", err),
		}
	}
	return wire.toResponse(), nil
}

// newRequest validates req and builds the HTTP request for it.
func (c *Client) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	d, err := req.Validate()
	if err != nil {
		return nil, err
	}
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}
	deployment, _ := c.Deployment(req.Model)

	body := chatRequest{
		Messages:    req.Messages,
		Temperature: d.DefaultTemperature,
		MaxTokens:   d.MaxTokens,
		Stream:      stream,
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deploymentURL(deployment), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)
	httpReq.Header.Set("User-Agent", userAgent)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	c.log.Debug("completion request", "model", req.Model, "deployment", deployment,
		"turns", len(req.Messages), "stream", stream)
	return httpReq, nil
}

// logResponse logs status and latency only; bodies and headers may carry
// user content or credentials.
func (c *Client) logResponse(req *http.Request, resp *http.Response, d time.Duration) {
	c.log.Debug("completion response", "path", req.URL.Path, "status", resp.StatusCode, "duration", d)
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
