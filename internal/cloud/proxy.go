// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// ChatPath is the local proxy's completion route.
const ChatPath = "/api/chat"

// ProxyRequest is the body accepted by the local proxy.
type ProxyRequest struct {
	Messages []Turn `json:"messages"`
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
}

// ProxyResponse is the local proxy's non-streaming reply.
type ProxyResponse struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// ProxyClient sends completions through a running azchat server instead of
// talking to the remote endpoint directly. The credentials then only need to
// be known to the server process.
type ProxyClient struct {
	baseURL    string
	httpClient *http.Client
	log        *log.Logger
	parseLog   rate.Sometimes
}

// NewProxyClient creates a client for the server at baseURL,
// e.g. "http://127.0.0.1:8787".
func NewProxyClient(baseURL string) *ProxyClient {
	return &ProxyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
		log:        log.Default().WithPrefix("proxy-client"),
		parseLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (p *ProxyClient) WithHTTPClient(hc *http.Client) *ProxyClient {
	p.httpClient = hc
	return p
}

// WithLogger sets the diagnostic logger.
func (p *ProxyClient) WithLogger(l *log.Logger) *ProxyClient {
	if l != nil {
		p.log = l.WithPrefix("proxy-client")
	}
	return p
}

// Complete implements Completer.
func (p *ProxyClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, proxyError(resp.StatusCode, body)
	}

	var out ProxyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("unparseable response: %v", err)}
	}
	return &Response{Content: out.Content, Usage: out.Usage}, nil
}

// CompleteStreaming implements StreamCompleter.
func (p *ProxyClient) CompleteStreaming(ctx context.Context, req Request, onChunk func(string), onComplete func()) error {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := readResponse(resp)
		if readErr != nil {
			return &TransportError{Op: "read", Err: readErr}
		}
		return proxyError(resp.StatusCode, body)
	}

	stream := &eventStream{
		body:       resp.Body,
		onChunk:    onChunk,
		onComplete: onComplete,
		log:        p.log,
		parseLog:   &p.parseLog,
	}
	return stream.run(ctx)
}

func (p *ProxyClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if _, err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(ProxyRequest{Messages: req.Messages, Model: req.Model, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+ChatPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	return resp, nil
}

// proxyError unwraps the proxy's {"error": "..."} payload when present.
func proxyError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return &UpstreamError{StatusCode: status, Body: payload.Error}
	}
	return &UpstreamError{StatusCode: status, Body: string(body)}
}
