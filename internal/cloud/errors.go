// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"errors"
	"fmt"
	"strings"
)

// Error variables for requests rejected before any network traffic.
// They are usually wrapped; check with errors.Is.
var (
	// ErrInvalidModel indicates the model is not in the catalog.
	ErrInvalidModel = errors.New("invalid model")

	// ErrInvalidInput indicates a malformed request (no messages, bad role).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotConfigured indicates the API key, endpoint or API version is missing.
	ErrNotConfigured = errors.New("completion endpoint not configured")
)

// UpstreamError is returned when the remote endpoint answers with a
// non-success status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("upstream error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream error: HTTP %d - %s", e.StatusCode, body)
}

// TransportError is returned when the connection to the endpoint fails,
// including a stream that ends before its completion sentinel.
type TransportError struct {
	Op  string // "request", "read" or "stream"
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err is an *UpstreamError and returns it.
func IsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
