// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidURL is returned when an endpoint URL cannot be parsed or has no host.
	ErrInvalidURL = errors.New("invalid endpoint URL")

	// ErrInvalidURLScheme is returned when URL scheme is not http or https.
	// Prevents file://, javascript://, data:// and other schemes from being
	// configured as an endpoint.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrInsecureRemote is returned for plain-http endpoints that are not on
	// the loopback interface. The API key is sent as a header on every call.
	ErrInsecureRemote = errors.New("plain http is only allowed for localhost endpoints")
)

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host string refers to localhost.
// Accepts: "localhost", "127.0.0.1", "::1", "[::1]", and any loopback variant.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host = strings.Trim(host, "[]")
	host = strings.ToLower(host)

	if host == "localhost" {
		return true
	}

	// Covers all of 127.0.0.0/8 and every spelling of ::1.
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}

	return false
}

// ValidateEndpointURL checks that rawURL is usable as a completion or proxy
// endpoint: it must parse, carry a host and use http or https. Plain http
// is accepted only for loopback hosts.
func ValidateEndpointURL(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	if parsed.Hostname() == "" {
		return ErrInvalidURL
	}
	if scheme == "http" && !IsLocalhost(parsed.Hostname()) {
		return ErrInsecureRemote
	}
	return nil
}

// =============================================================================
// STATUS DISPLAY
// =============================================================================

// StatusIndicator returns "OFFLINE" when s is offline, empty string otherwise.
func StatusIndicator(s Status) string {
	if !s.Online {
		return "OFFLINE"
	}
	return ""
}

// StatusBadge returns a formatted badge for the terminal prompt.
// Returns "[OFFLINE]" when offline, empty string otherwise.
func StatusBadge(s Status) string {
	if !s.Online {
		return "[OFFLINE]"
	}
	return ""
}
