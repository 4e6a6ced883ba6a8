// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/storage"
)

var (
	// ErrNoActiveSession is returned by operations that need a current session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrOffline is returned by sends while the connectivity monitor reports offline.
	ErrOffline = errors.New("offline: cannot send messages")
)

// Describe converts an error into the text shown to the user as the
// manager's last error.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	if ue, ok := cloud.IsUpstream(err); ok {
		text := http.StatusText(ue.StatusCode)
		if text == "" {
			text = fmt.Sprintf("HTTP %d", ue.StatusCode)
		}
		if ue.Body != "" {
			return fmt.Sprintf("Failed to get response: %s (%s)", text, ue.Body)
		}
		return "Failed to get response: " + text
	}

	var te *cloud.TransportError
	switch {
	case errors.Is(err, ErrNoActiveSession):
		return "No active session"
	case errors.Is(err, ErrOffline):
		return "You are offline. Cannot send messages."
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	case errors.Is(err, cloud.ErrInvalidModel):
		return "Unknown model: " + err.Error()
	case errors.Is(err, cloud.ErrNotConfigured):
		return "Completion endpoint is not configured. Set AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT."
	case errors.Is(err, storage.ErrStorageFull):
		return "Storage is full. Delete or export old sessions."
	case errors.As(err, &te):
		return fmt.Sprintf("Network error: %v", te.Err)
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Failed to send message"
}
