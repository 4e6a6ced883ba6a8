// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the roles the completion API accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn in a session.
// Timestamp is milliseconds since the Unix epoch.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`

	// Model is only set on assistant messages.
	Model string `json:"model,omitempty"`

	// Images holds attached images as data-URI strings.
	Images []string `json:"images,omitempty"`
}

// NewMessage creates a new message with a generated ID stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// NewUserMessage creates a user message carrying optional image attachments.
func NewUserMessage(content string, images []string) Message {
	msg := NewMessage(RoleUser, content)
	if len(images) > 0 {
		msg.Images = append([]string(nil), images...)
	}
	return msg
}

// NewAssistantMessage creates an assistant message attributed to model.
func NewAssistantMessage(content, model string) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.Model = model
	return msg
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Preview returns a single-line preview of the content limited to maxLen runes.
func (m Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return newID("session")
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return newID("msg")
}

// newID builds "<prefix>-<epoch-ms>-<random>". The random part keeps ids
// distinct when several are minted within the same millisecond.
func newID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return prefix + "-" + strconv.FormatInt(NowMillis(), 10) + "-" + suffix
}
