// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultTitle is used until the first user message arrives.
	DefaultTitle = "New Chat"

	// TitleMaxRunes is the number of characters kept from the first user message.
	TitleMaxRunes = 50
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a titled, ordered sequence of messages bound to one model.
// CreatedAt and UpdatedAt are epoch milliseconds.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Model     string    `json:"model"`
}

// NewSession creates an empty session bound to model.
func NewSession(model string) *Session {
	now := NowMillis()
	return &Session{
		ID:        NewSessionID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Model:     model,
	}
}

// Touch bumps UpdatedAt, never moving it backwards.
func (s *Session) Touch() {
	now := NowMillis()
	if now > s.UpdatedAt {
		s.UpdatedAt = now
	}
}

// Append adds msg to the session. A user message opening an empty session
// becomes its title.
func (s *Session) Append(msg Message) {
	if msg.Role == RoleUser && len(s.Messages) == 0 {
		s.Title = DeriveTitle(msg.Content)
	}
	s.Messages = append(s.Messages, msg)
	s.Touch()
}

// LastMessage returns the most recent message, or nil for an empty session.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Truncate keeps only the newest max messages.
// It reports whether anything was dropped.
func (s *Session) Truncate(max int) bool {
	if max <= 0 || len(s.Messages) <= max {
		return false
	}
	kept := make([]Message, max)
	copy(kept, s.Messages[len(s.Messages)-max:])
	s.Messages = kept
	return true
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.Images != nil {
			m.Images = append([]string(nil), m.Images...)
		}
		c.Messages[i] = m
	}
	return &c
}

// Meta returns the index entry describing the session.
func (s *Session) Meta() SessionMeta {
	return SessionMeta{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Model:     s.Model,
	}
}

// SessionMeta is the lightweight summary kept in the session index.
type SessionMeta struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Model     string `json:"model"`
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// DeriveTitle builds a session title from the first user message.
// Content is NFC-normalised so that combining sequences count as one character.
func DeriveTitle(content string) string {
	if strings.TrimSpace(content) == "" {
		return DefaultTitle
	}
	content = norm.NFC.String(content)
	runes := []rune(content)
	if len(runes) > TitleMaxRunes {
		return string(runes[:TitleMaxRunes]) + "..."
	}
	return content
}
