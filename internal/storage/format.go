// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/util"
)

// =============================================================================
// SEARCH
// =============================================================================

// Search returns index entries whose title or any message contains query,
// case-insensitively, newest first. An empty query matches everything.
func (s *Store) Search(query string) []model.SessionMeta {
	all := s.ListSessions()
	SortNewestFirst(all)
	if query == "" {
		return all
	}

	query = strings.ToLower(query)
	var results []model.SessionMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) {
			results = append(results, meta)
			continue
		}
		sess, ok := s.GetSession(meta.ID)
		if !ok {
			continue
		}
		for _, msg := range sess.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results
}

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatSessionList renders index entries as a plain-text table.
// The entry matching currentID is marked with "*".
func FormatSessionList(sessions []model.SessionMeta, currentID string) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	rule := strings.Repeat("-", 96) + "\n"
	sb.WriteString("Sessions:\n")
	sb.WriteString(rule)
	sb.WriteString("  " + util.PadWidth("ID", 34) + " " + util.PadWidth("Updated", 17) + " " +
		util.PadWidth("Model", 13) + " Title\n")
	sb.WriteString(rule)

	for _, s := range sessions {
		marker := "  "
		if s.ID == currentID {
			marker = "* "
		}
		updated := time.UnixMilli(s.UpdatedAt).Format("2006-01-02 15:04")
		sb.WriteString(marker +
			util.PadWidth(util.TruncateWidth(s.ID, 34), 34) + " " +
			util.PadWidth(updated, 17) + " " +
			util.PadWidth(s.Model, 13) + " " +
			util.TruncateWidth(s.Title, 30) + "\n")
	}
	sb.WriteString(rule)
	sb.WriteString(strconv.Itoa(len(sessions)) + " session(s)\n")
	return sb.String()
}
