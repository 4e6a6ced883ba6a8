// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/azchat/internal/model"
)

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// ExportAll returns every full session record as a pretty-printed JSON array,
// in index order. Index entries whose record is missing are skipped.
func (s *Store) ExportAll() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		s.log.Warn("export falling back to record scan", "err", err)
		if index, err = s.rebuildIndex(); err != nil {
			return "", fmt.Errorf("export sessions: %w", err)
		}
	}

	sessions := make([]*model.Session, 0, len(index))
	for _, meta := range index {
		if sess, ok := s.getSession(meta.ID); ok {
			sessions = append(sessions, sess)
		}
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export sessions: %w", err)
	}
	return string(data), nil
}

// importRecord is decoded first to validate the minimum shape of a record.
type importRecord struct {
	ID       string          `json:"id"`
	Messages json.RawMessage `json:"messages"`
}

// ImportAll saves every valid session in data, a JSON array as produced by
// ExportAll. A payload that is not a JSON array fails with ErrInvalidFormat
// and nothing is written. Records without an id or a message list are
// skipped. Each record is saved independently: a record the store refuses
// does not stop the rest, and every such failure is returned joined together
// with the number of sessions imported.
func (s *Store) ImportAll(data string) (int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raws); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var errs []error
	imported := 0
	for i, raw := range raws {
		var rec importRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.log.Warn("import skipping malformed record", "index", i, "err", err)
			continue
		}
		msgs := bytes.TrimSpace(rec.Messages)
		if rec.ID == "" || len(msgs) == 0 || msgs[0] != '[' {
			s.log.Warn("import skipping record without id or messages", "index", i)
			continue
		}

		var sess model.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			s.log.Warn("import skipping malformed record", "index", i, "id", rec.ID, "err", err)
			continue
		}
		if sess.Title == "" {
			sess.Title = model.DefaultTitle
		}
		if err := s.SaveSession(&sess); err != nil {
			s.log.Warn("import failed to save record", "index", i, "id", sess.ID, "err", err)
			errs = append(errs, fmt.Errorf("import session %s: %w", sess.ID, err))
			continue
		}
		imported++
	}
	return imported, errors.Join(errs...)
}

// ClearAll removes every key under the store prefix. Keys belonging to
// anything else sharing the backend are left alone.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys(s.ownedPrefix())
	if err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	for _, k := range keys {
		if err := s.backend.Remove(k); err != nil {
			return fmt.Errorf("clear storage: remove %s: %w", k, err)
		}
	}
	s.log.Info("storage cleared", "keys", len(keys))
	return nil
}
