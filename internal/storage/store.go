// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/azchat/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultPrefix namespaces every key owned by the store.
	DefaultPrefix = "azchat"

	// DefaultMaxSessions is the retention cap on stored sessions.
	DefaultMaxSessions = 50

	// DefaultMaxMessages is the per-session message cap.
	DefaultMaxMessages = 100

	// DefaultMaxBytes is the retention budget across all owned keys (5 MiB).
	DefaultMaxBytes = 5 * 1024 * 1024
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Store. Zero values fall back to the defaults.
type Options struct {
	// Prefix namespaces all keys. Keys are "<prefix>:sessions",
	// "<prefix>:session:<id>" and "<prefix>:current-session".
	Prefix string

	// MaxSessions caps the number of stored sessions.
	MaxSessions int

	// MaxMessages caps messages per session; older messages are dropped.
	MaxMessages int

	// MaxBytes is the byte budget across all owned keys.
	MaxBytes int

	// Logger receives diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultOptions returns the stock retention limits.
func DefaultOptions() Options {
	return Options{
		Prefix:      DefaultPrefix,
		MaxSessions: DefaultMaxSessions,
		MaxMessages: DefaultMaxMessages,
		MaxBytes:    DefaultMaxBytes,
	}
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.Prefix == "" {
		o.Prefix = d.Prefix
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = d.MaxSessions
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = d.MaxMessages
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = d.MaxBytes
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store persists sessions, the session index and the active-session pointer
// on top of a Backend.
//
// Every exported method holds the store lock for its whole read-modify-write
// sequence, so concurrent callers never interleave index updates.
type Store struct {
	backend Backend
	opts    Options
	log     *log.Logger
	mu      sync.Mutex
}

// New creates a store over backend.
func New(backend Backend, opts Options) *Store {
	opts.fillDefaults()
	return &Store{
		backend: backend,
		opts:    opts,
		log:     opts.Logger.WithPrefix("storage"),
	}
}

// NewMemoryStore creates a store over a fresh MemoryBackend with default options.
func NewMemoryStore() *Store {
	return New(NewMemoryBackend(0), DefaultOptions())
}

// Options returns the effective options.
func (s *Store) Options() Options {
	return s.opts
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// =============================================================================
// KEYS
// =============================================================================

func (s *Store) ownedPrefix() string { return s.opts.Prefix + ":" }
func (s *Store) indexKey() string { return s.opts.Prefix + ":sessions" }
func (s *Store) currentKey() string { return s.opts.Prefix + ":current-session" }
func (s *Store) recordPrefix() string { return s.opts.Prefix + ":session:" }
func (s *Store) recordKey(id string) string { return s.recordPrefix() + id }

// =============================================================================
// READ OPERATIONS
// =============================================================================

// ListSessions returns the session index in stored order.
// A missing or unreadable index yields an empty list; the problem is logged.
func (s *Store) ListSessions() []model.SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		s.log.Error("session index unreadable", "err", err)
		return []model.SessionMeta{}
	}
	return index
}

// GetSession loads the full record for id. Missing and corrupt records are
// both reported as absent; corruption is logged.
func (s *Store) GetSession(id string) (*model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSession(id)
}

func (s *Store) getSession(id string) (*model.Session, bool) {
	raw, ok, err := s.backend.Get(s.recordKey(id))
	if err != nil {
		s.log.Error("session read failed", "id", id, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		s.log.Error("session record corrupt", "id", id, "err", err)
		return nil, false
	}
	if sess.Messages == nil {
		sess.Messages = []model.Message{}
	}
	return &sess, true
}

// readIndex decodes the index record. A missing record is an empty index.
func (s *Store) readIndex() ([]model.SessionMeta, error) {
	raw, ok, err := s.backend.Get(s.indexKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.SessionMeta{}, nil
	}
	var index []model.SessionMeta
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil, fmt.Errorf("decode session index: %w", err)
	}
	if index == nil {
		index = []model.SessionMeta{}
	}
	return index, nil
}

// indexForUpdate returns the index for a read-modify-write. An unreadable
// index is rebuilt from the full records so the two stay consistent.
func (s *Store) indexForUpdate() ([]model.SessionMeta, error) {
	index, err := s.readIndex()
	if err == nil {
		return index, nil
	}
	s.log.Warn("rebuilding session index", "err", err)
	return s.rebuildIndex()
}

func (s *Store) rebuildIndex() ([]model.SessionMeta, error) {
	keys, err := s.backend.Keys(s.recordPrefix())
	if err != nil {
		return nil, err
	}
	index := make([]model.SessionMeta, 0, len(keys))
	for _, k := range keys {
		sess, ok := s.getSession(strings.TrimPrefix(k, s.recordPrefix()))
		if !ok {
			continue
		}
		index = append(index, sess.Meta())
	}
	return index, nil
}

func (s *Store) writeIndex(index []model.SessionMeta) error {
	data, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return s.backend.Set(s.indexKey(), string(data))
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// SaveSession writes sess and upserts its index entry, then enforces
// retention. sess.Messages is truncated in place to the message cap.
//
// If the backend rejects the write for capacity, a retention pass runs that
// counts sess among the remaining sessions and never evicts it. Older
// sessions are then evicted one at a time, retrying the write after each,
// until it fits or sess is the only session left; a write that still fails
// returns ErrStorageFull.
func (s *Store) SaveSession(sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("save session: missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Truncate(s.opts.MaxMessages) {
		s.log.Debug("session truncated", "id", sess.ID, "kept", len(sess.Messages))
	}

	err := s.save(sess)
	if errors.Is(err, ErrQuotaExceeded) {
		s.log.Warn("storage quota exceeded, evicting and retrying", "id", sess.ID)
		if err = s.saveAfterEviction(sess); err != nil {
			return fmt.Errorf("%w: save %s: %w", ErrStorageFull, sess.ID, err)
		}
	} else if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	s.enforceRetention(0, "")
	return nil
}

// saveAfterEviction retries a write the backend rejected for capacity.
func (s *Store) saveAfterEviction(sess *model.Session) error {
	s.enforceRetention(s.pendingSize(sess), sess.ID)
	err := s.save(sess)
	for errors.Is(err, ErrQuotaExceeded) {
		victim, ok := s.oldestOther(sess.ID)
		if !ok || !s.evict(victim, "quota") {
			return err
		}
		err = s.save(sess)
	}
	return err
}

// oldestOther returns the least recently updated index entry other than id.
func (s *Store) oldestOther(id string) (model.SessionMeta, bool) {
	index, err := s.indexForUpdate()
	if err != nil {
		return model.SessionMeta{}, false
	}
	sortOldestFirst(index)
	for _, meta := range index {
		if meta.ID != id {
			return meta, true
		}
	}
	return model.SessionMeta{}, false
}

// pendingSize is the room a rejected write of sess needs beyond what its
// current record already occupies.
func (s *Store) pendingSize(sess *model.Session) int {
	data, err := json.Marshal(sess)
	if err != nil {
		return 0
	}
	need := ValueSize(string(data))
	if old, ok, err := s.backend.Get(s.recordKey(sess.ID)); err == nil && ok {
		need -= ValueSize(old)
	}
	if need < 0 {
		return 0
	}
	return need
}

// save writes the full record, then the index entry. When the index update
// fails the record is put back to its previous value, so a record never
// exists without an index entry.
func (s *Store) save(sess *model.Session) (err error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := s.recordKey(sess.ID)
	prev, hadPrev, err := s.backend.Get(key)
	if err != nil {
		return err
	}
	if err := s.backend.Set(key, string(data)); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.restoreRecord(key, prev, hadPrev)
		}
	}()

	index, err := s.indexForUpdate()
	if err != nil {
		return err
	}
	meta := sess.Meta()
	found := false
	for i := range index {
		if index[i].ID == sess.ID {
			index[i] = meta
			found = true
			break
		}
	}
	if !found {
		index = append(index, meta)
	}
	return s.writeIndex(index)
}

func (s *Store) restoreRecord(key, prev string, hadPrev bool) {
	var err error
	if hadPrev {
		err = s.backend.Set(key, prev)
	} else {
		err = s.backend.Remove(key)
	}
	if err != nil {
		s.log.Error("record rollback failed", "key", key, "err", err)
	}
}

// DeleteSession removes the record and index entry for id.
// Deleting an absent id is a no-op.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSession(id)
}

func (s *Store) deleteSession(id string) error {
	if err := s.backend.Remove(s.recordKey(id)); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	index, err := s.indexForUpdate()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	kept := index[:0]
	for _, m := range index {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if err := s.writeIndex(kept); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// CURRENT SESSION POINTER
// =============================================================================

// CurrentSessionID returns the last active session id, if any.
func (s *Store) CurrentSessionID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok, err := s.backend.Get(s.currentKey())
	if err != nil {
		s.log.Error("current session pointer unreadable", "err", err)
		return "", false
	}
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SetCurrentSessionID records id as the active session.
func (s *Store) SetCurrentSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Set(s.currentKey(), id)
}

// ClearCurrentSessionID removes the active-session pointer.
func (s *Store) ClearCurrentSessionID() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Remove(s.currentKey())
}

// =============================================================================
// USAGE
// =============================================================================

// Usage summarises how much of the retention budget is in use.
type Usage struct {
	Sessions    int `json:"sessions"`
	Bytes       int `json:"bytes"`
	MaxSessions int `json:"maxSessions"`
	MaxBytes    int `json:"maxBytes"`
}

// Usage reports the current session count and occupied bytes.
func (s *Store) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readIndex()
	if err != nil {
		index = nil
	}
	return Usage{
		Sessions:    len(index),
		Bytes:       s.occupiedBytes(),
		MaxSessions: s.opts.MaxSessions,
		MaxBytes:    s.opts.MaxBytes,
	}
}

// occupiedBytes sums ValueSize over every key owned by the store.
func (s *Store) occupiedBytes() int {
	keys, err := s.backend.Keys(s.ownedPrefix())
	if err != nil {
		s.log.Error("listing keys failed", "err", err)
		return 0
	}
	total := 0
	for _, k := range keys {
		v, ok, err := s.backend.Get(k)
		if err != nil || !ok {
			continue
		}
		total += ValueSize(v)
	}
	return total
}

// =============================================================================
// RETENTION
// =============================================================================

// enforceRetention evicts least recently updated sessions until the count is
// within MaxSessions and, while more than one session remains, the occupied
// size plus reserve is within MaxBytes. A non-empty pending id names a
// session being written: it counts as remaining and is never evicted.
// Failures are logged; retention never fails a save.
func (s *Store) enforceRetention(reserve int, pending string) {
	index, err := s.indexForUpdate()
	if err != nil {
		s.log.Error("retention skipped", "err", err)
		return
	}
	sortOldestFirst(index)

	victims := index[:0]
	for _, meta := range index {
		if meta.ID != pending {
			victims = append(victims, meta)
		}
	}
	remaining := len(victims)
	if pending != "" {
		remaining++
	}

	for len(victims) > 0 && remaining > s.opts.MaxSessions {
		s.evict(victims[0], "count")
		victims = victims[1:]
		remaining--
	}

	for len(victims) > 0 && remaining > 1 && s.occupiedBytes()+reserve > s.opts.MaxBytes {
		s.evict(victims[0], "size")
		victims = victims[1:]
		remaining--
	}
}

func (s *Store) evict(meta model.SessionMeta, reason string) bool {
	if err := s.deleteSession(meta.ID); err != nil {
		s.log.Error("eviction failed", "id", meta.ID, "err", err)
		return false
	}
	s.log.Info("session evicted", "id", meta.ID, "reason", reason)
	return true
}

// sortOldestFirst orders by UpdatedAt ascending, ties broken by id.
func sortOldestFirst(index []model.SessionMeta) {
	sort.SliceStable(index, func(i, j int) bool {
		if index[i].UpdatedAt != index[j].UpdatedAt {
			return index[i].UpdatedAt < index[j].UpdatedAt
		}
		return index[i].ID < index[j].ID
	})
}

// SortNewestFirst orders index entries by UpdatedAt descending.
func SortNewestFirst(index []model.SessionMeta) {
	sort.SliceStable(index, func(i, j int) bool {
		if index[i].UpdatedAt != index[j].UpdatedAt {
			return index[i].UpdatedAt > index[j].UpdatedAt
		}
		return index[i].ID > index[j].ID
	})
}
