// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/storage"
)

// =============================================================================
// STATE
// =============================================================================

// State is an immutable snapshot of the manager. Current is a deep copy
// and may be modified freely by the receiver.
type State struct {
	Sessions []model.SessionMeta // newest first
	Current  *model.Session
	Loading  bool
	Error    string
}

// Connectivity gates sends. *offline.Monitor satisfies it.
type Connectivity interface {
	IsOnline() bool
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager tracks the session list, the current session and the state of
// in-flight sends. It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	store  *storage.Store
	client cloud.Completer
	net    Connectivity
	log    *log.Logger

	sessions []model.SessionMeta
	current  *model.Session
	inFlight int
	lastErr  string

	// Subscribers
	subs   map[int]func(State)
	nextID int
}

// NewManager creates a manager. A nil net is treated as always online and
// a nil logger falls back to the default logger.
func NewManager(store *storage.Store, client cloud.Completer, net Connectivity, logger *log.Logger) *Manager {
	if net == nil {
		net = alwaysOnline{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:    store,
		client:   client,
		net:      net,
		log:      logger.WithPrefix("session"),
		sessions: []model.SessionMeta{},
		subs:     make(map[int]func(State)),
	}
}

// State returns a snapshot of the manager's state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn to be called after every state change and returns
// a function that removes it. Calls happen synchronously, outside the
// manager's lock, so fn may call back into the manager.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) snapshotLocked() State {
	st := State{
		Sessions: append([]model.SessionMeta(nil), m.sessions...),
		Loading:  m.inFlight > 0,
		Error:    m.lastErr,
	}
	if m.current != nil {
		st.Current = m.current.Clone()
	}
	return st
}

// unlockAndNotify releases the lock and pushes the new state to subscribers.
func (m *Manager) unlockAndNotify() {
	st := m.snapshotLocked()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(State), len(ids))
	for i, id := range ids {
		subs[i] = m.subs[id]
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Init loads the session summaries and restores the last active session
// when its record still exists.
func (m *Manager) Init() {
	m.mu.Lock()
	m.sessions = m.store.ListSessions()
	storage.SortNewestFirst(m.sessions)

	if id, ok := m.store.CurrentSessionID(); ok {
		if sess, found := m.store.GetSession(id); found {
			m.current = sess
		} else {
			m.log.Debug("active session pointer is stale", "id", id)
		}
	}
	m.unlockAndNotify()
}

// Refresh reloads the summaries from storage. The current session is
// reloaded too when its stored copy is newer and no send is in flight.
func (m *Manager) Refresh() {
	m.mu.Lock()
	m.sessions = m.store.ListSessions()
	storage.SortNewestFirst(m.sessions)

	if m.current != nil && m.inFlight == 0 {
		if sess, ok := m.store.GetSession(m.current.ID); ok && sess.UpdatedAt > m.current.UpdatedAt {
			m.current = sess
		}
	}
	m.unlockAndNotify()
}

// CreateSession starts an empty session bound to modelID, makes it current
// and returns its id. Storage failures are logged and otherwise ignored.
func (m *Manager) CreateSession(modelID string) string {
	if modelID == "" {
		modelID = model.DefaultModel
	}
	sess := model.NewSession(modelID)

	m.mu.Lock()
	if err := m.store.SaveSession(sess); err != nil {
		m.log.Warn("failed to persist new session", "id", sess.ID, "err", err)
	}
	if err := m.store.SetCurrentSessionID(sess.ID); err != nil {
		m.log.Warn("failed to record active session", "id", sess.ID, "err", err)
	}
	m.current = sess
	m.upsertSummaryLocked(sess.Meta())
	m.unlockAndNotify()

	return sess.ID
}

// LoadSession makes the stored session id current. An unknown id leaves the
// state untouched; the return value reports whether the session was found.
func (m *Manager) LoadSession(id string) bool {
	sess, ok := m.store.GetSession(id)
	if !ok {
		return false
	}

	m.mu.Lock()
	m.current = sess
	if err := m.store.SetCurrentSessionID(id); err != nil {
		m.log.Warn("failed to record active session", "id", id, "err", err)
	}
	m.unlockAndNotify()
	return true
}

// DeleteSession removes id from storage and from the summaries. Deleting
// the current session leaves no session current.
func (m *Manager) DeleteSession(id string) {
	m.mu.Lock()
	if err := m.store.DeleteSession(id); err != nil {
		m.log.Warn("failed to delete session", "id", id, "err", err)
	}
	m.removeSummaryLocked(id)

	if m.current != nil && m.current.ID == id {
		m.current = nil
		if err := m.store.ClearCurrentSessionID(); err != nil {
			m.log.Warn("failed to clear active session", "err", err)
		}
	}
	m.unlockAndNotify()
}

// UpdateSessionModel switches the current session to modelID and persists
// the change. No request is made.
func (m *Manager) UpdateSessionModel(modelID string) error {
	if !model.IsValid(modelID) {
		return fmt.Errorf("%w: %q", cloud.ErrInvalidModel, modelID)
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	m.current.Model = modelID
	m.current.Touch()
	err := m.store.SaveSession(m.current)
	m.upsertSummaryLocked(m.current.Meta())
	m.unlockAndNotify()

	if err != nil {
		return fmt.Errorf("update session model: %w", err)
	}
	return nil
}

// ClearError resets the last error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = ""
	m.unlockAndNotify()
}

// =============================================================================
// SENDING
// =============================================================================

// pendingSend captures what a send needs once the lock is released.
type pendingSend struct {
	sessionID string
	model     string
	history   []cloud.Turn
}

// SendMessage appends a user message to the current session, asks the
// completion client for a reply and appends it.
//
// The user message is persisted before the request is made and is kept when
// the request fails; the failure is recorded as the last error and returned.
func (m *Manager) SendMessage(ctx context.Context, content string, images []string) error {
	p, err := m.beginSend(content, images)
	if err != nil {
		return err
	}

	resp, err := m.client.Complete(ctx, cloud.Request{Messages: p.history, Model: p.model})
	if err != nil {
		m.failSend(p, err)
		return fmt.Errorf("send message: %w", err)
	}

	m.finishSend(p, resp.Content)
	return nil
}

// SendMessageStreaming behaves like SendMessage but forwards reply fragments
// to onChunk as they arrive. The assistant message is appended once the
// stream completes. Clients without streaming support deliver the whole
// reply as a single fragment.
func (m *Manager) SendMessageStreaming(ctx context.Context, content string, images []string, onChunk func(string)) error {
	p, err := m.beginSend(content, images)
	if err != nil {
		return err
	}

	reply, err := m.stream(ctx, p, onChunk)
	if err != nil {
		m.failSend(p, err)
		return fmt.Errorf("send message: %w", err)
	}

	m.finishSend(p, reply)
	return nil
}

func (m *Manager) stream(ctx context.Context, p pendingSend, onChunk func(string)) (string, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	req := cloud.Request{Messages: p.history, Model: p.model}

	sc, ok := m.client.(cloud.StreamCompleter)
	if !ok {
		resp, err := m.client.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if resp.Content != "" {
			onChunk(resp.Content)
		}
		return resp.Content, nil
	}

	var reply strings.Builder
	err := sc.CompleteStreaming(ctx, req, func(chunk string) {
		reply.WriteString(chunk)
		onChunk(chunk)
	}, func() {})
	return reply.String(), err
}

// beginSend checks the preconditions, appends and persists the user
// message and marks a send in flight.
func (m *Manager) beginSend(content string, images []string) (pendingSend, error) {
	m.mu.Lock()

	if m.current == nil {
		m.lastErr = Describe(ErrNoActiveSession)
		m.unlockAndNotify()
		return pendingSend{}, ErrNoActiveSession
	}
	if !m.net.IsOnline() {
		m.lastErr = Describe(ErrOffline)
		m.unlockAndNotify()
		return pendingSend{}, ErrOffline
	}

	m.current.Append(model.NewUserMessage(content, images))
	if err := m.store.SaveSession(m.current); err != nil {
		m.log.Error("failed to persist user message", "id", m.current.ID, "err", err)
	}
	m.upsertSummaryLocked(m.current.Meta())

	m.inFlight++
	m.lastErr = ""

	p := pendingSend{
		sessionID: m.current.ID,
		model:     m.current.Model,
		history:   cloud.TurnsFrom(m.current.Messages),
	}
	m.unlockAndNotify()
	return p, nil
}

// finishSend commits the reply to the session the send started in.
func (m *Manager) finishSend(p pendingSend, content string) {
	reply := model.NewAssistantMessage(content, p.model)

	m.mu.Lock()
	defer m.unlockAndNotify()
	m.inFlight--

	isCurrent := m.current != nil && m.current.ID == p.sessionID

	target, ok := m.store.GetSession(p.sessionID)
	if !ok {
		if !isCurrent {
			m.log.Warn("session deleted during send, reply dropped", "id", p.sessionID)
			return
		}
		target = m.current
	}

	target.Append(reply)
	if err := m.store.SaveSession(target); err != nil {
		m.log.Error("failed to persist reply", "id", target.ID, "err", err)
		if isCurrent {
			m.lastErr = Describe(err)
		}
	}
	m.upsertSummaryLocked(target.Meta())

	if isCurrent {
		m.current = target
	}
}

func (m *Manager) failSend(p pendingSend, err error) {
	m.log.Warn("send failed", "id", p.sessionID, "model", p.model, "err", err)

	m.mu.Lock()
	m.inFlight--
	m.lastErr = Describe(err)
	m.unlockAndNotify()
}

// =============================================================================
// SUMMARIES
// =============================================================================

// upsertSummaryLocked resyncs the summaries with storage after a save,
// which may have evicted sessions, and makes sure meta is listed.
func (m *Manager) upsertSummaryLocked(meta model.SessionMeta) {
	m.sessions = m.store.ListSessions()
	m.removeSummaryLocked(meta.ID)
	m.sessions = append(m.sessions, meta)
	storage.SortNewestFirst(m.sessions)
}

func (m *Manager) removeSummaryLocked(id string) {
	out := m.sessions[:0]
	for _, s := range m.sessions {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.sessions = out
}
