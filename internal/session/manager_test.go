// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/offline"
	"github.com/jeranaias/azchat/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeClient answers every request with reply or err and records requests.
type fakeClient struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []cloud.Request

	// onCall runs inside Complete before it returns.
	onCall func()
}

func (f *fakeClient) Complete(ctx context.Context, req cloud.Request) (*cloud.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &cloud.Response{Content: f.reply, Usage: &cloud.Usage{TotalTokens: 7}}, nil
}

func (f *fakeClient) calls() []cloud.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloud.Request(nil), f.requests...)
}

// streamClient streams chunks, then fails with err or completes.
type streamClient struct {
	fakeClient
	chunks []string
}

func (s *streamClient) CompleteStreaming(ctx context.Context, req cloud.Request, onChunk func(string), onComplete func()) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	for _, c := range s.chunks {
		onChunk(c)
	}
	if s.err != nil {
		return s.err
	}
	onComplete()
	return nil
}

// blockingClient holds every request until release is closed.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	reply   string
}

func newBlockingClient(reply string) *blockingClient {
	return &blockingClient{started: make(chan struct{}, 1), release: make(chan struct{}), reply: reply}
}

func (b *blockingClient) Complete(ctx context.Context, req cloud.Request) (*cloud.Response, error) {
	b.started <- struct{}{}
	<-b.release
	return &cloud.Response{Content: b.reply}, nil
}

func newTestManager(client cloud.Completer, net Connectivity) (*Manager, *storage.Store) {
	store := storage.New(storage.NewMemoryBackend(0), storage.Options{Logger: log.New(io.Discard)})
	return NewManager(store, client, net, log.New(io.Discard)), store
}

// sendAsync runs SendMessage in a goroutine and returns its result channel.
func sendAsync(m *Manager, content string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.SendMessage(context.Background(), content, nil) }()
	return done
}

func waitStarted(t *testing.T, b *blockingClient) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never started")
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("send never finished")
		return nil
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestCreateSession(t *testing.T) {
	m, store := newTestManager(&fakeClient{}, nil)

	id := m.CreateSession("gpt-4.1")

	st := m.State()
	if st.Current == nil || st.Current.ID != id {
		t.Fatalf("current = %+v, want id %s", st.Current, id)
	}
	if st.Current.Title != model.DefaultTitle || len(st.Current.Messages) != 0 {
		t.Errorf("new session = %+v", st.Current)
	}
	if len(st.Sessions) != 1 || st.Sessions[0].ID != id {
		t.Errorf("summaries = %+v", st.Sessions)
	}
	if ptr, ok := store.CurrentSessionID(); !ok || ptr != id {
		t.Errorf("active pointer = %q, %v", ptr, ok)
	}
	if _, ok := store.GetSession(id); !ok {
		t.Error("new session was not persisted")
	}
}

func TestCreateSession_EmptyModelUsesDefault(t *testing.T) {
	m, _ := newTestManager(&fakeClient{}, nil)
	m.CreateSession("")
	if got := m.State().Current.Model; got != model.DefaultModel {
		t.Errorf("model = %q, want %q", got, model.DefaultModel)
	}
}

func TestLoadSession(t *testing.T) {
	m, store := newTestManager(&fakeClient{}, nil)
	first := m.CreateSession("gpt-4.1")
	second := m.CreateSession("o3")

	if !m.LoadSession(first) {
		t.Fatal("LoadSession(first) = false")
	}
	if got := m.State().Current.ID; got != first {
		t.Errorf("current = %s, want %s", got, first)
	}
	if ptr, _ := store.CurrentSessionID(); ptr != first {
		t.Errorf("pointer = %s, want %s", ptr, first)
	}

	// Unknown ids are a silent no-op.
	if m.LoadSession("session-missing") {
		t.Error("LoadSession(missing) = true")
	}
	if got := m.State().Current.ID; got != first {
		t.Errorf("current changed to %s", got)
	}
	_ = second
}

func TestDeleteSession(t *testing.T) {
	m, store := newTestManager(&fakeClient{}, nil)
	keep := m.CreateSession("gpt-4.1")
	drop := m.CreateSession("gpt-4.1")

	m.DeleteSession(drop)

	st := m.State()
	if st.Current != nil {
		t.Errorf("deleting the current session should clear it, got %s", st.Current.ID)
	}
	if len(st.Sessions) != 1 || st.Sessions[0].ID != keep {
		t.Errorf("summaries = %+v", st.Sessions)
	}
	if _, ok := store.CurrentSessionID(); ok {
		t.Error("active pointer should be cleared")
	}
	if _, ok := store.GetSession(drop); ok {
		t.Error("record still stored")
	}

	// Idempotent.
	m.DeleteSession(drop)
	if len(m.State().Sessions) != 1 {
		t.Error("second delete changed summaries")
	}
}

func TestDeleteSession_NotCurrent(t *testing.T) {
	m, _ := newTestManager(&fakeClient{}, nil)
	other := m.CreateSession("gpt-4.1")
	current := m.CreateSession("gpt-4.1")

	m.DeleteSession(other)

	if st := m.State(); st.Current == nil || st.Current.ID != current {
		t.Errorf("current should be untouched, got %+v", st.Current)
	}
}

func TestInit_RestoresActiveSession(t *testing.T) {
	store := storage.New(storage.NewMemoryBackend(0), storage.Options{Logger: log.New(io.Discard)})
	first := NewManager(store, &fakeClient{}, nil, log.New(io.Discard))
	id := first.CreateSession("o3")

	second := NewManager(store, &fakeClient{}, nil, log.New(io.Discard))
	second.Init()

	st := second.State()
	if st.Current == nil || st.Current.ID != id {
		t.Fatalf("restored current = %+v, want %s", st.Current, id)
	}
	if len(st.Sessions) != 1 {
		t.Errorf("summaries = %d, want 1", len(st.Sessions))
	}
}

func TestInit_StalePointer(t *testing.T) {
	m, store := newTestManager(&fakeClient{}, nil)
	if err := store.SetCurrentSessionID("session-gone"); err != nil {
		t.Fatal(err)
	}

	m.Init()

	if st := m.State(); st.Current != nil {
		t.Errorf("stale pointer resolved to %+v", st.Current)
	}
}

func TestRefresh_PicksUpExternalChanges(t *testing.T) {
	m, store := newTestManager(&fakeClient{}, nil)
	id := m.CreateSession("gpt-4.1")

	other := model.NewSession("o3")
	if err := store.SaveSession(other); err != nil {
		t.Fatal(err)
	}
	external, _ := store.GetSession(id)
	external.Append(model.NewUserMessage("from another process", nil))
	external.UpdatedAt += 1000
	if err := store.SaveSession(external); err != nil {
		t.Fatal(err)
	}

	m.Refresh()

	st := m.State()
	if len(st.Sessions) != 2 {
		t.Errorf("summaries = %d, want 2", len(st.Sessions))
	}
	if len(st.Current.Messages) != 1 {
		t.Errorf("current not refreshed: %+v", st.Current.Messages)
	}
}

func TestUpdateSessionModel(t *testing.T) {
	client := &fakeClient{}
	m, store := newTestManager(client, nil)
	id := m.CreateSession("gpt-4.1")
	before := m.State().Current.UpdatedAt

	if err := m.UpdateSessionModel("o4-mini"); err != nil {
		t.Fatalf("UpdateSessionModel: %v", err)
	}

	stored, _ := store.GetSession(id)
	if stored.Model != "o4-mini" {
		t.Errorf("stored model = %s", stored.Model)
	}
	if stored.UpdatedAt < before {
		t.Error("updatedAt moved backwards")
	}
	if len(client.calls()) != 0 {
		t.Error("model switch must not make requests")
	}
}

func TestUpdateSessionModel_Errors(t *testing.T) {
	m, _ := newTestManager(&fakeClient{}, nil)

	if err := m.UpdateSessionModel("o3"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("no session: err = %v", err)
	}

	m.CreateSession("gpt-4.1")
	if err := m.UpdateSessionModel("davinci"); !errors.Is(err, cloud.ErrInvalidModel) {
		t.Errorf("bad model: err = %v", err)
	}
	if got := m.State().Current.Model; got != "gpt-4.1" {
		t.Errorf("model changed to %s", got)
	}
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSendMessage_Success(t *testing.T) {
	client := &fakeClient{reply: "Hi there"}
	m, store := newTestManager(client, nil)
	id := m.CreateSession("gpt-4.1")

	if err := m.SendMessage(context.Background(), "Hello", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	st := m.State()
	if st.Loading || st.Error != "" {
		t.Errorf("loading=%v error=%q", st.Loading, st.Error)
	}
	msgs := st.Current.Messages
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hi there" || msgs[1].Model != "gpt-4.1" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if st.Current.Title != "Hello" {
		t.Errorf("title = %q, want Hello", st.Current.Title)
	}

	stored, _ := store.GetSession(id)
	if len(stored.Messages) != 2 {
		t.Errorf("stored messages = %d, want 2", len(stored.Messages))
	}

	reqs := client.calls()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[0].Model != "gpt-4.1" || len(reqs[0].Messages) != 1 || reqs[0].Messages[0].Content != "Hello" {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestSendMessage_HistoryAndTitle(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	m, _ := newTestManager(client, nil)
	m.CreateSession("gpt-4.1")

	_ = m.SendMessage(context.Background(), "first question", []string{"data:image/png;base64,AAAA"})
	_ = m.SendMessage(context.Background(), "second question", nil)

	st := m.State()
	if st.Current.Title != "first question" {
		t.Errorf("title = %q, later messages must not retitle", st.Current.Title)
	}
	if len(st.Current.Messages[0].Images) != 1 {
		t.Error("images not kept on user message")
	}

	reqs := client.calls()
	last := reqs[len(reqs)-1]
	if len(last.Messages) != 3 {
		t.Fatalf("history = %d turns, want 3", len(last.Messages))
	}
	if last.Messages[1].Role != model.RoleAssistant {
		t.Errorf("turn 1 role = %s", last.Messages[1].Role)
	}
}

func TestSendMessage_NoActiveSession(t *testing.T) {
	client := &fakeClient{reply: "unused"}
	m, _ := newTestManager(client, nil)

	err := m.SendMessage(context.Background(), "Hello", nil)
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
	if got := m.State().Error; got != "No active session" {
		t.Errorf("error = %q", got)
	}
	if len(client.calls()) != 0 {
		t.Error("request made without a session")
	}
}

func TestSendMessage_Offline(t *testing.T) {
	client := &fakeClient{reply: "unused"}
	mon := offline.NewMonitor(false)
	m, store := newTestManager(client, mon)
	id := m.CreateSession("gpt-4.1")

	err := m.SendMessage(context.Background(), "Hello", nil)
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}

	st := m.State()
	if st.Error != "You are offline. Cannot send messages." {
		t.Errorf("error = %q", st.Error)
	}
	if len(st.Current.Messages) != 0 {
		t.Error("message appended while offline")
	}
	stored, _ := store.GetSession(id)
	if len(stored.Messages) != 0 {
		t.Error("message persisted while offline")
	}
	if len(client.calls()) != 0 {
		t.Error("request made while offline")
	}

	// Back online, sending works again.
	mon.SetOnline(true)
	if err := m.SendMessage(context.Background(), "Hello", nil); err != nil {
		t.Errorf("send after reconnect: %v", err)
	}
}

func TestSendMessage_ForcedOffline(t *testing.T) {
	mon := offline.NewMonitor(true)
	mon.SetForcedOffline(true)
	m, _ := newTestManager(&fakeClient{}, mon)
	m.CreateSession("gpt-4.1")

	if err := m.SendMessage(context.Background(), "Hello", nil); !errors.Is(err, ErrOffline) {
		t.Errorf("err = %v, want ErrOffline", err)
	}
}

func TestSendMessage_FailureKeepsUserMessage(t *testing.T) {
	client := &fakeClient{err: &cloud.UpstreamError{StatusCode: 500, Body: "boom"}}
	m, store := newTestManager(client, nil)
	id := m.CreateSession("gpt-4.1")

	err := m.SendMessage(context.Background(), "Hello", nil)
	if _, ok := cloud.IsUpstream(err); !ok {
		t.Fatalf("err = %v, want UpstreamError", err)
	}

	st := m.State()
	if st.Loading {
		t.Error("loading still set after failure")
	}
	if st.Error == "" {
		t.Error("last error not set")
	}
	if len(st.Current.Messages) != 1 || st.Current.Messages[0].Content != "Hello" {
		t.Errorf("messages = %+v", st.Current.Messages)
	}
	stored, _ := store.GetSession(id)
	if len(stored.Messages) != 1 {
		t.Errorf("stored messages = %d, want 1", len(stored.Messages))
	}

	// A successful retry clears the error.
	client.err = nil
	client.reply = "recovered"
	if err := m.SendMessage(context.Background(), "Hello again", nil); err != nil {
		t.Fatal(err)
	}
	if got := m.State().Error; got != "" {
		t.Errorf("error after retry = %q", got)
	}
}

func TestSendMessage_PersistsUserTurnBeforeRequest(t *testing.T) {
	client := &fakeClient{reply: "Hi"}
	m, store := newTestManager(client, nil)
	id := m.CreateSession("gpt-4.1")

	var storedDuringCall int
	var loadingDuringCall bool
	client.onCall = func() {
		s, _ := store.GetSession(id)
		storedDuringCall = len(s.Messages)
		loadingDuringCall = m.State().Loading
	}

	if err := m.SendMessage(context.Background(), "Hello", nil); err != nil {
		t.Fatal(err)
	}
	if storedDuringCall != 1 {
		t.Errorf("stored messages during call = %d, want 1", storedDuringCall)
	}
	if !loadingDuringCall {
		t.Error("loading should be set while the request runs")
	}
}

func TestClearError(t *testing.T) {
	m, _ := newTestManager(&fakeClient{}, nil)
	_ = m.SendMessage(context.Background(), "Hello", nil)
	if m.State().Error == "" {
		t.Fatal("expected an error")
	}
	m.ClearError()
	if got := m.State().Error; got != "" {
		t.Errorf("error = %q", got)
	}
}

// =============================================================================
// CONCURRENT SEND TESTS
// =============================================================================

func TestSendMessage_SwitchDuringSend(t *testing.T) {
	client := newBlockingClient("reply for A")
	m, store := newTestManager(client, nil)
	a := m.CreateSession("gpt-4.1")

	done := sendAsync(m, "question for A")
	waitStarted(t, client)

	b := m.CreateSession("o3")
	close(client.release)
	if err := waitDone(t, done); err != nil {
		t.Fatal(err)
	}

	st := m.State()
	if st.Current.ID != b || len(st.Current.Messages) != 0 {
		t.Errorf("current session B was modified: %+v", st.Current)
	}
	if st.Loading {
		t.Error("loading still set")
	}

	stored, _ := store.GetSession(a)
	if len(stored.Messages) != 2 || stored.Messages[1].Content != "reply for A" {
		t.Errorf("session A messages = %+v", stored.Messages)
	}
}

func TestSendMessage_DeleteDuringSend(t *testing.T) {
	client := newBlockingClient("late reply")
	m, store := newTestManager(client, nil)
	a := m.CreateSession("gpt-4.1")

	done := sendAsync(m, "Hello")
	waitStarted(t, client)

	m.DeleteSession(a)
	close(client.release)
	if err := waitDone(t, done); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.GetSession(a); ok {
		t.Error("deleted session was resurrected by the reply")
	}
	st := m.State()
	if st.Current != nil || len(st.Sessions) != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestSendMessage_ModelChangeDuringSend(t *testing.T) {
	client := newBlockingClient("answer")
	m, store := newTestManager(client, nil)
	a := m.CreateSession("gpt-4.1")

	done := sendAsync(m, "Hello")
	waitStarted(t, client)

	if err := m.UpdateSessionModel("o3"); err != nil {
		t.Fatal(err)
	}
	close(client.release)
	if err := waitDone(t, done); err != nil {
		t.Fatal(err)
	}

	stored, _ := store.GetSession(a)
	if stored.Model != "o3" {
		t.Errorf("model change lost: %s", stored.Model)
	}
	// The reply is attributed to the model that produced it.
	if got := stored.Messages[1].Model; got != "gpt-4.1" {
		t.Errorf("reply model = %s, want gpt-4.1", got)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestSendMessageStreaming(t *testing.T) {
	client := &streamClient{chunks: []string{"Hel", "lo"}}
	m, store := newTestManager(client, nil)
	id := m.CreateSession("gpt-4.1")

	var got []string
	err := m.SendMessageStreaming(context.Background(), "Hi", nil, func(c string) { got = append(got, c) })
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Errorf("chunks = %v", got)
	}
	stored, _ := store.GetSession(id)
	if len(stored.Messages) != 2 || stored.Messages[1].Content != "Hello" {
		t.Errorf("stored = %+v", stored.Messages)
	}
}

func TestSendMessageStreaming_FailureAppendsNoReply(t *testing.T) {
	client := &streamClient{chunks: []string{"partial"}}
	client.err = &cloud.TransportError{Op: "stream", Err: cloud.ErrStreamTruncated}
	m, _ := newTestManager(client, nil)
	m.CreateSession("gpt-4.1")

	err := m.SendMessageStreaming(context.Background(), "Hi", nil, nil)
	if !errors.Is(err, cloud.ErrStreamTruncated) {
		t.Fatalf("err = %v", err)
	}

	st := m.State()
	if len(st.Current.Messages) != 1 {
		t.Errorf("messages = %d, want only the user turn", len(st.Current.Messages))
	}
	if st.Loading || st.Error == "" {
		t.Errorf("loading=%v error=%q", st.Loading, st.Error)
	}
}

func TestSendMessageStreaming_NonStreamingClient(t *testing.T) {
	client := &fakeClient{reply: "whole reply"}
	m, _ := newTestManager(client, nil)
	m.CreateSession("gpt-4.1")

	var got []string
	if err := m.SendMessageStreaming(context.Background(), "Hi", nil, func(c string) { got = append(got, c) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "whole reply" {
		t.Errorf("chunks = %v", got)
	}
}

// =============================================================================
// SUBSCRIPTION TESTS
// =============================================================================

func TestSubscribe(t *testing.T) {
	m, _ := newTestManager(&fakeClient{reply: "Hi there"}, nil)

	var states []State
	unsubscribe := m.Subscribe(func(st State) { states = append(states, st) })

	m.CreateSession("gpt-4.1")
	_ = m.SendMessage(context.Background(), "Hello", nil)

	// create, send start, send finish
	if len(states) != 3 {
		t.Fatalf("notifications = %d, want 3", len(states))
	}
	if !states[1].Loading || states[2].Loading {
		t.Errorf("loading sequence = %v, %v", states[1].Loading, states[2].Loading)
	}

	unsubscribe()
	m.ClearError()
	if len(states) != 3 {
		t.Error("notified after unsubscribe")
	}
}

func TestState_IsACopy(t *testing.T) {
	m, _ := newTestManager(&fakeClient{}, nil)
	m.CreateSession("gpt-4.1")

	st := m.State()
	st.Current.Title = "mutated"
	if m.State().Current.Title == "mutated" {
		t.Error("State exposed internal session")
	}
}

// =============================================================================
// DESCRIBE TESTS
// =============================================================================

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoActiveSession, "No active session"},
		{ErrOffline, "You are offline. Cannot send messages."},
		{&cloud.UpstreamError{StatusCode: 429}, "Failed to get response: Too Many Requests"},
		{&cloud.UpstreamError{StatusCode: 500, Body: "boom"}, "Failed to get response: Internal Server Error (boom)"},
		{&cloud.TransportError{Op: "stream", Err: context.Canceled}, "Request cancelled"},
		{&cloud.TransportError{Op: "request", Err: errors.New("connection refused")}, "Network error: connection refused"},
		{errors.New("something else"), "something else"},
	}

	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
