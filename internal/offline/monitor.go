// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is a snapshot of local connectivity. Link-quality hints are zero
// when the platform does not report them.
type Status struct {
	Online        bool          `json:"online"`
	EffectiveType string        `json:"effectiveType,omitempty"` // e.g. "4g", "ethernet"
	DownlinkMbps  float64       `json:"downlinkMbps,omitempty"`
	RTT           time.Duration `json:"rtt,omitempty"`
	Forced        bool          `json:"forced,omitempty"` // offline because forced offline mode is on
}

// String formats the status for the status command.
func (s Status) String() string {
	state := "online"
	switch {
	case s.Forced:
		state = "offline (forced)"
	case !s.Online:
		state = "offline"
	}
	if s.EffectiveType == "" && s.DownlinkMbps == 0 && s.RTT == 0 {
		return state
	}
	return fmt.Sprintf("%s type=%s downlink=%.1fMbps rtt=%s", state, s.EffectiveType, s.DownlinkMbps, s.RTT)
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies what a platform event reports.
type EventKind int

const (
	// EventOnline reports that the network became reachable.
	EventOnline EventKind = iota
	// EventOffline reports that the network became unreachable.
	EventOffline
	// EventLinkQuality reports new link-quality hints.
	EventLinkQuality
)

// Event is one connectivity notification from a Source.
type Event struct {
	Kind          EventKind
	EffectiveType string
	DownlinkMbps  float64
	RTT           time.Duration
}

// Source produces connectivity events until ctx is done.
type Source interface {
	Run(ctx context.Context, emit func(Event)) error
}

// =============================================================================
// MONITOR
// =============================================================================

// Monitor holds the current Status and pushes changes to subscribers.
// It is safe for concurrent use. Subscribers are called synchronously, in
// subscription order, outside the monitor's lock.
type Monitor struct {
	mu     sync.Mutex
	status Status // as reported by the platform
	forced bool
	subs   map[int]func(Status)
	nextID int
}

// NewMonitor creates a monitor with the given initial online state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		status: Status{Online: online},
		subs:   make(map[int]func(Status)),
	}
}

// Status returns the effective status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveLocked()
}

// IsOnline reports whether sends are currently allowed.
func (m *Monitor) IsOnline() bool {
	return m.Status().Online
}

// Subscribe registers fn for status changes and returns a function that
// removes it. fn is not called with the current status.
func (m *Monitor) Subscribe(fn func(Status)) (unsubscribe func()) {
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

// SetOnline records an online/offline transition.
func (m *Monitor) SetOnline(online bool) {
	m.update(func(s *Status, _ *bool) { s.Online = online })
}

// SetLinkQuality records new link-quality hints.
func (m *Monitor) SetLinkQuality(effectiveType string, downlinkMbps float64, rtt time.Duration) {
	m.update(func(s *Status, _ *bool) {
		s.EffectiveType = effectiveType
		s.DownlinkMbps = downlinkMbps
		s.RTT = rtt
	})
}

// SetForcedOffline turns forced offline mode on or off.
func (m *Monitor) SetForcedOffline(forced bool) {
	m.update(func(_ *Status, f *bool) { *f = forced })
}

// Apply folds a platform event into the status.
func (m *Monitor) Apply(ev Event) {
	switch ev.Kind {
	case EventOnline:
		m.SetOnline(true)
	case EventOffline:
		m.SetOnline(false)
	case EventLinkQuality:
		m.SetLinkQuality(ev.EffectiveType, ev.DownlinkMbps, ev.RTT)
	}
}

// Run feeds events from src into the monitor until ctx is done or src
// returns. A cancelled context is not reported as an error.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	err := src.Run(ctx, m.Apply)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Monitor) effectiveLocked() Status {
	s := m.status
	if m.forced {
		s.Online = false
		s.Forced = true
	}
	return s
}

func (m *Monitor) update(mutate func(s *Status, forced *bool)) {
	m.mu.Lock()
	before := m.effectiveLocked()
	mutate(&m.status, &m.forced)
	after := m.effectiveLocked()
	if before == after {
		m.mu.Unlock()
		return
	}

	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Status), len(ids))
	for i, id := range ids {
		subs[i] = m.subs[id]
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(after)
	}
}
