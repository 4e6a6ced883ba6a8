// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

// =============================================================================
// MONITOR TESTS
// =============================================================================

func TestMonitor_NotifiesOnlyOnChange(t *testing.T) {
	m := NewMonitor(true)

	var got []Status
	m.Subscribe(func(s Status) { got = append(got, s) })

	m.SetOnline(true) // no change
	m.SetOnline(false)
	m.SetOnline(false) // no change
	m.SetOnline(true)

	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2: %+v", len(got), got)
	}
	if got[0].Online || !got[1].Online {
		t.Errorf("unexpected sequence: %+v", got)
	}
}

func TestMonitor_LinkQuality(t *testing.T) {
	m := NewMonitor(true)

	var got []Status
	m.Subscribe(func(s Status) { got = append(got, s) })

	m.SetLinkQuality("4g", 12.5, 80*time.Millisecond)
	m.SetLinkQuality("4g", 12.5, 80*time.Millisecond)

	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].EffectiveType != "4g" || got[0].DownlinkMbps != 12.5 || got[0].RTT != 80*time.Millisecond {
		t.Errorf("status = %+v", got[0])
	}
	if !m.IsOnline() {
		t.Error("link quality change should not affect online state")
	}
}

func TestMonitor_ForcedOffline(t *testing.T) {
	m := NewMonitor(true)

	var got []Status
	m.Subscribe(func(s Status) { got = append(got, s) })

	m.SetForcedOffline(true)
	if m.IsOnline() {
		t.Fatal("forced offline monitor reports online")
	}
	if !m.Status().Forced {
		t.Error("Forced flag not set")
	}

	// Platform transitions are recorded but hidden while forced.
	m.SetOnline(false)
	m.SetOnline(true)
	if len(got) != 1 {
		t.Fatalf("notifications while forced = %d, want 1", len(got))
	}

	m.SetForcedOffline(false)
	if !m.IsOnline() {
		t.Error("monitor should be online after leaving forced mode")
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(true)

	calls := 0
	unsubscribe := m.Subscribe(func(Status) { calls++ })
	m.SetOnline(false)
	unsubscribe()
	unsubscribe() // idempotent
	m.SetOnline(true)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestMonitor_SubscriberOrder(t *testing.T) {
	m := NewMonitor(true)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		m.Subscribe(func(Status) { order = append(order, i) })
	}
	m.SetOnline(false)

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestMonitor_SubscriberMayReadStatus(t *testing.T) {
	m := NewMonitor(true)

	done := make(chan bool, 1)
	m.Subscribe(func(Status) { done <- m.IsOnline() })
	m.SetOnline(false)

	select {
	case online := <-done:
		if online {
			t.Error("subscriber saw stale status")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber deadlocked")
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor(true)
	m.Subscribe(func(Status) {})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.SetOnline(j%2 == 0)
				_ = m.IsOnline()
				if i == 0 {
					m.SetLinkQuality("wifi", float64(j), 0)
				}
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// SOURCE TESTS
// =============================================================================

type scriptedSource []Event

func (s scriptedSource) Run(ctx context.Context, emit func(Event)) error {
	for _, ev := range s {
		emit(ev)
	}
	return errors.New("source exhausted")
}

func TestMonitor_RunAppliesEvents(t *testing.T) {
	m := NewMonitor(true)

	src := scriptedSource{
		{Kind: EventOffline},
		{Kind: EventLinkQuality, EffectiveType: "3g", DownlinkMbps: 1.5},
	}
	err := m.Run(context.Background(), src)
	if err == nil || err.Error() != "source exhausted" {
		t.Errorf("Run error = %v", err)
	}

	s := m.Status()
	if s.Online || s.EffectiveType != "3g" {
		t.Errorf("status = %+v", s)
	}
}

func newTestProbe(states ...bool) (*InterfaceProbe, *int) {
	calls := 0
	p := NewInterfaceProbe(time.Millisecond)
	p.log = log.New(io.Discard)
	p.check = func() (bool, error) {
		i := calls
		calls++
		if i >= len(states) {
			return states[len(states)-1], nil
		}
		return states[i], nil
	}
	return p, &calls
}

func TestInterfaceProbe_EmitsTransitionsOnly(t *testing.T) {
	p, _ := newTestProbe(true, true, false, false, true, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []EventKind
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(ev Event) {
			events = append(events, ev.Kind)
			if len(events) == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("probe did not stop")
	}

	want := []EventKind{EventOnline, EventOffline, EventOnline}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestInterfaceProbe_CheckErrorMeansOffline(t *testing.T) {
	p := NewInterfaceProbe(time.Hour)
	p.log = log.New(io.Discard)
	p.check = func() (bool, error) { return true, errors.New("no interface table") }

	ctx, cancel := context.WithCancel(context.Background())
	var got []EventKind
	err := p.Run(ctx, func(ev Event) {
		got = append(got, ev.Kind)
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v", err)
	}
	if len(got) != 1 || got[0] != EventOffline {
		t.Errorf("events = %v", got)
	}
}

func TestMonitor_RunWithProbe(t *testing.T) {
	p, _ := newTestProbe(false)
	m := NewMonitor(true)

	ctx, cancel := context.WithCancel(context.Background())
	m.Subscribe(func(s Status) {
		if !s.Online {
			cancel()
		}
	})

	if err := m.Run(ctx, p); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
	if m.IsOnline() {
		t.Error("monitor should be offline")
	}
}
