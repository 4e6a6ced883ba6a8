// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// spinner.go - "Thinking" indicator shown while a reply is pending.

package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// MODEL
// =============================================================================

// stopThinkingMsg ends the indicator program.
type stopThinkingMsg struct{}

// thinkingModel is a one-line spinner with the elapsed time.
type thinkingModel struct {
	spinner spinner.Model
	label   string
	start   time.Time
	done    bool
}

func newThinkingModel(label string) thinkingModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = DimStyle
	return thinkingModel{spinner: s, label: label, start: time.Now()}
}

func (m thinkingModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m thinkingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(stopThinkingMsg); ok {
		m.done = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m thinkingModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.start).Truncate(time.Second)
	return m.spinner.View() + " " + DimStyle.Render(fmt.Sprintf("%s (%s)", m.label, elapsed))
}

// =============================================================================
// INDICATOR
// =============================================================================

// thinkingIndicator runs a thinkingModel until Stop. A nil indicator is
// valid and does nothing, which is what startThinking returns for
// non-terminal output.
type thinkingIndicator struct {
	p    *tea.Program
	done chan struct{}
	once sync.Once
}

func startThinking(w io.Writer, label string) *thinkingIndicator {
	if !isTerminal(w) {
		return nil
	}
	t := &thinkingIndicator{
		p: tea.NewProgram(newThinkingModel(label),
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		_, _ = t.p.Run()
	}()
	return t
}

// Stop clears the indicator line and waits for the program to exit. It is
// safe to call more than once.
func (t *thinkingIndicator) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.p.Send(stopThinkingMsg{})
		<-t.done
	})
}
