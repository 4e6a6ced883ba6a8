// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestThinkingModel_View(t *testing.T) {
	configureColors("never", &bytes.Buffer{})
	m := newThinkingModel("Thinking")

	view := m.View()
	if !strings.Contains(view, "Thinking (0s)") {
		t.Errorf("View() = %q, want label with elapsed time", view)
	}
	if !strings.HasPrefix(view, "|") {
		t.Errorf("View() = %q, want first spinner frame", view)
	}
}

func TestThinkingModel_Stop(t *testing.T) {
	m := newThinkingModel("Thinking")

	updated, cmd := m.Update(stopThinkingMsg{})
	if cmd == nil {
		t.Fatal("stop should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("stop should quit the program")
	}
	if v := updated.View(); v != "" {
		t.Errorf("View() after stop = %q, want empty", v)
	}
}

func TestThinkingModel_Init(t *testing.T) {
	if newThinkingModel("x").Init() == nil {
		t.Error("Init() should start the spinner tick")
	}
}

func TestStartThinking_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	ind := startThinking(&buf, "Thinking")
	if ind != nil {
		t.Fatal("startThinking should return nil for non-terminal output")
	}
	ind.Stop()
	ind.Stop()
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %q", buf.String())
	}
}
