package client

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/huddle/internal/engine"
	"github.com/marcus/huddle/internal/gesture"
	"github.com/marcus/huddle/internal/history"
	"github.com/marcus/huddle/internal/identity"
	"github.com/marcus/huddle/internal/push"
	"github.com/marcus/huddle/internal/remote/memory"
)

func setupModel(t *testing.T) Model {
	t.Helper()
	store := memory.New(nil)
	eng, err := engine.New(engine.Options{
		Remote:   store,
		Identity: identity.Static{UserID: "u1"},
		Notifier: push.Drop{},
	})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() {
		eng.Close()
		store.Close()
	})
	return NewModel(eng)
}

func press(m Model, key string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return next.(Model)
}

func TestNumberKeysNavigate(t *testing.T) {
	m := setupModel(t)

	m = press(m, "2")
	if got := m.page(); got != history.PageMembers {
		t.Errorf("got page %q, want members", got)
	}
	if depth := m.Engine.History.Depth(); depth != 2 {
		t.Errorf("got depth %d, want 2", depth)
	}

	// Renavigating to the current page must not grow the stack.
	m = press(m, "2")
	if depth := m.Engine.History.Depth(); depth != 2 {
		t.Errorf("got depth %d after redundant navigate, want 2", depth)
	}
}

func TestEscGoesBackAndStopsAtRoot(t *testing.T) {
	m := setupModel(t)
	m = press(m, "3")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if got := m.page(); got != history.PageFeed {
		t.Errorf("got page %q, want feed", got)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if depth := m.Engine.History.Depth(); depth != 1 {
		t.Errorf("got depth %d, want root to survive", depth)
	}
}

func TestSettingsTabDoesNotGrowStack(t *testing.T) {
	m := setupModel(t)
	m = press(m, "6")
	depth := m.Engine.History.Depth()

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m = next.(Model)

	if got, _ := m.Engine.History.Current().Context["tab"].(string); got != "appearance" {
		t.Errorf("got tab %q, want appearance", got)
	}
	if m.Engine.History.Depth() != depth {
		t.Errorf("tab switch grew the stack to %d", m.Engine.History.Depth())
	}
}

func TestDragCommitsRefreshPastThreshold(t *testing.T) {
	m := setupModel(t)

	next, _ := m.Update(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft, Y: 5})
	m = next.(Model)
	next, _ = m.Update(tea.MouseMsg{Action: tea.MouseActionMotion, Y: 205})
	m = next.(Model)
	next, cmd := m.Update(tea.MouseMsg{Action: tea.MouseActionRelease, Y: 205})
	m = next.(Model)

	if m.tracker.Phase() != gesture.PhaseRefreshing {
		t.Errorf("got phase %v, want refreshing", m.tracker.Phase())
	}
	if cmd == nil {
		t.Fatal("expected a refresh command")
	}
	if _, ok := cmd().(refreshDoneMsg); !ok {
		t.Error("expected the command to resolve to refreshDoneMsg")
	}
}

func TestShortDragDoesNotRefresh(t *testing.T) {
	m := setupModel(t)

	next, _ := m.Update(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft, Y: 5})
	m = next.(Model)
	// 100px of travel is 50px after resistance, under the 80px threshold.
	next, _ = m.Update(tea.MouseMsg{Action: tea.MouseActionMotion, Y: 105})
	m = next.(Model)
	next, cmd := m.Update(tea.MouseMsg{Action: tea.MouseActionRelease, Y: 105})
	m = next.(Model)

	if cmd != nil {
		t.Error("expected no refresh command for a short pull")
	}
	if m.tracker.Phase() != gesture.PhaseIdle {
		t.Errorf("got phase %v, want idle", m.tracker.Phase())
	}
}
