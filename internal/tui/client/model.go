// Package client is the terminal frontend. It renders straight from the
// engine's slices and leans on the navigation stack for page state, so the
// TUI itself stays a thin Bubble Tea shell around the sync core.
package client

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/huddle/internal/bus"
	"github.com/marcus/huddle/internal/engine"
	"github.com/marcus/huddle/internal/gesture"
	"github.com/marcus/huddle/internal/history"
)

// pages in tab order; the number keys map onto this.
var pages = []history.PageID{
	history.PageFeed,
	history.PageMembers,
	history.PageMessages,
	history.PageCollabs,
	history.PageAlerts,
	history.PageSettings,
}

// scrollState is shared by pointer between the model and the history
// stack's scroll hooks, surviving Bubble Tea's by-value model copies.
type scrollState struct {
	offset int
}

// invalidateMsg names a slice whose value changed under us.
type invalidateMsg string

// toastMsg carries a same-session announcement off the in-process bus.
type toastMsg bus.Event

// refreshDoneMsg resolves a committed pull-to-refresh.
type refreshDoneMsg struct {
	err error
}

// clearToastMsg expires the toast line.
type clearToastMsg struct{}

const (
	refreshTimeout = 15 * time.Second
	toastDuration  = 4 * time.Second
)

// Model is the Bubble Tea model for the huddle client.
type Model struct {
	Engine *engine.Engine
	UserID string

	Width  int
	Height int

	scroll  *scrollState
	tracker *gesture.Tracker
	spin    spinner.Model
	input   textinput.Model

	events    <-chan bus.Event
	unsub     func()
	selection int
	composing bool
	toast     string
	Err       error
}

// NewModel wires a model over a started engine.
func NewModel(eng *engine.Engine) Model {
	scroll := &scrollState{}
	eng.History.SetScrollHooks(
		func() int { return scroll.offset },
		func(offset int) { scroll.offset = offset },
	)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	ti := textinput.New()
	ti.Placeholder = "message"
	ti.CharLimit = 500

	events, unsub := eng.Events.Subscribe(eng.CurrentUserID(), 16)

	return Model{
		Engine:  eng,
		UserID:  eng.CurrentUserID(),
		scroll:  scroll,
		tracker: gesture.NewTracker(func() bool { return scroll.offset == 0 }),
		spin:    sp,
		input:   ti,
		events:  events,
		unsub:   unsub,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitInvalidation(), m.waitToast(), m.spin.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case invalidateMsg:
		// The engine already reloaded the slice; re-render and rearm.
		m.clampSelection()
		return m, m.waitInvalidation()

	case toastMsg:
		m.toast = toastLine(bus.Event(msg))
		return m, tea.Batch(
			m.waitToast(),
			tea.Tick(toastDuration, func(time.Time) tea.Msg { return clearToastMsg{} }),
		)

	case clearToastMsg:
		m.toast = ""
		return m, nil

	case refreshDoneMsg:
		m.tracker.FinishRefresh()
		m.Err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.composing {
		return m.handleComposeKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.unsub != nil {
			m.unsub()
		}
		return m, tea.Quit

	case "1", "2", "3", "4", "5", "6":
		idx := int(msg.String()[0] - '1')
		m.navigate(pages[idx], nil)
		return m, nil

	case "tab":
		m.navigate(pages[(m.pageIndex()+1)%len(pages)], nil)
		return m, nil

	case "shift+tab":
		m.navigate(pages[(m.pageIndex()+len(pages)-1)%len(pages)], nil)
		return m, nil

	case "esc", "backspace":
		if m.Engine.History.GoBack() {
			m.selection = 0
		}
		return m, nil

	case "j":
		m.scroll.offset++
		m.Engine.History.CaptureScroll()
		return m, nil

	case "k":
		if m.scroll.offset > 0 {
			m.scroll.offset--
			m.Engine.History.CaptureScroll()
		}
		return m, nil

	case "down":
		m.selection++
		m.clampSelection()
		return m, nil

	case "up":
		if m.selection > 0 {
			m.selection--
		}
		return m, nil

	case "left", "right":
		if m.page() == history.PageSettings {
			m.cycleSettingsTab(msg.String() == "right")
		}
		return m, nil

	case "enter":
		return m.openSelection()

	case "l":
		if m.page() == history.PageFeed {
			m.likeSelectedPost()
		}
		return m, nil

	case "i":
		if m.page() == history.PageCollabs {
			m.toggleSelectedInterest()
		}
		return m, nil

	case "f":
		if m.page() == history.PageMembers {
			m.befriendSelectedMember()
		}
		return m, nil

	case "a":
		if m.page() == history.PageAlerts {
			m.acceptSelectedRequest()
		}
		return m, nil

	case "m":
		if m.page() == history.PageMessages && m.currentPeer() != "" {
			m.composing = true
			m.input.Focus()
			return m, textinput.Blink
		}
		return m, nil

	case "r":
		if m.tracker.Phase() != gesture.PhaseRefreshing {
			m.tracker.Begin(0)
			m.tracker.Move(gesture.Threshold / gesture.Resistance)
			m.tracker.End()
			return m, m.refreshCmd()
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.composing = false
		m.input.Reset()
		m.input.Blur()
		return m, nil

	case "enter":
		body := m.input.Value()
		m.composing = false
		m.input.Reset()
		m.input.Blur()
		if body == "" {
			return m, nil
		}
		peer := m.currentPeer()
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if _, err := m.Engine.Social.SendMessage(ctx, m.UserID, peer, body); err != nil {
				return toastMsg(bus.Event{Name: "error", Payload: err.Error()})
			}
			return invalidateMsg("conversations")
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleMouse drives the pull-to-refresh gesture from a left-button drag
// and plain scrolling from the wheel.
func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelDown:
		m.scroll.offset++
		m.Engine.History.CaptureScroll()
		return m, nil

	case tea.MouseButtonWheelUp:
		if m.scroll.offset > 0 {
			m.scroll.offset--
			m.Engine.History.CaptureScroll()
		}
		return m, nil
	}

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button == tea.MouseButtonLeft {
			m.tracker.Begin(float64(msg.Y))
		}
	case tea.MouseActionMotion:
		m.tracker.Move(float64(msg.Y))
	case tea.MouseActionRelease:
		if m.tracker.End() {
			return m, m.refreshCmd()
		}
	}
	return m, nil
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return refreshDoneMsg{err: m.Engine.RefreshAll(ctx)}
	}
}

// waitInvalidation blocks on the engine's invalidation channel. One message
// per command; Update rearms.
func (m Model) waitInvalidation() tea.Cmd {
	return func() tea.Msg {
		key, ok := <-m.Engine.Invalidations()
		if !ok {
			return nil
		}
		return invalidateMsg(key)
	}
}

func (m Model) waitToast() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return nil
		}
		return toastMsg(event)
	}
}

func (m *Model) navigate(page history.PageID, pageCtx map[string]any) {
	if m.Engine.History.Navigate(page, pageCtx) {
		m.selection = 0
	}
}

func (m Model) page() history.PageID {
	return m.Engine.History.Current().Page
}

func (m Model) pageIndex() int {
	current := m.page()
	for i, p := range pages {
		if p == current {
			return i
		}
	}
	return 0
}

// currentPeer returns the peer user id a messages thread is open on, ""
// for the conversation list.
func (m Model) currentPeer() string {
	if peer, ok := m.Engine.History.Current().Context["peer"].(string); ok {
		return peer
	}
	return ""
}

// cycleSettingsTab switches the settings sub-tab without growing the back
// stack.
func (m *Model) cycleSettingsTab(forward bool) {
	tabs := []string{"profile", "appearance", "feedback"}
	current, _ := m.Engine.History.Current().Context["tab"].(string)
	idx := 0
	for i, t := range tabs {
		if t == current {
			idx = i
		}
	}
	if forward {
		idx = (idx + 1) % len(tabs)
	} else {
		idx = (idx + len(tabs) - 1) % len(tabs)
	}
	m.Engine.History.UpdateCurrentContext(map[string]any{"tab": tabs[idx]})
}

func (m *Model) clampSelection() {
	if n := m.rowCount(); m.selection >= n {
		m.selection = n - 1
	}
	if m.selection < 0 {
		m.selection = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	return m.render()
}
