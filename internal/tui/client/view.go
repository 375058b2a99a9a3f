package client

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/huddle/internal/gesture"
	"github.com/marcus/huddle/internal/history"
	"github.com/marcus/huddle/internal/models"
)

var pageTitles = map[history.PageID]string{
	history.PageFeed:     "Feed",
	history.PageMembers:  "Members",
	history.PageMessages: "Messages",
	history.PageCollabs:  "Collabs",
	history.PageAlerts:   "Alerts",
	history.PageSettings: "Settings",
}

func (m Model) render() string {
	var b strings.Builder

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	if indicator := m.renderPullIndicator(); indicator != "" {
		b.WriteString(indicator)
		b.WriteString("\n")
	}

	b.WriteString(m.renderBody())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderTabs() string {
	var tabs []string
	current := m.page()
	for i, p := range pages {
		title := fmt.Sprintf("%d %s", i+1, pageTitles[p])
		if p == history.PageAlerts {
			if unread := m.Engine.Social.UnreadCount(m.UserID); unread > 0 {
				title += badgeStyle.Render(fmt.Sprintf(" (%d)", unread))
			}
		}
		if p == current {
			tabs = append(tabs, activeTabStyle.Render(title))
		} else {
			tabs = append(tabs, tabStyle.Render(title))
		}
	}
	return headerStyle.Render("huddle") + lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// renderPullIndicator paints the drag feedback: an arrow that rotates with
// distance, dimmed proportionally to opacity, and a spinner once committed.
func (m Model) renderPullIndicator() string {
	switch m.tracker.Phase() {
	case gesture.PhaseRefreshing:
		return indicatorStyle.Render(m.spin.View() + " refreshing")
	case gesture.PhasePulling:
		glyphs := []string{"↓", "↘", "→", "↗", "↑"}
		idx := int(m.tracker.Rotation() / 180 * float64(len(glyphs)-1))
		if idx >= len(glyphs) {
			idx = len(glyphs) - 1
		}
		pct := int(m.tracker.Opacity() * 100)
		return indicatorStyle.Render(fmt.Sprintf("%s pull to refresh (%d%%)", glyphs[idx], pct))
	}
	return ""
}

func (m Model) renderBody() string {
	var lines []string
	switch m.page() {
	case history.PageFeed:
		lines = m.renderFeed()
	case history.PageMembers:
		lines = m.renderMembers()
	case history.PageMessages:
		lines = m.renderMessages()
	case history.PageCollabs:
		lines = m.renderCollabs()
	case history.PageAlerts:
		lines = m.renderAlerts()
	case history.PageSettings:
		lines = m.renderSettings()
	}
	if len(lines) == 0 {
		lines = []string{subtleStyle.Render("nothing here yet")}
	}
	return strings.Join(m.clip(lines), "\n")
}

// clip applies the captured scroll offset and the window height.
func (m Model) clip(lines []string) []string {
	offset := m.scroll.offset
	if offset >= len(lines) {
		offset = len(lines) - 1
	}
	if offset < 0 {
		offset = 0
	}
	lines = lines[offset:]

	visible := m.Height - 4 // tabs, indicator, footer
	if visible > 0 && len(lines) > visible {
		lines = lines[:visible]
	}
	return lines
}

func (m Model) renderFeed() []string {
	var lines []string
	for i, row := range m.feedRows() {
		like := subtleStyle.Render(fmt.Sprintf("♡ %d", len(row.Post.LikedBy)))
		if row.Liked {
			like = likedStyle.Render(fmt.Sprintf("♥ %d", len(row.Post.LikedBy)))
		}
		line := fmt.Sprintf("%s  %s  %s", authorStyle.Render(row.Author), row.Post.Body, like)
		lines = append(lines, m.markSelected(i, line))
	}
	return lines
}

func (m Model) renderMembers() []string {
	var lines []string
	for i, row := range m.memberRows() {
		name := row.User.Username
		if row.User.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", row.User.DisplayName, row.User.Username)
		}
		line := name
		switch row.Relation {
		case "friend":
			line += "  " + friendStyle.Render("friend")
		case "pending":
			line += "  " + subtleStyle.Render("request pending")
		case "blocked":
			line += "  " + errStyle.Render("blocked")
		}
		lines = append(lines, m.markSelected(i, line))
	}
	return lines
}

func (m Model) renderMessages() []string {
	peer := m.currentPeer()
	if peer == "" {
		var lines []string
		for i, row := range m.convRows() {
			line := fmt.Sprintf("%s  %s", authorStyle.Render(row.PeerName), subtleStyle.Render(row.LastLine))
			lines = append(lines, m.markSelected(i, line))
		}
		return lines
	}

	conv, ok := m.Engine.Social.Conversation(m.UserID, peer)
	if !ok {
		return []string{subtleStyle.Render("no conversation")}
	}
	var lines []string
	lines = append(lines, headerStyle.Render(m.userName(peer)))
	for _, msg := range conv.Messages {
		who := "them"
		if msg.SenderID == m.UserID {
			who = "you"
		}
		lines = append(lines, fmt.Sprintf("%s  %s", authorStyle.Render(who), msg.Body))
	}
	if m.composing {
		lines = append(lines, m.input.View())
	} else {
		lines = append(lines, helpStyle.Render("m to write"))
	}
	return lines
}

func (m Model) renderCollabs() []string {
	var lines []string
	for i, row := range m.collabRows() {
		status := subtleStyle.Render(string(row.Collab.Status))
		if row.Collab.Status == models.CollabClosed {
			status = errStyle.Render("closed")
		}
		interest := fmt.Sprintf("%d interested", len(row.Collab.InterestedUserIDs))
		if row.Interested {
			interest = friendStyle.Render("you are in · " + interest)
		}
		line := fmt.Sprintf("%s — %s  [%s]  %s",
			row.Collab.Title, authorStyle.Render(row.Author), status, subtleStyle.Render(interest))
		lines = append(lines, m.markSelected(i, line))
	}
	return lines
}

func (m Model) renderAlerts() []string {
	var lines []string
	for i, n := range m.alertRows() {
		line := n.Message
		if !n.IsRead {
			line = unreadStyle.Render("● ") + line
		} else {
			line = subtleStyle.Render("○ ") + line
		}
		lines = append(lines, m.markSelected(i, line))
	}
	return lines
}

func (m Model) renderSettings() []string {
	tab, _ := m.Engine.History.Current().Context["tab"].(string)
	if tab == "" {
		tab = "profile"
	}

	lines := []string{
		subtleStyle.Render("◂ " + tab + " ▸"),
	}
	switch tab {
	case "profile":
		if u, ok := m.Engine.Social.User(m.UserID); ok {
			lines = append(lines,
				"username: "+u.Username,
				"display name: "+u.DisplayName,
				"bio: "+u.Bio,
				fmt.Sprintf("friends: %d", len(u.FriendIDs)),
			)
		} else {
			lines = append(lines, subtleStyle.Render("signed out"))
		}
	case "appearance":
		lines = append(lines, "theme: "+string(m.Engine.Social.Theme()))
	case "feedback":
		lines = append(lines, subtleStyle.Render("run `huddle feedback` to submit"))
	}
	return lines
}

func (m Model) markSelected(i int, line string) string {
	if i == m.selection {
		return selectedStyle.Render("▸ ") + line
	}
	return "  " + line
}

func (m Model) renderFooter() string {
	parts := []string{helpStyle.Render("1-6 pages · enter open · esc back · j/k scroll · r refresh · q quit")}
	if m.toast != "" {
		parts = append([]string{toastStyle.Render(m.toast)}, parts...)
	}
	if m.Err != nil {
		parts = append([]string{errStyle.Render(m.Err.Error())}, parts...)
	}
	return strings.Join(parts, "\n")
}
