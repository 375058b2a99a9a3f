package client

import (
	"context"
	"fmt"
	"sort"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/huddle/internal/bus"
	"github.com/marcus/huddle/internal/history"
	"github.com/marcus/huddle/internal/models"
)

// feedRow is one post prepared for display.
type feedRow struct {
	Post   models.Post
	Author string
	Liked  bool
}

// memberRow is one other member with their relation to the viewer.
type memberRow struct {
	User     models.User
	Relation string // friend, pending, blocked, ""
}

// convRow is one conversation summarized for the list view.
type convRow struct {
	Conversation models.Conversation
	PeerID       string
	PeerName     string
	LastLine     string
}

// collabRow is one collaboration with the viewer's interest state.
type collabRow struct {
	Collab     models.Collaboration
	Author     string
	Interested bool
}

func (m Model) feedRows() []feedRow {
	posts := m.Engine.Slices.Posts.Get()
	rows := make([]feedRow, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, feedRow{
			Post:   p,
			Author: m.userName(p.AuthorID),
			Liked:  p.LikedByUser(m.UserID),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Post.CreatedAt.After(rows[j].Post.CreatedAt)
	})
	return rows
}

func (m Model) memberRows() []memberRow {
	users := m.Engine.Slices.Users.Get()
	self, _ := m.Engine.Social.User(m.UserID)

	rows := make([]memberRow, 0, len(users))
	for _, u := range users {
		if u.ID == m.UserID {
			continue
		}
		relation := ""
		switch {
		case self.HasBlocked(u.ID):
			relation = "blocked"
		case self.HasFriend(u.ID):
			relation = "friend"
		case m.hasPendingWith(u.ID):
			relation = "pending"
		}
		rows = append(rows, memberRow{User: u, Relation: relation})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].User.Username < rows[j].User.Username
	})
	return rows
}

func (m Model) hasPendingWith(uid string) bool {
	for _, r := range m.Engine.Slices.FriendRequests.Get() {
		if r.Status == models.RequestPending && r.LinksPair(m.UserID, uid) {
			return true
		}
	}
	return false
}

func (m Model) convRows() []convRow {
	convs := m.Engine.Social.ConversationsFor(m.UserID)
	rows := make([]convRow, 0, len(convs))
	for _, c := range convs {
		peer := c.Peer(m.UserID)
		last := ""
		if n := len(c.Messages); n > 0 {
			last = c.Messages[n-1].Body
		}
		rows = append(rows, convRow{
			Conversation: c,
			PeerID:       peer,
			PeerName:     m.userName(peer),
			LastLine:     last,
		})
	}
	return rows
}

func (m Model) collabRows() []collabRow {
	collabs := m.Engine.Slices.Collaborations.Get()
	rows := make([]collabRow, 0, len(collabs))
	for _, c := range collabs {
		rows = append(rows, collabRow{
			Collab:     c,
			Author:     m.userName(c.AuthorID),
			Interested: c.HasInterest(m.UserID),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Collab.CreatedAt.After(rows[j].Collab.CreatedAt)
	})
	return rows
}

func (m Model) alertRows() []models.Notification {
	return m.Engine.Social.NotificationsFor(m.UserID)
}

func (m Model) userName(uid string) string {
	if u, ok := m.Engine.Social.User(uid); ok {
		if u.DisplayName != "" {
			return u.DisplayName
		}
		return u.Username
	}
	return uid
}

// rowCount is the number of selectable rows on the current page.
func (m Model) rowCount() int {
	switch m.page() {
	case history.PageFeed:
		return len(m.feedRows())
	case history.PageMembers:
		return len(m.memberRows())
	case history.PageMessages:
		if m.currentPeer() != "" {
			return 0
		}
		return len(m.convRows())
	case history.PageCollabs:
		return len(m.collabRows())
	case history.PageAlerts:
		return len(m.alertRows())
	}
	return 0
}

// openSelection activates the highlighted row for the current page.
func (m Model) openSelection() (tea.Model, tea.Cmd) {
	switch m.page() {
	case history.PageMembers:
		rows := m.memberRows()
		if m.selection < len(rows) {
			m.openThread(rows[m.selection].User.ID)
		}
	case history.PageMessages:
		if m.currentPeer() == "" {
			rows := m.convRows()
			if m.selection < len(rows) {
				m.openThread(rows[m.selection].PeerID)
			}
		}
	case history.PageAlerts:
		rows := m.alertRows()
		if m.selection < len(rows) {
			m.Engine.Social.MarkNotificationsRead(m.UserID, []string{rows[m.selection].ID})
		}
	}
	return m, nil
}

// openThread navigates to the message thread with peer, creating the
// conversation if none exists. Opening also lazily marks matching
// new-message notifications read.
func (m *Model) openThread(peer string) {
	if _, err := m.Engine.Social.ViewConversation(m.UserID, peer); err != nil {
		m.toast = err.Error()
		return
	}
	m.navigate(history.PageMessages, map[string]any{"peer": peer})
}

func (m *Model) likeSelectedPost() {
	rows := m.feedRows()
	if m.selection >= len(rows) {
		return
	}
	if _, err := m.Engine.Social.TogglePostLike(context.Background(), m.UserID, rows[m.selection].Post.ID); err != nil {
		m.toast = err.Error()
	}
}

func (m *Model) toggleSelectedInterest() {
	rows := m.collabRows()
	if m.selection >= len(rows) {
		return
	}
	if _, err := m.Engine.Social.ToggleCollaborationInterest(context.Background(), m.UserID, rows[m.selection].Collab.ID); err != nil {
		m.toast = err.Error()
	}
}

func (m *Model) befriendSelectedMember() {
	rows := m.memberRows()
	if m.selection >= len(rows) {
		return
	}
	if _, err := m.Engine.Social.SendFriendRequest(context.Background(), m.UserID, rows[m.selection].User.ID); err != nil {
		m.toast = err.Error()
	}
}

// acceptSelectedRequest accepts the friend request behind the highlighted
// alert, when it is one.
func (m *Model) acceptSelectedRequest() {
	rows := m.alertRows()
	if m.selection >= len(rows) {
		return
	}
	alert := rows[m.selection]
	if alert.Type != models.NotifyFriendRequestReceived {
		return
	}
	if err := m.Engine.Social.AcceptFriendRequest(context.Background(), m.UserID, alert.EntityID); err != nil {
		m.toast = err.Error()
	}
}

func toastLine(event bus.Event) string {
	if s, ok := event.Payload.(string); ok && s != "" {
		return s
	}
	return fmt.Sprintf("%v", event.Name)
}
