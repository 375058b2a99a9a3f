package social

import (
	"context"
	"time"

	"github.com/marcus/huddle/internal/bus"
	"github.com/marcus/huddle/internal/models"
)

// notify appends a notification for recipientID and fans it out over the
// best-effort channels (push endpoint, in-process toast bus). Actions a
// user performs on their own entities never notify: a self-targeted call
// is dropped here rather than policed at every call site.
func (e *Engine) notify(ctx context.Context, recipientID, actorID string, typ models.NotificationType, entityType, entityID, message string) *models.Notification {
	if recipientID == "" || recipientID == actorID {
		return nil
	}
	n := models.Notification{
		ID:         e.newID("ntf"),
		UserID:     recipientID,
		ActorID:    actorID,
		Type:       typ,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    message,
		CreatedAt:  e.now(),
	}
	e.slices.Notifications.Mutate(func(list []models.Notification) []models.Notification {
		next := make([]models.Notification, len(list), len(list)+1)
		copy(next, list)
		return append(next, n)
	})

	e.dispatchPush(ctx, n)
	if e.events != nil {
		e.events.Publish(bus.Event{RecipientID: recipientID, Name: string(typ), Payload: n})
	}
	return &n
}

// dismissRequestNotifications marks the received-request notifications tied
// to the given friend requests read. Runs when requests are withdrawn, so
// the recipient is not left with an unread alert for a request that no
// longer exists. The records stay; the core only ever flips isRead.
func (e *Engine) dismissRequestNotifications(requestIDs ...string) {
	if len(requestIDs) == 0 {
		return
	}
	set := make(map[string]struct{}, len(requestIDs))
	for _, id := range requestIDs {
		set[id] = struct{}{}
	}
	e.slices.Notifications.MutateIf(func(list []models.Notification) ([]models.Notification, bool) {
		next := make([]models.Notification, len(list))
		copy(next, list)
		changed := false
		for i := range next {
			if next[i].Type != models.NotifyFriendRequestReceived || next[i].IsRead {
				continue
			}
			if _, ok := set[next[i].EntityID]; ok {
				next[i].IsRead = true
				changed = true
			}
		}
		return next, changed
	})
}

// dismissMessageNotifications marks uid's unread new-message notifications
// from peerID read. Opening the conversation view counts as reading them.
func (e *Engine) dismissMessageNotifications(uid, peerID string) {
	e.slices.Notifications.MutateIf(func(list []models.Notification) ([]models.Notification, bool) {
		next := make([]models.Notification, len(list))
		copy(next, list)
		changed := false
		for i := range next {
			if next[i].UserID == uid && next[i].ActorID == peerID &&
				next[i].Type == models.NotifyNewMessage && !next[i].IsRead {
				next[i].IsRead = true
				changed = true
			}
		}
		return next, changed
	})
}

// dispatchPush delivers n to the recipient's push endpoint off the workflow
// path. Failures are logged and swallowed.
func (e *Engine) dispatchPush(ctx context.Context, n models.Notification) {
	if e.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	go func() {
		defer cancel()
		if err := e.notifier.Notify(notifyCtx, n.UserID, pushTitle(n.Type), n.Message, pushLink(n.Type)); err != nil {
			e.log.Warn("push dispatch failed", "type", n.Type, "recipient", n.UserID, "error", err)
		}
	}()
}

func pushTitle(typ models.NotificationType) string {
	switch typ {
	case models.NotifyFriendRequestReceived:
		return "New friend request"
	case models.NotifyFriendRequestAccepted:
		return "Friend request accepted"
	case models.NotifyCollabInterest:
		return "New collaboration interest"
	case models.NotifyNewMessage:
		return "New message"
	case models.NotifyPostLike:
		return "New like"
	}
	return "Huddle"
}

func pushLink(typ models.NotificationType) string {
	switch typ {
	case models.NotifyFriendRequestReceived, models.NotifyFriendRequestAccepted:
		return "/members"
	case models.NotifyCollabInterest:
		return "/collabs"
	case models.NotifyNewMessage:
		return "/messages"
	case models.NotifyPostLike:
		return "/feed"
	}
	return "/"
}
