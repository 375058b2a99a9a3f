// Package social implements the member workflows: friend requests, posts,
// collaborations, conversations, feedback, and the notification fan-out
// they produce. Every operation validates against the current in-memory
// snapshots, applies optimistically through the slices, and leaves
// persistence and cross-session convergence to the state layer.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/marcus/huddle/internal/bus"
	"github.com/marcus/huddle/internal/models"
	"github.com/marcus/huddle/internal/push"
	"github.com/marcus/huddle/internal/state"
)

// ValidationError reports a precondition failure. Callers show the reason
// to the user; nothing was changed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Slices is the set of synchronized collections the workflows operate on.
type Slices struct {
	Users          *state.Slice[[]models.User]
	Posts          *state.Slice[[]models.Post]
	Notifications  *state.Slice[[]models.Notification]
	Conversations  *state.Slice[[]models.Conversation]
	Collaborations *state.Slice[[]models.Collaboration]
	Feedback       *state.Slice[[]models.Feedback]
	FriendRequests *state.Slice[[]models.FriendRequest]
	Theme          *state.Slice[models.Theme]
}

// Options configure an Engine.
type Options struct {
	Slices   Slices
	Notifier push.Notifier
	Events   *bus.Bus
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func(prefix string) string
}

// Engine runs the workflows. Safe for concurrent use.
type Engine struct {
	slices   Slices
	notifier push.Notifier
	events   *bus.Bus
	log      *slog.Logger
	now      func() time.Time
	newID    func(prefix string) string
}

// New builds an Engine from options. Nil Notifier disables push; nil Events
// disables toasts.
func New(opts Options) *Engine {
	e := &Engine{
		slices:   opts.Slices,
		notifier: opts.Notifier,
		events:   opts.Events,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = func(prefix string) string {
			return prefix + "-" + strings.ToLower(ulid.Make().String())
		}
	}
	return e
}

// User returns the directory entry for id.
func (e *Engine) User(id string) (models.User, bool) {
	return findUser(e.slices.Users.Get(), id)
}

func findUser(users []models.User, id string) (models.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

func (e *Engine) displayName(id string) string {
	u, ok := e.User(id)
	if !ok {
		return id
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return id
}

// --- friend requests ---

// SendFriendRequest creates a pending request from actor to toUserID and
// notifies the recipient.
func (e *Engine) SendFriendRequest(ctx context.Context, actorID, toUserID string) (*models.FriendRequest, error) {
	if actorID == toUserID {
		return nil, invalid("cannot send a friend request to yourself")
	}
	users := e.slices.Users.Get()
	actor, ok := findUser(users, actorID)
	if !ok {
		return nil, invalid("unknown sender %s", actorID)
	}
	target, ok := findUser(users, toUserID)
	if !ok {
		return nil, invalid("unknown recipient %s", toUserID)
	}
	if actor.HasFriend(toUserID) {
		return nil, invalid("%s is already a friend", e.displayName(toUserID))
	}
	if actor.HasBlocked(toUserID) || target.HasBlocked(actorID) {
		return nil, invalid("cannot send a friend request to this member")
	}

	req := models.FriendRequest{
		ID:         e.newID("req"),
		FromUserID: actorID,
		ToUserID:   toUserID,
		Status:     models.RequestPending,
		CreatedAt:  e.now(),
	}
	// Any record linking the pair blocks a new request, declined ones
	// included; the check runs inside the mutation so two racing sends
	// cannot both slip through. The pair returns to a clean slate only
	// through RemoveFriend or a block withdrawing the records.
	var blockedBy models.RequestStatus
	added := e.slices.FriendRequests.MutateIf(func(reqs []models.FriendRequest) ([]models.FriendRequest, bool) {
		for _, r := range reqs {
			if r.LinksPair(actorID, toUserID) {
				blockedBy = r.Status
				return reqs, false
			}
		}
		next := make([]models.FriendRequest, len(reqs), len(reqs)+1)
		copy(next, reqs)
		return append(next, req), true
	})
	if !added {
		if blockedBy == models.RequestPending {
			return nil, invalid("a friend request between you is already pending")
		}
		return nil, invalid("a friend request between you was already %s", blockedBy)
	}

	e.notify(ctx, toUserID, actorID, models.NotifyFriendRequestReceived, "friend_request", req.ID,
		fmt.Sprintf("%s sent you a friend request", e.displayName(actorID)))
	return &req, nil
}

// CancelFriendRequest withdraws a pending request the actor sent. The
// recipient's notification for it is marked read so no unread alert points
// at a withdrawn request.
func (e *Engine) CancelFriendRequest(actorID, requestID string) error {
	req, ok := e.findRequest(requestID)
	if !ok {
		return invalid("unknown friend request")
	}
	if req.FromUserID != actorID {
		return invalid("only the sender can cancel a friend request")
	}
	if req.Status != models.RequestPending {
		return invalid("friend request is no longer pending")
	}

	removed := e.slices.FriendRequests.MutateIf(func(reqs []models.FriendRequest) ([]models.FriendRequest, bool) {
		for i, r := range reqs {
			if r.ID == requestID && r.Status == models.RequestPending {
				next := make([]models.FriendRequest, 0, len(reqs)-1)
				next = append(next, reqs[:i]...)
				next = append(next, reqs[i+1:]...)
				return next, true
			}
		}
		return reqs, false
	})
	if !removed {
		return invalid("friend request is no longer pending")
	}
	e.dismissRequestNotifications(requestID)
	return nil
}

// AcceptFriendRequest marks the request accepted, links both users as
// friends, and notifies the sender. Applied as compensating steps so a
// mid-action failure cannot leave an accepted request without the
// friendship edges.
func (e *Engine) AcceptFriendRequest(ctx context.Context, actorID, requestID string) error {
	req, ok := e.findRequest(requestID)
	if !ok {
		return invalid("unknown friend request")
	}
	if req.ToUserID != actorID {
		return invalid("only the recipient can accept a friend request")
	}
	if req.Status != models.RequestPending {
		return invalid("friend request is no longer pending")
	}

	steps := []step{
		{
			name: "mark accepted",
			apply: func() error {
				if !e.slices.FriendRequests.MutateIf(setRequestStatus(requestID, models.RequestPending, models.RequestAccepted)) {
					return invalid("friend request is no longer pending")
				}
				return nil
			},
			compensate: func() {
				e.slices.FriendRequests.MutateIf(setRequestStatus(requestID, models.RequestAccepted, models.RequestPending))
			},
		},
		{
			name: "link friends",
			apply: func() error {
				if !e.slices.Users.MutateIf(linkFriends(req.FromUserID, req.ToUserID)) {
					return fmt.Errorf("users %s and %s cannot be linked", req.FromUserID, req.ToUserID)
				}
				return nil
			},
			compensate: func() {
				e.slices.Users.MutateIf(unlinkFriends(req.FromUserID, req.ToUserID))
			},
		},
		{
			name: "notify sender",
			apply: func() error {
				e.notify(ctx, req.FromUserID, actorID, models.NotifyFriendRequestAccepted, "friend_request", req.ID,
					fmt.Sprintf("%s accepted your friend request", e.displayName(actorID)))
				return nil
			},
		},
	}
	return runSteps(e.log, "accept friend request", steps)
}

// DeclineFriendRequest quietly marks the request declined. The sender is
// not notified.
func (e *Engine) DeclineFriendRequest(actorID, requestID string) error {
	req, ok := e.findRequest(requestID)
	if !ok {
		return invalid("unknown friend request")
	}
	if req.ToUserID != actorID {
		return invalid("only the recipient can decline a friend request")
	}
	if req.Status != models.RequestPending {
		return invalid("friend request is no longer pending")
	}
	if !e.slices.FriendRequests.MutateIf(setRequestStatus(requestID, models.RequestPending, models.RequestDeclined)) {
		return invalid("friend request is no longer pending")
	}
	return nil
}

// RemoveFriend severs the friendship in both directions and strips every
// request record between the pair, returning them to a clean slate so a
// later request can start over. Silent.
func (e *Engine) RemoveFriend(actorID, friendID string) error {
	if actorID == friendID {
		return invalid("cannot unfriend yourself")
	}
	actor, ok := e.User(actorID)
	if !ok {
		return invalid("unknown user %s", actorID)
	}
	if !actor.HasFriend(friendID) {
		return invalid("%s is not a friend", e.displayName(friendID))
	}
	if !e.slices.Users.MutateIf(unlinkFriends(actorID, friendID)) {
		return invalid("%s is not a friend", e.displayName(friendID))
	}
	e.slices.FriendRequests.MutateIf(stripPairRequests(actorID, friendID))
	return nil
}

// ToggleBlockUser blocks or unblocks targetID for the actor. Blocking also
// severs any friendship and removes every request record between the pair.
// Returns the new blocked state.
func (e *Engine) ToggleBlockUser(actorID, targetID string) (bool, error) {
	if actorID == targetID {
		return false, invalid("cannot block yourself")
	}
	actor, ok := e.User(actorID)
	if !ok {
		return false, invalid("unknown user %s", actorID)
	}
	if _, ok := e.User(targetID); !ok {
		return false, invalid("unknown user %s", targetID)
	}

	if actor.HasBlocked(targetID) {
		e.slices.Users.MutateIf(func(users []models.User) ([]models.User, bool) {
			next := cloneUsers(users)
			for i := range next {
				if next[i].ID == actorID {
					next[i].BlockedIDs = models.RemoveID(next[i].BlockedIDs, targetID)
					return next, true
				}
			}
			return users, false
		})
		return false, nil
	}

	e.slices.Users.MutateIf(func(users []models.User) ([]models.User, bool) {
		next := cloneUsers(users)
		changed := false
		for i := range next {
			switch next[i].ID {
			case actorID:
				next[i].BlockedIDs = models.AddID(next[i].BlockedIDs, targetID)
				next[i].FriendIDs = models.RemoveID(next[i].FriendIDs, targetID)
				changed = true
			case targetID:
				next[i].FriendIDs = models.RemoveID(next[i].FriendIDs, actorID)
			}
		}
		return next, changed
	})
	// Every request record between the pair goes: the implicit unfriend
	// above strips accepted ones, and pending ones are withdrawn with
	// their notifications dismissed.
	var withdrawn []string
	e.slices.FriendRequests.MutateIf(func(reqs []models.FriendRequest) ([]models.FriendRequest, bool) {
		next := reqs[:0:0]
		withdrawn = withdrawn[:0]
		changed := false
		for _, r := range reqs {
			if r.LinksPair(actorID, targetID) {
				if r.Status == models.RequestPending {
					withdrawn = append(withdrawn, r.ID)
				}
				changed = true
				continue
			}
			next = append(next, r)
		}
		return next, changed
	})
	e.dismissRequestNotifications(withdrawn...)
	return true, nil
}

func (e *Engine) findRequest(id string) (models.FriendRequest, bool) {
	for _, r := range e.slices.FriendRequests.Get() {
		if r.ID == id {
			return r, true
		}
	}
	return models.FriendRequest{}, false
}

// IncomingRequests returns the pending requests addressed to uid.
func (e *Engine) IncomingRequests(uid string) []models.FriendRequest {
	var out []models.FriendRequest
	for _, r := range e.slices.FriendRequests.Get() {
		if r.Status == models.RequestPending && r.ToUserID == uid {
			out = append(out, r)
		}
	}
	return out
}

// OutgoingRequests returns the pending requests uid has sent.
func (e *Engine) OutgoingRequests(uid string) []models.FriendRequest {
	var out []models.FriendRequest
	for _, r := range e.slices.FriendRequests.Get() {
		if r.Status == models.RequestPending && r.FromUserID == uid {
			out = append(out, r)
		}
	}
	return out
}

// --- posts ---

// CreatePost publishes a new feed entry, newest first.
func (e *Engine) CreatePost(actorID, body string) (*models.Post, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalid("post body is empty")
	}
	if _, ok := e.User(actorID); !ok {
		return nil, invalid("unknown user %s", actorID)
	}
	post := models.Post{
		ID:        e.newID("pst"),
		AuthorID:  actorID,
		Body:      body,
		CreatedAt: e.now(),
	}
	e.slices.Posts.Mutate(func(posts []models.Post) []models.Post {
		next := make([]models.Post, 0, len(posts)+1)
		next = append(next, post)
		return append(next, posts...)
	})
	return &post, nil
}

// TogglePostLike flips the actor's like on a post. Liking someone else's
// post notifies the author. Returns the new liked state.
func (e *Engine) TogglePostLike(ctx context.Context, actorID, postID string) (bool, error) {
	target, ok := e.findPost(postID)
	if !ok {
		return false, invalid("unknown post")
	}
	liking := !target.LikedByUser(actorID)

	changed := e.slices.Posts.MutateIf(func(posts []models.Post) ([]models.Post, bool) {
		next := make([]models.Post, len(posts))
		copy(next, posts)
		for i := range next {
			if next[i].ID != postID {
				continue
			}
			if liking {
				if next[i].LikedByUser(actorID) {
					return posts, false
				}
				next[i].LikedBy = models.AddID(next[i].LikedBy, actorID)
			} else {
				if !next[i].LikedByUser(actorID) {
					return posts, false
				}
				next[i].LikedBy = models.RemoveID(next[i].LikedBy, actorID)
			}
			return next, true
		}
		return posts, false
	})
	if !changed {
		return target.LikedByUser(actorID), nil
	}

	if liking {
		e.notify(ctx, target.AuthorID, actorID, models.NotifyPostLike, "post", postID,
			fmt.Sprintf("%s liked your post", e.displayName(actorID)))
	}
	return liking, nil
}

func (e *Engine) findPost(id string) (models.Post, bool) {
	for _, p := range e.slices.Posts.Get() {
		if p.ID == id {
			return p, true
		}
	}
	return models.Post{}, false
}

// --- collaborations ---

// CreateCollaboration opens a new collaboration proposal.
func (e *Engine) CreateCollaboration(actorID, title, description string) (*models.Collaboration, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, invalid("collaboration title is empty")
	}
	if _, ok := e.User(actorID); !ok {
		return nil, invalid("unknown user %s", actorID)
	}
	collab := models.Collaboration{
		ID:          e.newID("clb"),
		AuthorID:    actorID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      models.CollabOpen,
		CreatedAt:   e.now(),
	}
	e.slices.Collaborations.Mutate(func(list []models.Collaboration) []models.Collaboration {
		next := make([]models.Collaboration, 0, len(list)+1)
		next = append(next, collab)
		return append(next, list...)
	})
	return &collab, nil
}

// CloseCollaboration moves an open collaboration to closed. Author only.
func (e *Engine) CloseCollaboration(actorID, collabID string) error {
	collab, ok := e.findCollaboration(collabID)
	if !ok {
		return invalid("unknown collaboration")
	}
	if collab.AuthorID != actorID {
		return invalid("only the author can close a collaboration")
	}
	if collab.Status != models.CollabOpen {
		return invalid("collaboration is already closed")
	}
	e.slices.Collaborations.MutateIf(func(list []models.Collaboration) ([]models.Collaboration, bool) {
		next := make([]models.Collaboration, len(list))
		copy(next, list)
		for i := range next {
			if next[i].ID == collabID && next[i].Status == models.CollabOpen {
				next[i].Status = models.CollabClosed
				return next, true
			}
		}
		return list, false
	})
	return nil
}

// ToggleCollaborationInterest flips the actor's interest. Authors cannot
// express interest in their own collaboration, and closed collaborations
// accept no new interest (withdrawing existing interest stays possible).
// Returns the new interest state.
func (e *Engine) ToggleCollaborationInterest(ctx context.Context, actorID, collabID string) (bool, error) {
	collab, ok := e.findCollaboration(collabID)
	if !ok {
		return false, invalid("unknown collaboration")
	}
	if collab.AuthorID == actorID {
		return false, invalid("authors cannot express interest in their own collaboration")
	}
	adding := !collab.HasInterest(actorID)
	if adding && collab.Status != models.CollabOpen {
		return false, invalid("collaboration is closed")
	}

	changed := e.slices.Collaborations.MutateIf(func(list []models.Collaboration) ([]models.Collaboration, bool) {
		next := make([]models.Collaboration, len(list))
		copy(next, list)
		for i := range next {
			if next[i].ID != collabID {
				continue
			}
			if adding {
				if next[i].Status != models.CollabOpen || next[i].HasInterest(actorID) {
					return list, false
				}
				next[i].InterestedUserIDs = models.AddID(next[i].InterestedUserIDs, actorID)
			} else {
				if !next[i].HasInterest(actorID) {
					return list, false
				}
				next[i].InterestedUserIDs = models.RemoveID(next[i].InterestedUserIDs, actorID)
			}
			return next, true
		}
		return list, false
	})
	if !changed {
		return collab.HasInterest(actorID), nil
	}

	if adding {
		e.notify(ctx, collab.AuthorID, actorID, models.NotifyCollabInterest, "collaboration", collabID,
			fmt.Sprintf("%s is interested in %q", e.displayName(actorID), collab.Title))
	}
	return adding, nil
}

func (e *Engine) findCollaboration(id string) (models.Collaboration, bool) {
	for _, c := range e.slices.Collaborations.Get() {
		if c.ID == id {
			return c, true
		}
	}
	return models.Collaboration{}, false
}

// --- conversations ---

// ViewConversation returns the conversation between actor and peer,
// creating it if absent. A conversation with a friend files under the
// contact list, everything else lands in general. Opening the view reads
// the peer's messages: the actor's unread new-message notifications from
// that peer flip to read.
func (e *Engine) ViewConversation(actorID, peerID string) (*models.Conversation, error) {
	if err := e.checkConversationPair(actorID, peerID); err != nil {
		return nil, err
	}
	conv := e.ensureConversation(actorID, peerID)
	e.dismissMessageNotifications(actorID, peerID)
	return &conv, nil
}

// SendMessage appends a message to the pair's conversation, creating the
// conversation on first contact, and notifies the recipient.
func (e *Engine) SendMessage(ctx context.Context, actorID, peerID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, invalid("message body is empty")
	}
	if err := e.checkConversationPair(actorID, peerID); err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:       e.newID("msg"),
		SenderID: actorID,
		Body:     body,
		SentAt:   e.now(),
	}
	blank := e.blankConversation(actorID, peerID)
	e.slices.Conversations.Mutate(func(list []models.Conversation) []models.Conversation {
		next := make([]models.Conversation, len(list), len(list)+1)
		copy(next, list)
		idx := -1
		for i := range next {
			if next[i].HasParticipants(actorID, peerID) {
				idx = i
				break
			}
		}
		if idx < 0 {
			next = append(next, blank)
			idx = len(next) - 1
		}
		msgs := make([]models.Message, len(next[idx].Messages), len(next[idx].Messages)+1)
		copy(msgs, next[idx].Messages)
		next[idx].Messages = append(msgs, msg)
		return next
	})

	preview := body
	if runes := []rune(preview); len(runes) > 80 {
		preview = string(runes[:77]) + "..."
	}
	e.notify(ctx, peerID, actorID, models.NotifyNewMessage, "conversation", "",
		fmt.Sprintf("%s: %s", e.displayName(actorID), preview))
	return &msg, nil
}

// Conversation returns the existing conversation for the pair, if any.
func (e *Engine) Conversation(actorID, peerID string) (models.Conversation, bool) {
	for _, c := range e.slices.Conversations.Get() {
		if c.HasParticipants(actorID, peerID) {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// ConversationsFor returns uid's conversations, newest activity first.
func (e *Engine) ConversationsFor(uid string) []models.Conversation {
	var out []models.Conversation
	for _, c := range e.slices.Conversations.Get() {
		if c.Peer(uid) != "" {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return out
}

func lastActivity(c models.Conversation) time.Time {
	if len(c.Messages) > 0 {
		return c.Messages[len(c.Messages)-1].SentAt
	}
	return c.CreatedAt
}

func (e *Engine) checkConversationPair(actorID, peerID string) error {
	if actorID == peerID {
		return invalid("cannot message yourself")
	}
	users := e.slices.Users.Get()
	actor, ok := findUser(users, actorID)
	if !ok {
		return invalid("unknown user %s", actorID)
	}
	peer, ok := findUser(users, peerID)
	if !ok {
		return invalid("unknown user %s", peerID)
	}
	if actor.HasBlocked(peerID) || peer.HasBlocked(actorID) {
		return invalid("cannot message this member")
	}
	return nil
}

func (e *Engine) blankConversation(actorID, peerID string) models.Conversation {
	a, b := actorID, peerID
	if b < a {
		a, b = b, a
	}
	folder := models.FolderGeneral
	if actor, ok := e.User(actorID); ok && actor.HasFriend(peerID) {
		folder = models.FolderContactList
	}
	return models.Conversation{
		ID:             e.newID("cnv"),
		ParticipantIDs: [2]string{a, b},
		Folder:         folder,
		CreatedAt:      e.now(),
	}
}

// ensureConversation returns the pair's conversation, creating it inside
// the mutation so racing creators cannot produce duplicates.
func (e *Engine) ensureConversation(actorID, peerID string) models.Conversation {
	blank := e.blankConversation(actorID, peerID)
	var out models.Conversation
	e.slices.Conversations.MutateIf(func(list []models.Conversation) ([]models.Conversation, bool) {
		for _, c := range list {
			if c.HasParticipants(actorID, peerID) {
				out = c
				return list, false
			}
		}
		out = blank
		next := make([]models.Conversation, len(list), len(list)+1)
		copy(next, list)
		return append(next, blank), true
	})
	return out
}

// --- feedback ---

// SubmitFeedback records a free-form report.
func (e *Engine) SubmitFeedback(actorID, category, message string) (*models.Feedback, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("feedback message is empty")
	}
	if _, ok := e.User(actorID); !ok {
		return nil, invalid("unknown user %s", actorID)
	}
	fb := models.Feedback{
		ID:        e.newID("fbk"),
		UserID:    actorID,
		Category:  strings.TrimSpace(category),
		Message:   message,
		CreatedAt: e.now(),
	}
	e.slices.Feedback.Mutate(func(list []models.Feedback) []models.Feedback {
		next := make([]models.Feedback, len(list), len(list)+1)
		copy(next, list)
		return append(next, fb)
	})
	return &fb, nil
}

// --- notifications ---

// NotificationsFor returns uid's notifications, newest first.
func (e *Engine) NotificationsFor(uid string) []models.Notification {
	var out []models.Notification
	for _, n := range e.slices.Notifications.Get() {
		if n.UserID == uid {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UnreadCount returns how many of uid's notifications are unread.
func (e *Engine) UnreadCount(uid string) int {
	count := 0
	for _, n := range e.slices.Notifications.Get() {
		if n.UserID == uid && !n.IsRead {
			count++
		}
	}
	return count
}

// MarkNotificationsRead marks the given notifications read for uid. A nil
// ids list marks all of uid's notifications. Returns how many changed.
func (e *Engine) MarkNotificationsRead(uid string, ids []string) int {
	var idSet map[string]struct{}
	if ids != nil {
		idSet = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			idSet[id] = struct{}{}
		}
	}
	marked := 0
	e.slices.Notifications.MutateIf(func(list []models.Notification) ([]models.Notification, bool) {
		next := make([]models.Notification, len(list))
		copy(next, list)
		marked = 0
		for i := range next {
			if next[i].UserID != uid || next[i].IsRead {
				continue
			}
			if idSet != nil {
				if _, ok := idSet[next[i].ID]; !ok {
					continue
				}
			}
			next[i].IsRead = true
			marked++
		}
		return next, marked > 0
	})
	return marked
}

// --- profile and theme ---

// UpdateProfile sets the actor's username, display name, and bio. Usernames
// are unique across the directory, case-insensitively; the check runs
// inside the mutation so two racing updates cannot both claim a name.
func (e *Engine) UpdateProfile(actorID, username, displayName, bio string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return invalid("username is empty")
	}
	if _, ok := e.User(actorID); !ok {
		return invalid("unknown user %s", actorID)
	}
	taken := false
	e.slices.Users.MutateIf(func(users []models.User) ([]models.User, bool) {
		for _, u := range users {
			if u.ID != actorID && strings.EqualFold(u.Username, username) {
				taken = true
				return users, false
			}
		}
		next := cloneUsers(users)
		for i := range next {
			if next[i].ID == actorID {
				next[i].Username = username
				next[i].DisplayName = strings.TrimSpace(displayName)
				next[i].Bio = strings.TrimSpace(bio)
				return next, true
			}
		}
		return users, false
	})
	if taken {
		return invalid("username taken")
	}
	return nil
}

// SetTheme persists the UI theme preference. Unknown modes normalize to
// system.
func (e *Engine) SetTheme(mode string) models.ThemeMode {
	normalized := models.NormalizeThemeMode(mode)
	e.slices.Theme.Mutate(func(models.Theme) models.Theme {
		return models.Theme{Mode: normalized}
	})
	return normalized
}

// Theme returns the current theme preference.
func (e *Engine) Theme() models.ThemeMode {
	t := e.slices.Theme.Get()
	return models.NormalizeThemeMode(string(t.Mode))
}

// --- shared mutation helpers ---

func cloneUsers(users []models.User) []models.User {
	next := make([]models.User, len(users))
	copy(next, users)
	return next
}

// stripPairRequests drops every request record linking a and b, whatever
// its status.
func stripPairRequests(a, b string) func([]models.FriendRequest) ([]models.FriendRequest, bool) {
	return func(reqs []models.FriendRequest) ([]models.FriendRequest, bool) {
		next := reqs[:0:0]
		changed := false
		for _, r := range reqs {
			if r.LinksPair(a, b) {
				changed = true
				continue
			}
			next = append(next, r)
		}
		if !changed {
			return reqs, false
		}
		return next, true
	}
}

func setRequestStatus(id string, from, to models.RequestStatus) func([]models.FriendRequest) ([]models.FriendRequest, bool) {
	return func(reqs []models.FriendRequest) ([]models.FriendRequest, bool) {
		next := make([]models.FriendRequest, len(reqs))
		copy(next, reqs)
		for i := range next {
			if next[i].ID == id && next[i].Status == from {
				next[i].Status = to
				return next, true
			}
		}
		return reqs, false
	}
}

// linkFriends adds each user to the other's friend set. Fails when either
// user is missing.
func linkFriends(a, b string) func([]models.User) ([]models.User, bool) {
	return func(users []models.User) ([]models.User, bool) {
		next := cloneUsers(users)
		foundA, foundB := false, false
		for i := range next {
			switch next[i].ID {
			case a:
				next[i].FriendIDs = models.AddID(next[i].FriendIDs, b)
				foundA = true
			case b:
				next[i].FriendIDs = models.AddID(next[i].FriendIDs, a)
				foundB = true
			}
		}
		if !foundA || !foundB {
			return users, false
		}
		return next, true
	}
}

func unlinkFriends(a, b string) func([]models.User) ([]models.User, bool) {
	return func(users []models.User) ([]models.User, bool) {
		next := cloneUsers(users)
		changed := false
		for i := range next {
			switch next[i].ID {
			case a:
				if next[i].HasFriend(b) {
					next[i].FriendIDs = models.RemoveID(next[i].FriendIDs, b)
					changed = true
				}
			case b:
				if next[i].HasFriend(a) {
					next[i].FriendIDs = models.RemoveID(next[i].FriendIDs, a)
					changed = true
				}
			}
		}
		if !changed {
			return users, false
		}
		return next, true
	}
}
