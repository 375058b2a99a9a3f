package models

import (
	"sort"
	"time"
)

// RequestStatus represents the lifecycle state of a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// CollabStatus represents whether a collaboration is taking new interest.
type CollabStatus string

const (
	CollabOpen   CollabStatus = "open"
	CollabClosed CollabStatus = "closed"
)

// Folder represents which inbox folder a conversation is filed under.
type Folder string

const (
	FolderContactList Folder = "contact_list"
	FolderGeneral     Folder = "general"
	FolderHidden      Folder = "hidden"
)

// NotificationType represents the action that produced a notification.
type NotificationType string

const (
	NotifyFriendRequestReceived NotificationType = "friend_request_received"
	NotifyFriendRequestAccepted NotificationType = "friend_request_accepted"
	NotifyCollabInterest        NotificationType = "collab_interest"
	NotifyNewMessage            NotificationType = "new_message"
	NotifyPostLike              NotificationType = "post_like"
)

// ThemeMode represents the UI theme preference.
type ThemeMode string

const (
	ThemeLight  ThemeMode = "light"
	ThemeDark   ThemeMode = "dark"
	ThemeSystem ThemeMode = "system"
)

// User is one entry in the member directory.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	FriendIDs   []string  `json:"friend_ids,omitempty"`
	BlockedIDs  []string  `json:"blocked_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasFriend reports whether uid is in the user's friend set.
func (u *User) HasFriend(uid string) bool {
	return containsID(u.FriendIDs, uid)
}

// HasBlocked reports whether uid is in the user's block set.
func (u *User) HasBlocked(uid string) bool {
	return containsID(u.BlockedIDs, uid)
}

// Post is a feed entry.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	LikedBy   []string  `json:"liked_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LikedByUser reports whether uid has liked the post.
func (p *Post) LikedByUser(uid string) bool {
	return containsID(p.LikedBy, uid)
}

// Collaboration is a project proposal members can express interest in.
type Collaboration struct {
	ID                string       `json:"id"`
	AuthorID          string       `json:"author_id"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	Status            CollabStatus `json:"status"`
	InterestedUserIDs []string     `json:"interested_user_ids,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// HasInterest reports whether uid has expressed interest.
func (c *Collaboration) HasInterest(uid string) bool {
	return containsID(c.InterestedUserIDs, uid)
}

// Message is a single entry in a conversation. Messages are append-only.
type Message struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// Conversation holds the message thread between exactly two participants.
// At most one conversation exists per unordered participant pair.
type Conversation struct {
	ID             string    `json:"id"`
	ParticipantIDs [2]string `json:"participant_ids"`
	Messages       []Message `json:"messages,omitempty"`
	Folder         Folder    `json:"folder"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasParticipants reports whether the conversation links the unordered pair {a, b}.
func (c *Conversation) HasParticipants(a, b string) bool {
	return (c.ParticipantIDs[0] == a && c.ParticipantIDs[1] == b) ||
		(c.ParticipantIDs[0] == b && c.ParticipantIDs[1] == a)
}

// Peer returns the other participant's id, or "" when uid is not a participant.
func (c *Conversation) Peer(uid string) string {
	switch uid {
	case c.ParticipantIDs[0]:
		return c.ParticipantIDs[1]
	case c.ParticipantIDs[1]:
		return c.ParticipantIDs[0]
	}
	return ""
}

// Notification records one action that targeted a specific user.
// UserID is the recipient and always differs from ActorID.
type Notification struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	ActorID    string           `json:"actor_id"`
	Type       NotificationType `json:"type"`
	EntityType string           `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Message    string           `json:"message"`
	IsRead     bool             `json:"is_read"`
	CreatedAt  time.Time        `json:"created_at"`
}

// FriendRequest links a sender and recipient. At most one pending request
// exists per unordered user pair; accepted and declined are terminal.
type FriendRequest struct {
	ID         string        `json:"id"`
	FromUserID string        `json:"from_user_id"`
	ToUserID   string        `json:"to_user_id"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// LinksPair reports whether the request connects the unordered pair {a, b}.
func (r *FriendRequest) LinksPair(a, b string) bool {
	return (r.FromUserID == a && r.ToUserID == b) ||
		(r.FromUserID == b && r.ToUserID == a)
}

// Feedback is a free-form report submitted by a member.
type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription is one user's registered push endpoint.
type PushSubscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Theme is the persisted UI theme preference.
type Theme struct {
	Mode ThemeMode `json:"mode"`
}

// AuthState is the persisted record of the signed-in identity.
type AuthState struct {
	UserID     string    `json:"user_id"`
	SignedInAt time.Time `json:"signed_in_at"`
}

// IsValidRequestStatus checks if a request status is valid.
func IsValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestPending, RequestAccepted, RequestDeclined:
		return true
	}
	return false
}

// IsValidCollabStatus checks if a collaboration status is valid.
func IsValidCollabStatus(s CollabStatus) bool {
	switch s {
	case CollabOpen, CollabClosed:
		return true
	}
	return false
}

// IsValidFolder checks if a conversation folder is valid.
func IsValidFolder(f Folder) bool {
	switch f {
	case FolderContactList, FolderGeneral, FolderHidden:
		return true
	}
	return false
}

// IsValidNotificationType checks if a notification type is valid.
func IsValidNotificationType(t NotificationType) bool {
	switch t {
	case NotifyFriendRequestReceived, NotifyFriendRequestAccepted,
		NotifyCollabInterest, NotifyNewMessage, NotifyPostLike:
		return true
	}
	return false
}

// NormalizeThemeMode converts alternate spellings to canonical form.
// Unrecognized values fall back to system.
func NormalizeThemeMode(s string) ThemeMode {
	switch ThemeMode(s) {
	case ThemeLight, ThemeDark, ThemeSystem:
		return ThemeMode(s)
	case "auto", "default", "":
		return ThemeSystem
	default:
		return ThemeSystem
	}
}

// AddID inserts uid into a sorted id set, returning the new set.
// Inserting an existing id is a no-op.
func AddID(ids []string, uid string) []string {
	if containsID(ids, uid) {
		return ids
	}
	out := append(append([]string(nil), ids...), uid)
	sort.Strings(out)
	return out
}

// RemoveID removes uid from an id set, returning the new set.
func RemoveID(ids []string, uid string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != uid {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func containsID(ids []string, uid string) bool {
	for _, id := range ids {
		if id == uid {
			return true
		}
	}
	return false
}
