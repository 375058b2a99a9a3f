// Package state implements the synchronized slice machinery: named JSON
// collections held in memory, persisted optimistically to a remote row
// store, and reconverged through version-gated reloads.
package state

import "strings"

// Base slice keys. Partitioned keys append ":<partition>".
const (
	KeyUsers             = "users"
	KeyPosts             = "posts"
	KeyNotifications     = "notifications"
	KeyConversations     = "conversations"
	KeyCollaborations    = "collaborations"
	KeyFeedback          = "feedback"
	KeyFriendRequests    = "friend_requests"
	KeyTheme             = "theme"
	KeyAuth              = "auth"
	KeyPushSubscriptions = "push_subscriptions"
	KeyHistory           = "history"
)

// GuestPartition is the partition used for identity-scoped slices when no
// one is signed in.
const GuestPartition = "guest"

var baseKeys = []string{
	KeyUsers,
	KeyPosts,
	KeyNotifications,
	KeyConversations,
	KeyCollaborations,
	KeyFeedback,
	KeyFriendRequests,
	KeyTheme,
	KeyAuth,
	KeyPushSubscriptions,
	KeyHistory,
}

var partitioned = map[string]bool{
	KeyAuth:              true,
	KeyPushSubscriptions: true,
	KeyHistory:           true,
}

// BaseKeys returns every base slice key in taxonomy order.
func BaseKeys() []string {
	out := make([]string, len(baseKeys))
	copy(out, baseKeys)
	return out
}

// IsBaseKey reports whether k is a known base key.
func IsBaseKey(k string) bool {
	for _, b := range baseKeys {
		if b == k {
			return true
		}
	}
	return false
}

// IsPartitioned reports whether the base key is scoped per identity.
func IsPartitioned(base string) bool { return partitioned[base] }

// PartitionKey builds the remote key for an identity-scoped slice. An empty
// userID maps to the guest partition. Non-partitioned base keys are
// returned unchanged.
func PartitionKey(base, userID string) string {
	if !partitioned[base] {
		return base
	}
	if userID == "" {
		userID = GuestPartition
	}
	return base + ":" + userID
}

// SplitKey separates a remote key into its base key and partition. The
// partition is empty for non-partitioned keys.
func SplitKey(key string) (base, partition string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
