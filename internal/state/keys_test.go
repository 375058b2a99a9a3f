package state

import "testing"

func TestPartitionKey(t *testing.T) {
	tests := []struct {
		base   string
		userID string
		want   string
	}{
		{KeyHistory, "u1", "history:u1"},
		{KeyHistory, "", "history:guest"},
		{KeyAuth, "u2", "auth:u2"},
		{KeyPushSubscriptions, "u3", "push_subscriptions:u3"},
		{KeyPosts, "u1", "posts"},
		{KeyUsers, "", "users"},
	}
	for _, tt := range tests {
		if got := PartitionKey(tt.base, tt.userID); got != tt.want {
			t.Errorf("PartitionKey(%q, %q) = %q, want %q", tt.base, tt.userID, got, tt.want)
		}
	}
}

func TestSplitKey(t *testing.T) {
	base, part := SplitKey("history:u1")
	if base != KeyHistory || part != "u1" {
		t.Errorf("SplitKey(history:u1) = (%q, %q), want (history, u1)", base, part)
	}
	base, part = SplitKey("posts")
	if base != KeyPosts || part != "" {
		t.Errorf("SplitKey(posts) = (%q, %q), want (posts, \"\")", base, part)
	}
}

func TestIsBaseKey(t *testing.T) {
	for _, k := range BaseKeys() {
		if !IsBaseKey(k) {
			t.Errorf("IsBaseKey(%q) = false, want true", k)
		}
	}
	if IsBaseKey("history:u1") {
		t.Error("IsBaseKey(history:u1) = true, want false")
	}
	if IsBaseKey("sessions") {
		t.Error("IsBaseKey(sessions) = true, want false")
	}
}

func TestIsPartitioned(t *testing.T) {
	for _, k := range []string{KeyAuth, KeyPushSubscriptions, KeyHistory} {
		if !IsPartitioned(k) {
			t.Errorf("IsPartitioned(%q) = false, want true", k)
		}
	}
	for _, k := range []string{KeyUsers, KeyPosts, KeyTheme} {
		if IsPartitioned(k) {
			t.Errorf("IsPartitioned(%q) = true, want false", k)
		}
	}
}
