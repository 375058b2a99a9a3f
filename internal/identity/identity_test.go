package identity

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func memoryStorage() (Storage, *struct{ token, userID string }) {
	stored := &struct{ token, userID string }{}
	return Storage{
		Load:  func() (string, string, error) { return stored.token, stored.userID, nil },
		Save:  func(token, userID string) error { stored.token, stored.userID = token, userID; return nil },
		Clear: func() error { stored.token, stored.userID = "", ""; return nil },
	}, stored
}

func TestUserIDFromToken(t *testing.T) {
	token := mintToken(t, "u42")
	got, err := UserIDFromToken(token)
	if err != nil {
		t.Fatalf("UserIDFromToken() error = %v", err)
	}
	if got != "u42" {
		t.Errorf("UserIDFromToken() = %q, want u42", got)
	}

	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Error("UserIDFromToken(garbage) error = nil, want parse failure")
	}
}

func TestSignInResolvesSubject(t *testing.T) {
	storage, stored := memoryStorage()
	p := NewTokenProvider(storage, "")

	session, err := p.SignIn(mintToken(t, "u1"), "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if session.UserID != "u1" {
		t.Errorf("session user = %q, want u1", session.UserID)
	}
	if stored.userID != "u1" {
		t.Errorf("persisted user = %q, want u1", stored.userID)
	}

	got, err := p.Session()
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("Session() user = %q, want u1", got.UserID)
	}
}

func TestSessionLoadsStoredCredentials(t *testing.T) {
	storage, stored := memoryStorage()
	stored.token = mintToken(t, "u7")

	p := NewTokenProvider(storage, "")
	got, err := p.Session()
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if got.UserID != "u7" {
		t.Errorf("Session() user = %q, want u7", got.UserID)
	}
}

func TestSessionSignedOut(t *testing.T) {
	storage, _ := memoryStorage()
	p := NewTokenProvider(storage, "")
	if _, err := p.Session(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Session() error = %v, want ErrNoSession", err)
	}
}

func TestOperatorOverridePinsIdentity(t *testing.T) {
	storage, _ := memoryStorage()
	p := NewTokenProvider(storage, "operator-1")

	session, err := p.SignIn(mintToken(t, "someone-else"), "")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if session.UserID != "operator-1" {
		t.Errorf("session user = %q, want operator-1", session.UserID)
	}
}

func TestSignOutNotifiesHandlers(t *testing.T) {
	storage, stored := memoryStorage()
	p := NewTokenProvider(storage, "")

	var events []*Session
	unregister := p.OnChange(func(s *Session) { events = append(events, s) })
	defer unregister()

	if _, err := p.SignIn(mintToken(t, "u1"), ""); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := p.SignOut(); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("handler calls = %d, want 2", len(events))
	}
	if events[0] == nil || events[0].UserID != "u1" {
		t.Errorf("first event = %+v, want session u1", events[0])
	}
	if events[1] != nil {
		t.Errorf("second event = %+v, want nil (sign-out)", events[1])
	}
	if stored.token != "" || stored.userID != "" {
		t.Error("credentials not cleared on sign-out")
	}
	if _, err := p.Session(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Session() after sign-out error = %v, want ErrNoSession", err)
	}
}

func TestUnregisterStopsNotifications(t *testing.T) {
	storage, _ := memoryStorage()
	p := NewTokenProvider(storage, "")

	calls := 0
	unregister := p.OnChange(func(*Session) { calls++ })
	unregister()

	if _, err := p.SignIn(mintToken(t, "u1"), ""); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("handler calls after unregister = %d, want 0", calls)
	}
}
