// Package identity resolves the signed-in application identity and
// announces identity changes to the rest of the engine. Tokens are not
// verified here; verification is the relay's job. The client only needs
// the stable user id a token maps to.
package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when no identity is signed in.
var ErrNoSession = errors.New("no active session")

// Session is the resolved identity of the signed-in user.
type Session struct {
	UserID string
	Token  string
}

// Provider supplies the current session and announces changes. OnChange
// handlers receive nil on sign-out. The returned func unregisters.
type Provider interface {
	Session() (*Session, error)
	OnChange(fn func(*Session)) func()
	SignOut() error
}

// UserIDFromToken extracts the subject claim without verifying the
// signature.
func UserIDFromToken(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// Storage persists credentials between runs.
type Storage struct {
	// Load returns the stored token and user id; both empty when signed
	// out.
	Load func() (token, userID string, err error)
	// Save persists new credentials.
	Save func(token, userID string) error
	// Clear removes stored credentials.
	Clear func() error
}

// TokenProvider resolves sessions from stored credentials. Every
// authenticated token maps to exactly one application identity; an
// operator override pins the identity regardless of the token subject.
type TokenProvider struct {
	storage    Storage
	operatorID string

	mu       sync.Mutex
	session  *Session
	loaded   bool
	handlers map[int]func(*Session)
	nextID   int
}

// NewTokenProvider builds a provider over the given credential storage.
// operatorID, when non-empty, pins the resolved identity.
func NewTokenProvider(storage Storage, operatorID string) *TokenProvider {
	return &TokenProvider{
		storage:    storage,
		operatorID: operatorID,
		handlers:   make(map[int]func(*Session)),
	}
}

// Session returns the current identity, loading stored credentials on
// first use. Returns ErrNoSession when signed out.
func (p *TokenProvider) Session() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		if err := p.loadLocked(); err != nil {
			return nil, err
		}
	}
	if p.session == nil {
		return nil, ErrNoSession
	}
	out := *p.session
	return &out, nil
}

func (p *TokenProvider) loadLocked() error {
	p.loaded = true
	if p.storage.Load == nil {
		return nil
	}
	token, userID, err := p.storage.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if token == "" && userID == "" {
		return nil
	}
	resolved, err := p.resolve(token, userID)
	if err != nil {
		return err
	}
	p.session = resolved
	return nil
}

func (p *TokenProvider) resolve(token, userID string) (*Session, error) {
	if p.operatorID != "" {
		return &Session{UserID: p.operatorID, Token: token}, nil
	}
	if userID != "" {
		return &Session{UserID: userID, Token: token}, nil
	}
	sub, err := UserIDFromToken(token)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: sub, Token: token}, nil
}

// SignIn resolves and persists a new identity from token, then notifies
// handlers. userID may be empty, in which case the token subject is used.
func (p *TokenProvider) SignIn(token, userID string) (*Session, error) {
	session, err := p.resolve(token, userID)
	if err != nil {
		return nil, err
	}
	if p.storage.Save != nil {
		if err := p.storage.Save(token, session.UserID); err != nil {
			return nil, fmt.Errorf("save credentials: %w", err)
		}
	}

	p.mu.Lock()
	p.loaded = true
	p.session = session
	handlers := p.handlersLocked()
	p.mu.Unlock()

	out := *session
	for _, fn := range handlers {
		fn(&out)
	}
	return &out, nil
}

// SignOut clears stored credentials and notifies handlers with nil.
func (p *TokenProvider) SignOut() error {
	if p.storage.Clear != nil {
		if err := p.storage.Clear(); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
	}
	p.mu.Lock()
	p.loaded = true
	p.session = nil
	handlers := p.handlersLocked()
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(nil)
	}
	return nil
}

// OnChange registers fn for identity changes. fn receives the new session,
// nil on sign-out.
func (p *TokenProvider) OnChange(fn func(*Session)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *TokenProvider) handlersLocked() []func(*Session) {
	out := make([]func(*Session), 0, len(p.handlers))
	for _, fn := range p.handlers {
		out = append(out, fn)
	}
	return out
}

// Static is a fixed-identity Provider for tests and single-user tools.
type Static struct {
	UserID string
}

func (s Static) Session() (*Session, error) {
	if s.UserID == "" {
		return nil, ErrNoSession
	}
	return &Session{UserID: s.UserID}, nil
}

func (s Static) OnChange(func(*Session)) func() { return func() {} }

func (s Static) SignOut() error { return nil }
