// Package engine wires the full client together: the slice set over one
// remote store, the reconciliation channel, the navigation stack, and the
// workflow engine. Construction is explicit so alternate frontends and
// tests assemble exactly the variant they need.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/huddle/internal/bus"
	"github.com/marcus/huddle/internal/history"
	"github.com/marcus/huddle/internal/identity"
	"github.com/marcus/huddle/internal/models"
	"github.com/marcus/huddle/internal/push"
	"github.com/marcus/huddle/internal/reconcile"
	"github.com/marcus/huddle/internal/remote"
	"github.com/marcus/huddle/internal/social"
	"github.com/marcus/huddle/internal/state"
)

const sessionSwitchTimeout = 15 * time.Second

// Options configure engine construction.
type Options struct {
	// Remote is the durable row store. Required. The engine does not own
	// its lifecycle; callers close it after Close.
	Remote remote.Store
	// Identity resolves the signed-in user. Defaults to signed-out.
	Identity identity.Provider
	// Notifier overrides push delivery. Defaults to web push backed by
	// the store's subscription rows; pass push.Drop to disable.
	Notifier push.Notifier
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Engine is the composition root. All exported fields are assembled once
// in New and safe for concurrent use afterwards.
type Engine struct {
	Slices  social.Slices
	Auth    *state.Slice[models.AuthState]
	PushSub *state.Slice[models.PushSubscription]

	Registry *state.Registry
	Channel  *reconcile.Bus
	History  *history.Stack
	Social   *social.Engine
	Events   *bus.Bus

	store    remote.Store
	identity identity.Provider
	log      *slog.Logger

	unsubscribe func()
}

// New assembles an engine over the remote store. The slice set is keyed
// for whatever identity is signed in at construction time.
func New(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, errors.New("engine: remote store is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	provider := opts.Identity
	if provider == nil {
		provider = identity.Static{}
	}

	uid := ""
	if session, err := provider.Session(); err == nil {
		uid = session.UserID
	}

	store := opts.Remote
	e := &Engine{
		store:    store,
		identity: provider,
		log:      log,
		Events:   bus.New(),
	}

	e.Slices = social.Slices{
		Users:          state.NewSlice(store, state.KeyUsers, func() []models.User { return []models.User{} }, log),
		Posts:          state.NewSlice(store, state.KeyPosts, func() []models.Post { return []models.Post{} }, log),
		Notifications:  state.NewSlice(store, state.KeyNotifications, func() []models.Notification { return []models.Notification{} }, log),
		Conversations:  state.NewSlice(store, state.KeyConversations, func() []models.Conversation { return []models.Conversation{} }, log),
		Collaborations: state.NewSlice(store, state.KeyCollaborations, func() []models.Collaboration { return []models.Collaboration{} }, log),
		Feedback:       state.NewSlice(store, state.KeyFeedback, func() []models.Feedback { return []models.Feedback{} }, log),
		FriendRequests: state.NewSlice(store, state.KeyFriendRequests, func() []models.FriendRequest { return []models.FriendRequest{} }, log),
		Theme:          state.NewSlice(store, state.KeyTheme, func() models.Theme { return models.Theme{Mode: models.ThemeSystem} }, log),
	}
	e.Auth = state.NewSlice(store, state.PartitionKey(state.KeyAuth, uid),
		func() models.AuthState { return models.AuthState{} }, log)
	e.PushSub = state.NewSlice(store, state.PartitionKey(state.KeyPushSubscriptions, uid),
		func() models.PushSubscription { return models.PushSubscription{} }, log)
	historySlice := state.NewSlice(store, state.PartitionKey(state.KeyHistory, uid), history.DefaultStack, log)
	e.History = history.NewStack(historySlice)

	e.Registry = state.NewRegistry(log)
	for _, s := range []state.Managed{
		e.Slices.Users, e.Slices.Posts, e.Slices.Notifications,
		e.Slices.Conversations, e.Slices.Collaborations, e.Slices.Feedback,
		e.Slices.FriendRequests, e.Slices.Theme,
		e.Auth, e.PushSub, historySlice,
	} {
		e.Registry.Register(s)
	}
	e.Channel = reconcile.New(store, e.Registry, log)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = push.NewWebPush(e.lookupSubscription, log)
	}
	e.Social = social.New(social.Options{
		Slices:   e.Slices,
		Notifier: notifier,
		Events:   e.Events,
		Logger:   log,
	})

	e.unsubscribe = provider.OnChange(e.handleSessionChange)
	return e, nil
}

// Start hydrates every slice and opens the reconciliation channel. A
// degraded start (some slices unhydrated, channel in error) returns the
// first error but leaves the engine usable; reloads retry the rest.
func (e *Engine) Start(ctx context.Context) error {
	hydrateErr := e.Registry.HydrateAll(ctx)
	if err := e.Channel.Open(ctx); err != nil {
		e.log.Warn("engine: reconciliation channel unavailable", "error", err)
		if hydrateErr == nil {
			hydrateErr = err
		}
	}
	return hydrateErr
}

// Close tears down the reconciliation channel and drains in-flight
// persists. The remote store stays open for the caller.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.Channel.Close()
	e.Flush()
}

// Flush waits for every slice's pending persists.
func (e *Engine) Flush() {
	e.Slices.Users.Flush()
	e.Slices.Posts.Flush()
	e.Slices.Notifications.Flush()
	e.Slices.Conversations.Flush()
	e.Slices.Collaborations.Flush()
	e.Slices.Feedback.Flush()
	e.Slices.FriendRequests.Flush()
	e.Slices.Theme.Flush()
	e.Auth.Flush()
	e.PushSub.Flush()
	e.History.Slice().Flush()
}

// RefreshAll reloads every slice from the remote store. This is what the
// pull-to-refresh gesture commits to.
func (e *Engine) RefreshAll(ctx context.Context) error {
	return e.Registry.ReloadAll(ctx)
}

// Invalidations yields keys whose slices changed through reconciliation or
// refresh; frontends use it to repaint.
func (e *Engine) Invalidations() <-chan string {
	return e.Registry.Invalidations()
}

// CurrentUserID returns the signed-in user id, "" when signed out.
func (e *Engine) CurrentUserID() string {
	session, err := e.identity.Session()
	if err != nil {
		return ""
	}
	return session.UserID
}

// SignOut delegates to the identity provider; the session-change handler
// re-keys the partitioned slices.
func (e *Engine) SignOut() error {
	return e.identity.SignOut()
}

// RegisterPushSubscription stores the signed-in user's push endpoint.
func (e *Engine) RegisterPushSubscription(endpoint, secret string) error {
	uid := e.CurrentUserID()
	if uid == "" {
		return errors.New("no signed-in user")
	}
	if endpoint == "" {
		return errors.New("endpoint is empty")
	}
	e.PushSub.Mutate(func(models.PushSubscription) models.PushSubscription {
		return models.PushSubscription{
			UserID:    uid,
			Endpoint:  endpoint,
			Secret:    secret,
			CreatedAt: time.Now().UTC(),
		}
	})
	return nil
}

// ClearPushSubscription removes the signed-in user's push endpoint.
func (e *Engine) ClearPushSubscription() {
	e.PushSub.Mutate(func(models.PushSubscription) models.PushSubscription {
		return models.PushSubscription{}
	})
}

// lookupSubscription resolves any user's push subscription straight from
// the remote store; only the signed-in user's subscription lives in a
// local slice.
func (e *Engine) lookupSubscription(ctx context.Context, userID string) (*models.PushSubscription, error) {
	row, err := e.store.Fetch(ctx, state.PartitionKey(state.KeyPushSubscriptions, userID))
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub models.PushSubscription
	if err := json.Unmarshal(row.Value, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription row: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, nil
	}
	return &sub, nil
}

// handleSessionChange re-keys the identity-scoped slices and re-subscribes
// the channel when someone signs in or out.
func (e *Engine) handleSessionChange(session *identity.Session) {
	uid := ""
	if session != nil {
		uid = session.UserID
	}
	e.log.Info("engine: session changed", "user", uid)

	ctx, cancel := context.WithTimeout(context.Background(), sessionSwitchTimeout)
	defer cancel()

	if err := e.History.ResetForIdentity(ctx, uid); err != nil {
		e.log.Warn("engine: history reset failed", "user", uid, "error", err)
	}
	if err := e.Auth.Rekey(ctx, state.PartitionKey(state.KeyAuth, uid)); err != nil {
		e.log.Warn("engine: auth rekey failed", "user", uid, "error", err)
	}
	if err := e.PushSub.Rekey(ctx, state.PartitionKey(state.KeyPushSubscriptions, uid)); err != nil {
		e.log.Warn("engine: push subscription rekey failed", "user", uid, "error", err)
	}
	if uid != "" {
		e.Auth.Mutate(func(models.AuthState) models.AuthState {
			return models.AuthState{UserID: uid, SignedInAt: time.Now().UTC()}
		})
	}

	// The subscription key set changed with the partitions.
	switch e.Channel.State() {
	case reconcile.StateSubscribed, reconcile.StateConnecting:
		if err := e.Channel.Reopen(ctx); err != nil {
			e.log.Warn("engine: channel reopen failed", "error", err)
		}
	}
}
