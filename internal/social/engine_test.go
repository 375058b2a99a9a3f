package social

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/marcus/huddle/internal/bus"
	"github.com/marcus/huddle/internal/models"
	"github.com/marcus/huddle/internal/remote/memory"
	"github.com/marcus/huddle/internal/state"
)

type captureNotifier struct {
	mu    sync.Mutex
	calls []string // recipient ids in dispatch order
	done  chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 16)}
}

func (c *captureNotifier) Notify(ctx context.Context, userID, title, body, link string) error {
	c.mu.Lock()
	c.calls = append(c.calls, userID)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *captureNotifier) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no push dispatched")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type fixture struct {
	engine   *Engine
	slices   Slices
	notifier *captureNotifier
	events   *bus.Bus
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	store := memory.New(nil)
	t.Cleanup(func() { store.Close() })

	slices := Slices{
		Users:          state.NewSlice(store, state.KeyUsers, func() []models.User { return []models.User{} }, nil),
		Posts:          state.NewSlice(store, state.KeyPosts, func() []models.Post { return []models.Post{} }, nil),
		Notifications:  state.NewSlice(store, state.KeyNotifications, func() []models.Notification { return []models.Notification{} }, nil),
		Conversations:  state.NewSlice(store, state.KeyConversations, func() []models.Conversation { return []models.Conversation{} }, nil),
		Collaborations: state.NewSlice(store, state.KeyCollaborations, func() []models.Collaboration { return []models.Collaboration{} }, nil),
		Feedback:       state.NewSlice(store, state.KeyFeedback, func() []models.Feedback { return []models.Feedback{} }, nil),
		FriendRequests: state.NewSlice(store, state.KeyFriendRequests, func() []models.FriendRequest { return []models.FriendRequest{} }, nil),
		Theme:          state.NewSlice(store, state.KeyTheme, func() models.Theme { return models.Theme{Mode: models.ThemeSystem} }, nil),
	}
	for _, s := range []interface{ Hydrate(context.Context) error }{
		slices.Users, slices.Posts, slices.Notifications, slices.Conversations,
		slices.Collaborations, slices.Feedback, slices.FriendRequests, slices.Theme,
	} {
		if err := s.Hydrate(context.Background()); err != nil {
			t.Fatalf("hydrate: %v", err)
		}
	}

	if len(userIDs) > 0 {
		users := make([]models.User, 0, len(userIDs))
		for _, id := range userIDs {
			users = append(users, models.User{ID: id, Username: id, CreatedAt: time.Now().UTC()})
		}
		slices.Users.Mutate(func([]models.User) []models.User { return users })
	}

	notifier := newCaptureNotifier()
	events := bus.New()
	engine := New(Options{
		Slices:   slices,
		Notifier: notifier,
		Events:   events,
	})
	return &fixture{engine: engine, slices: slices, notifier: notifier, events: events}
}

func isValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func TestSendFriendRequestSinglePending(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	req, err := f.engine.SendFriendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendFriendRequest() error = %v", err)
	}
	if req.Status != models.RequestPending {
		t.Errorf("request status = %q, want pending", req.Status)
	}

	// Same direction again.
	if _, err := f.engine.SendFriendRequest(ctx, "u1", "u2"); !isValidation(err) {
		t.Errorf("duplicate SendFriendRequest() error = %v, want validation", err)
	}
	// Reverse direction: still one pending request for the unordered pair.
	if _, err := f.engine.SendFriendRequest(ctx, "u2", "u1"); !isValidation(err) {
		t.Errorf("reverse SendFriendRequest() error = %v, want validation", err)
	}

	pending := 0
	for _, r := range f.slices.FriendRequests.Get() {
		if r.Status == models.RequestPending && r.LinksPair("u1", "u2") {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("pending requests for pair = %d, want 1", pending)
	}
}

func TestSendFriendRequestToSelf(t *testing.T) {
	f := newFixture(t, "u1")
	if _, err := f.engine.SendFriendRequest(context.Background(), "u1", "u1"); !isValidation(err) {
		t.Errorf("self request error = %v, want validation", err)
	}
}

func TestSendFriendRequestNotifiesRecipient(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	toasts, cancel := f.events.Subscribe("u2", 4)
	defer cancel()

	req, err := f.engine.SendFriendRequest(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("SendFriendRequest() error = %v", err)
	}

	got := f.engine.NotificationsFor("u2")
	if len(got) != 1 {
		t.Fatalf("recipient notifications = %d, want 1", len(got))
	}
	n := got[0]
	if n.Type != models.NotifyFriendRequestReceived || n.ActorID != "u1" || n.EntityID != req.ID {
		t.Errorf("notification = %+v", n)
	}
	if len(f.engine.NotificationsFor("u1")) != 0 {
		t.Error("sender received a notification for their own action")
	}

	if recipient := f.notifier.wait(t); recipient != "u2" {
		t.Errorf("push recipient = %q, want u2", recipient)
	}
	select {
	case ev := <-toasts:
		if ev.Name != string(models.NotifyFriendRequestReceived) {
			t.Errorf("toast event = %q", ev.Name)
		}
	default:
		t.Error("no toast published for recipient")
	}
}

func TestAcceptFriendRequestLinksBothUsers(t *testing.T) {
	f := newFixture(t, "u1", "u5")
	ctx := context.Background()

	req, err := f.engine.SendFriendRequest(ctx, "u1", "u5")
	if err != nil {
		t.Fatalf("SendFriendRequest() error = %v", err)
	}
	f.notifier.wait(t)

	if err := f.engine.AcceptFriendRequest(ctx, "u5", req.ID); err != nil {
		t.Fatalf("AcceptFriendRequest() error = %v", err)
	}

	u1, _ := f.engine.User("u1")
	u5, _ := f.engine.User("u5")
	if !u1.HasFriend("u5") || !u5.HasFriend("u1") {
		t.Errorf("friendship not symmetric: u1=%v u5=%v", u1.FriendIDs, u5.FriendIDs)
	}

	got, _ := f.engine.findRequest(req.ID)
	if got.Status != models.RequestAccepted {
		t.Errorf("request status = %q, want accepted", got.Status)
	}

	// The acceptance notification goes to the original sender.
	senderNotifs := f.engine.NotificationsFor("u1")
	if len(senderNotifs) != 1 {
		t.Fatalf("sender notifications = %d, want 1", len(senderNotifs))
	}
	n := senderNotifs[0]
	if n.Type != models.NotifyFriendRequestAccepted || n.ActorID != "u5" {
		t.Errorf("acceptance notification = %+v", n)
	}
	if recipient := f.notifier.wait(t); recipient != "u1" {
		t.Errorf("push recipient = %q, want u1", recipient)
	}
}

func TestAcceptFriendRequestOnlyRecipient(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	req, _ := f.engine.SendFriendRequest(ctx, "u1", "u2")

	if err := f.engine.AcceptFriendRequest(ctx, "u1", req.ID); !isValidation(err) {
		t.Errorf("sender accepting own request error = %v, want validation", err)
	}
}

func TestAcceptCompensatesWhenLinkingFails(t *testing.T) {
	// A request from a user who no longer exists in the directory: the
	// accept marks it, fails to link, and must roll the mark back.
	f := newFixture(t, "u1")
	f.slices.FriendRequests.Mutate(func([]models.FriendRequest) []models.FriendRequest {
		return []models.FriendRequest{{
			ID:         "req-ghost",
			FromUserID: "ghost",
			ToUserID:   "u1",
			Status:     models.RequestPending,
			CreatedAt:  time.Now().UTC(),
		}}
	})

	err := f.engine.AcceptFriendRequest(context.Background(), "u1", "req-ghost")
	if err == nil {
		t.Fatal("AcceptFriendRequest() error = nil, want link failure")
	}

	got, _ := f.engine.findRequest("req-ghost")
	if got.Status != models.RequestPending {
		t.Errorf("request status after rollback = %q, want pending", got.Status)
	}
	u1, _ := f.engine.User("u1")
	if len(u1.FriendIDs) != 0 {
		t.Errorf("u1 friends after rollback = %v, want none", u1.FriendIDs)
	}
	if len(f.engine.NotificationsFor("ghost")) != 0 {
		t.Error("acceptance notification produced despite rollback")
	}
}

func TestDeclineFriendRequestIsSilent(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	req, _ := f.engine.SendFriendRequest(ctx, "u1", "u2")
	f.notifier.wait(t)

	if err := f.engine.DeclineFriendRequest("u2", req.ID); err != nil {
		t.Fatalf("DeclineFriendRequest() error = %v", err)
	}
	got, _ := f.engine.findRequest(req.ID)
	if got.Status != models.RequestDeclined {
		t.Errorf("request status = %q, want declined", got.Status)
	}
	if len(f.engine.NotificationsFor("u1")) != 0 {
		t.Error("decline notified the sender")
	}
	u1, _ := f.engine.User("u1")
	if u1.HasFriend("u2") {
		t.Error("decline linked the users")
	}
}

func TestCancelFriendRequestDismissesNotification(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	req, _ := f.engine.SendFriendRequest(ctx, "u1", "u2")
	f.notifier.wait(t)

	if err := f.engine.CancelFriendRequest("u2", req.ID); !isValidation(err) {
		t.Errorf("recipient cancelling error = %v, want validation", err)
	}
	if err := f.engine.CancelFriendRequest("u1", req.ID); err != nil {
		t.Fatalf("CancelFriendRequest() error = %v", err)
	}
	if _, ok := f.engine.findRequest(req.ID); ok {
		t.Error("cancelled request still present")
	}
	// The record stays (only isRead flips); no unread alert points at the
	// withdrawn request.
	got := f.engine.NotificationsFor("u2")
	if len(got) != 1 || !got[0].IsRead {
		t.Errorf("recipient notifications after cancel = %+v, want one read record", got)
	}
	if unread := f.engine.UnreadCount("u2"); unread != 0 {
		t.Errorf("UnreadCount(u2) after cancel = %d, want 0", unread)
	}
}

func TestSendFriendRequestBlockedAfterDecline(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	req, err := f.engine.SendFriendRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("SendFriendRequest() error = %v", err)
	}
	if err := f.engine.DeclineFriendRequest("u2", req.ID); err != nil {
		t.Fatalf("DeclineFriendRequest() error = %v", err)
	}

	// Declined is terminal for the pair: the record keeps blocking in both
	// directions.
	if _, err := f.engine.SendFriendRequest(ctx, "u1", "u2"); !isValidation(err) {
		t.Errorf("resend after decline error = %v, want validation", err)
	}
	if _, err := f.engine.SendFriendRequest(ctx, "u2", "u1"); !isValidation(err) {
		t.Errorf("reverse send after decline error = %v, want validation", err)
	}
	if got := len(f.slices.FriendRequests.Get()); got != 1 {
		t.Errorf("request records for pair = %d, want 1", got)
	}
}

func TestRemoveFriendSeversBothDirections(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	req, _ := f.engine.SendFriendRequest(ctx, "u1", "u2")
	if err := f.engine.AcceptFriendRequest(ctx, "u2", req.ID); err != nil {
		t.Fatalf("AcceptFriendRequest() error = %v", err)
	}

	if err := f.engine.RemoveFriend("u1", "u2"); err != nil {
		t.Fatalf("RemoveFriend() error = %v", err)
	}
	u1, _ := f.engine.User("u1")
	u2, _ := f.engine.User("u2")
	if u1.HasFriend("u2") || u2.HasFriend("u1") {
		t.Error("friendship not fully severed")
	}

	if err := f.engine.RemoveFriend("u1", "u2"); !isValidation(err) {
		t.Errorf("second RemoveFriend() error = %v, want validation", err)
	}
}

func TestRemoveFriendStripsRequestRecords(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	req, _ := f.engine.SendFriendRequest(ctx, "u1", "u2")
	if err := f.engine.AcceptFriendRequest(ctx, "u2", req.ID); err != nil {
		t.Fatalf("AcceptFriendRequest() error = %v", err)
	}
	if err := f.engine.RemoveFriend("u1", "u2"); err != nil {
		t.Fatalf("RemoveFriend() error = %v", err)
	}

	// Back to a clean slate: no record links the pair anymore, so a fresh
	// request can start the cycle over.
	for _, r := range f.slices.FriendRequests.Get() {
		if r.LinksPair("u1", "u2") {
			t.Fatalf("request record %s (status %s) survived RemoveFriend", r.ID, r.Status)
		}
	}
	again, err := f.engine.SendFriendRequest(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("SendFriendRequest() after unfriend error = %v", err)
	}
	if again.Status != models.RequestPending {
		t.Errorf("new request status = %q, want pending", again.Status)
	}
}

func TestToggleBlockSeversAndWithdraws(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	if _, err := f.engine.SendFriendRequest(ctx, "u2", "u1"); err != nil {
		t.Fatalf("SendFriendRequest() error = %v", err)
	}
	f.notifier.wait(t)

	blocked, err := f.engine.ToggleBlockUser("u1", "u2")
	if err != nil {
		t.Fatalf("ToggleBlockUser() error = %v", err)
	}
	if !blocked {
		t.Error("ToggleBlockUser() = false, want blocked")
	}

	u1, _ := f.engine.User("u1")
	if !u1.HasBlocked("u2") {
		t.Error("u2 not in u1's block list")
	}
	for _, r := range f.slices.FriendRequests.Get() {
		if r.LinksPair("u1", "u2") {
			t.Errorf("request record (status %s) survived the block", r.Status)
		}
	}
	if got := f.engine.UnreadCount("u1"); got != 0 {
		t.Errorf("unread request alerts after the block = %d, want 0", got)
	}

	// Blocked members cannot open a new request or conversation.
	if _, err := f.engine.SendFriendRequest(ctx, "u2", "u1"); !isValidation(err) {
		t.Errorf("blocked SendFriendRequest() error = %v, want validation", err)
	}
	if _, err := f.engine.SendMessage(ctx, "u2", "u1", "hi"); !isValidation(err) {
		t.Errorf("blocked SendMessage() error = %v, want validation", err)
	}

	// Toggling again unblocks.
	blocked, err = f.engine.ToggleBlockUser("u1", "u2")
	if err != nil {
		t.Fatalf("second ToggleBlockUser() error = %v", err)
	}
	if blocked {
		t.Error("second ToggleBlockUser() = true, want unblocked")
	}
}

func TestCreatePostNewestFirst(t *testing.T) {
	f := newFixture(t, "u1")

	if _, err := f.engine.CreatePost("u1", "   "); !isValidation(err) {
		t.Errorf("empty post error = %v, want validation", err)
	}
	first, err := f.engine.CreatePost("u1", "first")
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	second, err := f.engine.CreatePost("u1", "second")
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	posts := f.slices.Posts.Get()
	if len(posts) != 2 {
		t.Fatalf("posts = %d, want 2", len(posts))
	}
	if posts[0].ID != second.ID || posts[1].ID != first.ID {
		t.Error("posts not ordered newest first")
	}
}

func TestTogglePostLikeNotifiesAuthorOnce(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	post, _ := f.engine.CreatePost("u1", "hello")

	liked, err := f.engine.TogglePostLike(ctx, "u2", post.ID)
	if err != nil {
		t.Fatalf("TogglePostLike() error = %v", err)
	}
	if !liked {
		t.Error("TogglePostLike() = false, want liked")
	}
	notifs := f.engine.NotificationsFor("u1")
	if len(notifs) != 1 || notifs[0].Type != models.NotifyPostLike {
		t.Errorf("author notifications = %+v, want one post_like", notifs)
	}

	// Unlike is silent.
	liked, err = f.engine.TogglePostLike(ctx, "u2", post.ID)
	if err != nil {
		t.Fatalf("TogglePostLike() error = %v", err)
	}
	if liked {
		t.Error("second toggle = true, want unliked")
	}
	if got := len(f.engine.NotificationsFor("u1")); got != 1 {
		t.Errorf("author notifications after unlike = %d, want 1", got)
	}
}

func TestLikeOwnPostDoesNotNotify(t *testing.T) {
	f := newFixture(t, "u1")
	post, _ := f.engine.CreatePost("u1", "own post")

	if _, err := f.engine.TogglePostLike(context.Background(), "u1", post.ID); err != nil {
		t.Fatalf("TogglePostLike() error = %v", err)
	}
	if got := len(f.engine.NotificationsFor("u1")); got != 0 {
		t.Errorf("self-like produced %d notifications, want 0", got)
	}
}

func TestCollaborationInterestRules(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	collab, err := f.engine.CreateCollaboration("u1", "Build a boat", "river crossing")
	if err != nil {
		t.Fatalf("CreateCollaboration() error = %v", err)
	}

	// Authors cannot express interest in their own collaboration.
	if _, err := f.engine.ToggleCollaborationInterest(ctx, "u1", collab.ID); !isValidation(err) {
		t.Errorf("author interest error = %v, want validation", err)
	}

	interested, err := f.engine.ToggleCollaborationInterest(ctx, "u2", collab.ID)
	if err != nil {
		t.Fatalf("ToggleCollaborationInterest() error = %v", err)
	}
	if !interested {
		t.Error("interest = false, want true")
	}
	notifs := f.engine.NotificationsFor("u1")
	if len(notifs) != 1 || notifs[0].Type != models.NotifyCollabInterest {
		t.Errorf("author notifications = %+v, want one collab_interest", notifs)
	}

	if err := f.engine.CloseCollaboration("u2", collab.ID); !isValidation(err) {
		t.Errorf("non-author close error = %v, want validation", err)
	}
	if err := f.engine.CloseCollaboration("u1", collab.ID); err != nil {
		t.Fatalf("CloseCollaboration() error = %v", err)
	}

	// Withdrawing interest from a closed collaboration still works.
	interested, err = f.engine.ToggleCollaborationInterest(ctx, "u2", collab.ID)
	if err != nil {
		t.Fatalf("withdraw from closed error = %v", err)
	}
	if interested {
		t.Error("withdraw = true, want false")
	}
	// Adding interest to a closed collaboration is rejected.
	if _, err := f.engine.ToggleCollaborationInterest(ctx, "u2", collab.ID); !isValidation(err) {
		t.Errorf("interest in closed error = %v, want validation", err)
	}
}

func TestConversationUniquePerPair(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()

	c1, err := f.engine.ViewConversation("u1", "u2")
	if err != nil {
		t.Fatalf("ViewConversation() error = %v", err)
	}
	c2, err := f.engine.ViewConversation("u2", "u1")
	if err != nil {
		t.Fatalf("reverse ViewConversation() error = %v", err)
	}
	if c1.ID != c2.ID {
		t.Errorf("conversation ids differ: %s vs %s", c1.ID, c2.ID)
	}

	if _, err := f.engine.SendMessage(ctx, "u1", "u2", "one"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if _, err := f.engine.SendMessage(ctx, "u2", "u1", "two"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if got := len(f.slices.Conversations.Get()); got != 1 {
		t.Fatalf("conversations = %d, want 1", got)
	}
	conv, _ := f.engine.Conversation("u1", "u2")
	if len(conv.Messages) != 2 || conv.Messages[0].Body != "one" || conv.Messages[1].Body != "two" {
		t.Errorf("messages out of order: %+v", conv.Messages)
	}
}

func TestConversationFolderByFriendship(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	req, _ := f.engine.SendFriendRequest(ctx, "u1", "u2")
	if err := f.engine.AcceptFriendRequest(ctx, "u2", req.ID); err != nil {
		t.Fatalf("AcceptFriendRequest() error = %v", err)
	}

	friendConv, err := f.engine.ViewConversation("u1", "u2")
	if err != nil {
		t.Fatalf("ViewConversation(friend) error = %v", err)
	}
	if friendConv.Folder != models.FolderContactList {
		t.Errorf("friend conversation folder = %q, want contact_list", friendConv.Folder)
	}

	strangerConv, err := f.engine.ViewConversation("u1", "u3")
	if err != nil {
		t.Fatalf("ViewConversation(stranger) error = %v", err)
	}
	if strangerConv.Folder != models.FolderGeneral {
		t.Errorf("stranger conversation folder = %q, want general", strangerConv.Folder)
	}
}

func TestSendMessageNotifiesPeer(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	msg, err := f.engine.SendMessage(context.Background(), "u1", "u2", "are you around?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.SenderID != "u1" {
		t.Errorf("message sender = %q, want u1", msg.SenderID)
	}
	notifs := f.engine.NotificationsFor("u2")
	if len(notifs) != 1 || notifs[0].Type != models.NotifyNewMessage {
		t.Errorf("peer notifications = %+v, want one new_message", notifs)
	}
	if got := len(f.engine.NotificationsFor("u1")); got != 0 {
		t.Errorf("sender notifications = %d, want 0", got)
	}
}

func TestViewConversationReadsMessageNotifications(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()
	if _, err := f.engine.SendMessage(ctx, "u2", "u1", "ping"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if _, err := f.engine.SendMessage(ctx, "u2", "u1", "ping again"); err != nil {
		t.Fatalf("second SendMessage() error = %v", err)
	}
	if _, err := f.engine.SendMessage(ctx, "u3", "u1", "other thread"); err != nil {
		t.Fatalf("third SendMessage() error = %v", err)
	}
	if got := f.engine.UnreadCount("u1"); got != 3 {
		t.Fatalf("UnreadCount(u1) = %d, want 3", got)
	}

	// Opening the thread reads the peer's messages; the other thread's
	// alert stays unread.
	if _, err := f.engine.ViewConversation("u1", "u2"); err != nil {
		t.Fatalf("ViewConversation() error = %v", err)
	}
	for _, n := range f.engine.NotificationsFor("u1") {
		if n.ActorID == "u2" && n.Type == models.NotifyNewMessage && !n.IsRead {
			t.Errorf("new_message notification %s from u2 still unread", n.ID)
		}
	}
	if got := f.engine.UnreadCount("u1"); got != 1 {
		t.Errorf("UnreadCount(u1) after view = %d, want 1", got)
	}
}

func TestMessagePreviewKeepsRuneBoundaries(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	body := strings.Repeat("é", 100)
	if _, err := f.engine.SendMessage(context.Background(), "u1", "u2", body); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	notifs := f.engine.NotificationsFor("u2")
	if len(notifs) != 1 {
		t.Fatalf("peer notifications = %d, want 1", len(notifs))
	}
	if !utf8.ValidString(notifs[0].Message) {
		t.Errorf("preview is not valid UTF-8: %q", notifs[0].Message)
	}
	if !strings.HasSuffix(notifs[0].Message, "...") {
		t.Errorf("long body preview not truncated: %q", notifs[0].Message)
	}
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t, "u1")
	if _, err := f.engine.SubmitFeedback("u1", "bug", "  "); !isValidation(err) {
		t.Errorf("empty feedback error = %v, want validation", err)
	}
	fb, err := f.engine.SubmitFeedback("u1", "bug", "the feed flickers")
	if err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	if fb.Category != "bug" || fb.UserID != "u1" {
		t.Errorf("feedback = %+v", fb)
	}
	if got := len(f.slices.Feedback.Get()); got != 1 {
		t.Errorf("feedback entries = %d, want 1", got)
	}
}

func TestMarkNotificationsRead(t *testing.T) {
	f := newFixture(t, "u1", "u2", "u3")
	ctx := context.Background()
	f.engine.SendFriendRequest(ctx, "u2", "u1")
	f.engine.SendFriendRequest(ctx, "u3", "u1")
	f.engine.SendFriendRequest(ctx, "u2", "u3")

	if got := f.engine.UnreadCount("u1"); got != 2 {
		t.Fatalf("UnreadCount(u1) = %d, want 2", got)
	}

	notifs := f.engine.NotificationsFor("u1")
	if got := f.engine.MarkNotificationsRead("u1", []string{notifs[0].ID}); got != 1 {
		t.Errorf("MarkNotificationsRead(one) = %d, want 1", got)
	}
	if got := f.engine.UnreadCount("u1"); got != 1 {
		t.Errorf("UnreadCount(u1) = %d, want 1", got)
	}

	// Marking all only touches the caller's notifications.
	if got := f.engine.MarkNotificationsRead("u1", nil); got != 1 {
		t.Errorf("MarkNotificationsRead(all) = %d, want 1", got)
	}
	if got := f.engine.UnreadCount("u3"); got != 1 {
		t.Errorf("UnreadCount(u3) = %d, want 1 (untouched)", got)
	}
}

func TestUpdateProfileAndTheme(t *testing.T) {
	f := newFixture(t, "u1")
	if err := f.engine.UpdateProfile("u1", "ada", "Ada", "building things"); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	u, _ := f.engine.User("u1")
	if u.Username != "ada" || u.DisplayName != "Ada" || u.Bio != "building things" {
		t.Errorf("profile = %+v", u)
	}

	if got := f.engine.SetTheme("dark"); got != models.ThemeDark {
		t.Errorf("SetTheme(dark) = %q, want dark", got)
	}
	if got := f.engine.Theme(); got != models.ThemeDark {
		t.Errorf("Theme() = %q, want dark", got)
	}
	if got := f.engine.SetTheme("sepia"); got != models.ThemeSystem {
		t.Errorf("SetTheme(sepia) = %q, want system fallback", got)
	}
}

func TestUpdateProfileRejectsTakenUsername(t *testing.T) {
	f := newFixture(t, "u1", "u2")

	if err := f.engine.UpdateProfile("u1", "  ", "Ada", ""); !isValidation(err) {
		t.Errorf("empty username error = %v, want validation", err)
	}
	// The fixture names users after their ids; case differences do not
	// free a name up.
	if err := f.engine.UpdateProfile("u1", "U2", "Ada", ""); !isValidation(err) {
		t.Errorf("taken username error = %v, want validation", err)
	}
	u, _ := f.engine.User("u1")
	if u.Username != "u1" {
		t.Errorf("username after rejected update = %q, want u1", u.Username)
	}

	// Re-claiming your own name is fine.
	if err := f.engine.UpdateProfile("u1", "u1", "Ada", ""); err != nil {
		t.Errorf("same-name UpdateProfile() error = %v", err)
	}
}
