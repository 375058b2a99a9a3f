// Package push delivers best-effort push notifications to a user's
// registered endpoint. Delivery is fire-and-forget: failures are logged by
// callers and never surface into the workflow that triggered them.
package push

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcus/huddle/internal/metrics"
	"github.com/marcus/huddle/internal/models"
)

// Notifier delivers one notification to one user. Implementations must not
// block the caller's workflow path beyond request timeouts.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body, link string) error
}

// SubscriptionLookup resolves a user's registered push subscription.
// Returning nil with no error means the user has no subscription, which is
// not a delivery failure.
type SubscriptionLookup func(ctx context.Context, userID string) (*models.PushSubscription, error)

// Payload is the POST body delivered to a subscription endpoint.
type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Link   string `json:"link,omitempty"`
	SentAt string `json:"sent_at"`
}

// WebPush posts signed JSON payloads to each recipient's endpoint.
type WebPush struct {
	lookup SubscriptionLookup
	client *http.Client
	log    *slog.Logger
}

// NewWebPush builds a notifier over the given subscription lookup.
func NewWebPush(lookup SubscriptionLookup, log *slog.Logger) *WebPush {
	if log == nil {
		log = slog.Default()
	}
	return &WebPush{
		lookup: lookup,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Notify resolves userID's subscription and POSTs the payload to it.
// A user without a subscription is a silent no-op.
func (w *WebPush) Notify(ctx context.Context, userID, title, body, link string) error {
	sub, err := w.lookup(ctx, userID)
	if err != nil {
		metrics.PushDispatches.WithLabelValues("lookup_error").Inc()
		return fmt.Errorf("lookup subscription for %s: %w", userID, err)
	}
	if sub == nil || sub.Endpoint == "" {
		metrics.PushDispatches.WithLabelValues("no_subscription").Inc()
		w.log.Debug("push: no subscription", "user", userID)
		return nil
	}

	data, err := json.Marshal(Payload{
		Title:  title,
		Body:   body,
		Link:   link,
		SentAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sub.Endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "huddle-push/1")

	unixTS := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Huddle-Timestamp", unixTS)
	if sub.Secret != "" {
		req.Header.Set("X-Huddle-Signature", "sha256="+Sign(sub.Secret, unixTS, data))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.PushDispatches.WithLabelValues("error").Inc()
		return fmt.Errorf("POST %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.PushDispatches.WithLabelValues("error").Inc()
		return fmt.Errorf("POST %s: status %d", sub.Endpoint, resp.StatusCode)
	}
	metrics.PushDispatches.WithLabelValues("ok").Inc()
	return nil
}

// Sign computes the hex HMAC-SHA256 signature over timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Drop is a Notifier that discards everything. Used when push is disabled
// and in tests.
type Drop struct{}

func (Drop) Notify(context.Context, string, string, string, string) error { return nil }
