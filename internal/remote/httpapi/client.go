// Package httpapi is the remote.Store client for a huddle relay: rows over
// plain HTTP, the changefeed over a websocket.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/huddle/internal/remote"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Client talks to one relay.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Dialer  *websocket.Dialer

	log *slog.Logger
}

// New creates a client for the relay at baseURL. token may be empty for an
// open relay.
func New(baseURL, token string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Dialer:  websocket.DefaultDialer,
		log:     log,
	}
}

func (c *Client) Fetch(ctx context.Context, key string) (*remote.Row, error) {
	var row remote.Row
	err := c.do(ctx, http.MethodGet, "/v1/rows/"+url.PathEscape(key), nil, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// putRowRequest mirrors the relay's PUT body, independently defined.
type putRowRequest struct {
	Value json.RawMessage `json:"value"`
}

type putRowResponse struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

func (c *Client) Upsert(ctx context.Context, key string, value json.RawMessage) (int64, error) {
	var resp putRowResponse
	err := c.do(ctx, http.MethodPut, "/v1/rows/"+url.PathEscape(key), putRowRequest{Value: value}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Changefeed dials the relay's websocket change stream for the given keys.
func (c *Client) Changefeed(ctx context.Context, keys []string) (remote.Feed, error) {
	wsURL, err := c.changesURL(keys)
	if err != nil {
		return nil, err
	}

	var header http.Header
	if c.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + c.Token}}
	}
	conn, resp, err := c.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial changes: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial changes: %w", err)
	}

	f := &feed{
		conn: conn,
		ch:   make(chan remote.Change, 64),
		log:  c.log,
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				f.Close()
			case <-f.stopped():
			}
		}()
	}
	go f.run()
	return f, nil
}

// Close satisfies remote.Store; the HTTP client holds no resources worth
// releasing.
func (c *Client) Close() error { return nil }

func (c *Client) changesURL(keys []string) (string, error) {
	u, err := url.Parse(c.BaseURL + "/v1/changes")
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	for _, k := range keys {
		q.Add("key", k)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// apiError mirrors the relay's structured error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Error.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Error.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", remote.ErrNotFound, apiErr.Error.Message)
			default:
				return &apiErr.Error
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type feed struct {
	conn *websocket.Conn
	ch   chan remote.Change
	log  *slog.Logger

	mu        sync.Mutex
	stop      chan struct{}
	closed    bool
	requested bool // Close was called locally
	err       error
}

func (f *feed) stopped() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop == nil {
		f.stop = make(chan struct{})
	}
	return f.stop
}

func (f *feed) run() {
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPingHandler(func(appData string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		f.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return f.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		var change remote.Change
		if err := f.conn.ReadJSON(&change); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.finish(nil)
			} else {
				f.finish(fmt.Errorf("read change: %w", err))
			}
			return
		}
		select {
		case f.ch <- change:
		default:
			f.log.Debug("httpapi feed: dropping change", "key", change.Key, "version", change.Version)
		}
	}
}

func (f *feed) finish(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
	stop := f.stop
	f.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	f.conn.Close()
}

func (f *feed) Events() <-chan remote.Change { return f.ch }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// A close we initiated ourselves is clean regardless of what the
	// read loop saw on the way down.
	if f.requested {
		return nil
	}
	return f.err
}

func (f *feed) Close() error {
	f.mu.Lock()
	f.requested = true
	f.mu.Unlock()

	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return f.conn.Close()
}
