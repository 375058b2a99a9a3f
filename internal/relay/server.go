// Package relay is the dev server that backs the api remote driver: a thin
// HTTP facade over any remote.Store plus a websocket endpoint that streams
// the store's changefeed to connected clients.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus/huddle/internal/remote"
)

const (
	maxRowBytes   = 1 << 20 // 1 MiB per row value
	writeWait     = 10 * time.Second
	pingInterval  = 30 * time.Second
	pongWait      = 60 * time.Second
	defaultListen = ":8484"
)

// Config parameterizes the relay.
type Config struct {
	// ListenAddr is the TCP address to serve on. Defaults to :8484.
	ListenAddr string
	// Token, when set, is required as a Bearer token on every /v1 route.
	Token string
}

// Server serves the relay API over one remote store.
type Server struct {
	cfg      Config
	store    remote.Store
	log      *slog.Logger
	http     *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds a relay over store.
func NewServer(cfg Config, store remote.Store, log *slog.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListen
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler builds the full route table. Exposed for httptest harnesses.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metricz", promhttp.Handler())

	mux.HandleFunc("GET /v1/rows/{key}", s.requireAuth(s.handleGetRow))
	mux.HandleFunc("PUT /v1/rows/{key}", s.requireAuth(s.handlePutRow))
	mux.HandleFunc("GET /v1/changes", s.requireAuth(s.handleChanges))

	return chain(mux, recoveryMiddleware, metricsMiddleware, logMiddleware(s.log))
}

// Start begins listening (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("relay: http server", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	row, err := s.store.Fetch(r.Context(), key)
	if errors.Is(err, remote.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no row for key "+key)
		return
	}
	if err != nil {
		s.log.Error("relay: fetch row", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// PutRowRequest is the body of PUT /v1/rows/{key}.
type PutRowRequest struct {
	Value json.RawMessage `json:"value"`
}

// PutRowResponse acknowledges a row write with its assigned version.
type PutRowResponse struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

func (s *Server) handlePutRow(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRowBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "row value too large")
		return
	}
	var req PutRowRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be {\"value\": <json>}")
		return
	}

	version, err := s.store.Upsert(r.Context(), key, req.Value)
	if err != nil {
		s.log.Error("relay: upsert row", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "upsert failed")
		return
	}
	writeJSON(w, http.StatusOK, PutRowResponse{Key: key, Version: version})
}

// handleChanges upgrades to a websocket and streams the store's changefeed,
// optionally filtered by repeated ?key= parameters.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	keys := r.URL.Query()["key"]

	feed, err := s.store.Changefeed(r.Context(), keys)
	if err != nil {
		s.log.Error("relay: open changefeed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "changefeed unavailable")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		feed.Close()
		// Upgrade already wrote the error response.
		return
	}
	s.log.Debug("relay: change subscriber connected", "remote", conn.RemoteAddr(), "keys", len(keys))

	// Reader goroutine notices the peer going away; the client never
	// sends data frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		feed.Close()
		conn.Close()
	}()

	for {
		select {
		case change, ok := <-feed.Events():
			if !ok {
				if err := feed.Err(); err != nil {
					s.log.Warn("relay: changefeed failed", "error", err)
				}
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
