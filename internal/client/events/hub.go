// Package events fans LocalStore changes and sync state out to UI observers
// over WebSocket. Delivery is best effort: slow clients miss messages.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/dmitrijs2005/readkeeper/internal/client/store"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

const (
	TypeHello     = "hello"
	TypeSyncState = "sync_state"
)

const writeTimeout = 5 * time.Second

// Message is one JSON frame sent to clients.
type Message struct {
	Type       string    `json:"type"`
	BookmarkID string    `json:"bookmark_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
}

type bookmarkData struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Tags           []string `json:"tags"`
	Archived       bool     `json:"archived"`
	ContentVersion int64    `json:"content_version"`
}

type progressData struct {
	ScrollPercent float64   `json:"scroll_percent"`
	LastReadAt    time.Time `json:"last_read_at"`
	PendingPush   bool      `json:"pending_push"`
}

type syncData struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type Hub struct {
	logger  logging.Logger
	origins []string
	now     func() time.Time

	broadcast chan Message

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates a hub. origins are accepted Origin host patterns; empty
// allows same-origin requests only.
func NewHub(l logging.Logger, origins []string) *Hub {
	return &Hub{
		logger:    l.With("module", "events_hub"),
		origins:   origins,
		now:       time.Now,
		broadcast: make(chan Message, 100),
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// Broadcast queues msg for every client. It never blocks; a full queue
// drops the message.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn(context.Background(), "broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Observe converts a store event into a message. It is a store.Observer.
func (h *Hub) Observe(ev store.Event) {
	msg := Message{Type: string(ev.Type), BookmarkID: ev.BookmarkID, Timestamp: ev.At.UTC()}
	switch {
	case ev.Bookmark != nil:
		b := ev.Bookmark
		msg.Data = bookmarkData{Title: b.Title, URL: b.URL, Tags: b.Tags, Archived: b.Archived, ContentVersion: b.ContentVersion}
	case ev.Progress != nil:
		p := ev.Progress
		msg.Data = progressData{ScrollPercent: p.ScrollPercent, LastReadAt: p.LastReadAt.UTC(), PendingPush: p.PendingPush}
	}
	h.Broadcast(msg)
}

// SyncState announces a sync engine state change.
func (h *Hub) SyncState(state, reason string) {
	h.Broadcast(Message{Type: TypeSyncState, Data: syncData{State: state, Reason: reason}})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run delivers queued messages until ctx is done, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(ctx, msg)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(ctx, "failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug(ctx, "dropping client", "error", err)
			h.remove(c, websocket.StatusPolicyViolation, "write failed")
		}
	}
}

func (h *Hub) add(c *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(c *websocket.Conn, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close(code, reason)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
	for c := range clients {
		_ = c.Close(websocket.StatusGoingAway, "worker shutting down")
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	n := h.add(c)
	h.logger.Info(r.Context(), "client connected", "clients", n)

	hello, _ := json.Marshal(Message{Type: TypeHello, Timestamp: h.now().UTC()})
	wctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	_ = c.Write(wctx, websocket.MessageText, hello)
	cancel()

	// Clients never send; reading only detects the disconnect.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			h.remove(c, websocket.StatusNormalClosure, "")
			return
		}
	}
}

// Handler serves /events and /health.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /events", h)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": h.ClientCount()})
	})
	return mux
}

// ListenAndServe runs the hub and an HTTP server on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go h.Run(ctx)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	h.logger.Info(ctx, "events server listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
