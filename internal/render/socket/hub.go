// Package socket renders notifications to connected websocket clients, such
// as a desktop tray or an in-page banner. The hub holds a single visible slot:
// each notification replaces the previous one for every client.
package socket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-push-bridge/internal/render"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

const (
	FrameChannel      = "channel"
	FrameNotification = "notification"

	sendBuffer   = 16
	writeTimeout = 10 * time.Second
)

// Frame is one JSON message written to a client.
type Frame struct {
	Type    string          `json:"type"`
	Channel *render.Channel `json:"channel,omitempty"`
	SlotID  string          `json:"slotId,omitempty"`
	Title   string          `json:"title,omitempty"`
	Body    string          `json:"body,omitempty"`
}

type client struct {
	id   string
	send chan Frame
}

type Hub struct {
	profile  render.Profile
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	current *Frame
}

var _ bridge.Renderer = (*Hub)(nil)

func NewHub(profile render.Profile, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		profile: profile,
		clients: make(map[string]*client),
		logger:  logger.With("component", "SocketHub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) channelFrame() Frame {
	ch := h.profile.Channel
	return Frame{Type: FrameChannel, Channel: &ch}
}

// Render replaces the slot and pushes it to every connected client. A client
// whose buffer is full misses the frame; it still gets the newest one next time.
func (h *Hub) Render(_ context.Context, req bridge.NotificationRequest) error {
	if err := h.profile.Validate(); err != nil {
		return err
	}
	content := render.Content(req)
	frame := Frame{
		Type:   FrameNotification,
		SlotID: h.profile.SlotID,
		Title:  content.Title,
		Body:   content.Body,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = &frame
	for _, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("Client send buffer full; dropping frame", "client_id", c.id)
		}
	}
	h.logger.Debug("Notification broadcast", "clients", len(h.clients))
	return nil
}

// Current returns the notification occupying the slot, if any.
func (h *Hub) Current() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return Frame{}, false
	}
	return *h.current, true
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// register queues the channel declaration ahead of anything else, then the
// current slot, so the client sets up its channel before first use.
func (h *Hub) register() *client {
	c := &client{id: uuid.NewString(), send: make(chan Frame, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	c.send <- h.channelFrame()
	if h.current != nil {
		c.send <- *h.current
	}
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams frames until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	c := h.register()
	defer h.unregister(c)
	h.logger.Info("Client connected", "client_id", c.id)

	// Inbound frames are ignored; reading only detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Info("Client disconnected", "client_id", c.id)
			return
		case <-r.Context().Done():
			return
		case f, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(f); err != nil {
				h.logger.Warn("Write to client failed", "client_id", c.id, "err", err)
				return
			}
		}
	}
}
