// Package realtime pushes session events to the owner's connected devices
// over websockets and relays location requests and reports.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/location"
	"github.com/gorilla/websocket"
)

// Frame types.
const (
	FrameWelcome         = "welcome"
	FrameEvent           = "event"
	FrameLocationRequest = "location.request"
	FrameLocationReport  = "location.report"
	FramePing            = "ping"
	FramePong            = "pong"
	FrameError           = "error"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Reporter accepts positions reported by devices.
type Reporter interface {
	Report(ownerID string, position location.Position) error
}

// HubOptions configures a Hub.
type HubOptions struct {
	Reporter   Reporter
	Logger     *slog.Logger
	PingPeriod time.Duration
	// CheckOrigin overrides the upgrader origin check; nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Hub tracks websocket clients per owner.
type Hub struct {
	reporter   Reporter
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

type client struct {
	ownerID string
	conn    *websocket.Conn
	send    chan Frame
}

var (
	_ events.Publisher   = (*Hub)(nil)
	_ location.Requester = (*Hub)(nil)
)

// NewHub constructs a Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		reporter:   opts.Reporter,
		logger:     opts.Logger.With("component", "realtime.Hub"),
		pingPeriod: opts.PingPeriod,
		pongWait:   opts.PingPeriod * 2,
		writeWait:  10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeOwner upgrades the request and serves the connection of an
// authenticated owner until it closes.
func (h *Hub) ServeOwner(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "owner_id", ownerID, "error", err)
		return
	}

	c := &client{ownerID: ownerID, conn: conn, send: make(chan Frame, 64)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket client connected", "owner_id", ownerID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.enqueue(c, h.frame(FrameWelcome, map[string]string{"owner_id": ownerID}))
	h.readPump(c)

	h.unregister(c)
	<-done
	h.logger.Info("websocket client disconnected", "owner_id", ownerID)
}

// Publish implements events.Publisher by forwarding the event to the owner's
// clients. Owners without connected clients are skipped.
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	h.broadcast(event.OwnerID, h.frame(FrameEvent, event))
	return nil
}

// RequestLocation implements location.Requester.
func (h *Hub) RequestLocation(ctx context.Context, ownerID string) (int, error) {
	return h.broadcast(ownerID, h.frame(FrameLocationRequest, nil)), nil
}

// Connected returns the number of clients of an owner.
func (h *Hub) Connected(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0)
	for _, owned := range h.clients {
		for c := range owned {
			conns = append(conns, c.conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	owned, ok := h.clients[c.ownerID]
	if !ok {
		owned = make(map[*client]struct{})
		h.clients[c.ownerID] = owned
	}
	owned[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owned := h.clients[c.ownerID]
	if _, ok := owned[c]; !ok {
		return
	}
	delete(owned, c)
	if len(owned) == 0 {
		delete(h.clients, c.ownerID)
	}
	close(c.send)
}

// broadcast queues frame for every client of the owner and returns how many
// accepted it. A client whose buffer is full is skipped.
func (h *Hub) broadcast(ownerID string, frame Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	queued := 0
	for c := range h.clients[ownerID] {
		select {
		case c.send <- frame:
			queued++
		default:
			h.logger.Warn("websocket client buffer full", "owner_id", ownerID, "frame", frame.Type)
		}
	}
	return queued
}

func (h *Hub) enqueue(c *client, frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.ownerID][c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) frame(frameType string, payload any) Frame {
	frame := Frame{Type: frameType, Timestamp: time.Now().Unix()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("encode websocket payload", "frame", frameType, "error", err)
		} else {
			frame.Payload = raw
		}
	}
	return frame
}

func (h *Hub) readPump(c *client) {
	defer c.conn.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "owner_id", c.ownerID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))

		switch frame.Type {
		case FramePing:
			h.enqueue(c, h.frame(FramePong, nil))
		case FrameLocationReport:
			if err := h.handleReport(c.ownerID, frame.Payload); err != nil {
				h.logger.Warn("location report rejected", "owner_id", c.ownerID, "error", err)
				h.enqueue(c, h.frame(FrameError, map[string]string{"message": err.Error()}))
			}
		default:
			h.logger.Debug("unknown websocket frame", "owner_id", c.ownerID, "frame", frame.Type)
		}
	}
}

func (h *Hub) handleReport(ownerID string, payload json.RawMessage) error {
	if h.reporter == nil {
		return fmt.Errorf("location reports are not accepted")
	}
	var position location.Position
	if err := json.Unmarshal(payload, &position); err != nil {
		return fmt.Errorf("decode location report: %w", err)
	}
	return h.reporter.Report(ownerID, position)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
