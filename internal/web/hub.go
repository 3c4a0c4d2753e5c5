package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/scheduler"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 8
)

// StatusSource publishes scheduler status changes.
type StatusSource interface {
	Subscribe() (<-chan scheduler.Status, func())
}

// statusMessage is the frame pushed to websocket clients.
type statusMessage struct {
	Type   string           `json:"type"`
	Status scheduler.Status `json:"status"`
}

// upgrader keeps gorilla's default same-origin check.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans status updates out to connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{clients: make(map[*wsClient]struct{}), log: log}
}

// Run forwards every status from src until ctx is cancelled, then
// disconnects all clients.
func (h *Hub) Run(ctx context.Context, src StatusSource) {
	var updates <-chan scheduler.Status
	if src != nil {
		ch, cancel := src.Subscribe()
		defer cancel()
		updates = ch
	}
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case st, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if msg, err := encodeStatus(st); err == nil {
				h.Broadcast(msg)
			}
		}
	}
}

// Broadcast queues msg for every client. Clients whose buffer is full are
// dropped rather than allowed to stall the others.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("status client connected. Total: %d", n)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("status client disconnected. Total: %d", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Serve upgrades the request and streams status frames, starting with
// initial when it is non-nil.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial *scheduler.Status) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warning("websocket upgrade error: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if initial != nil {
		if msg, err := encodeStatus(*initial); err == nil {
			c.send <- msg
		}
	}
	h.register(c)

	go c.writeLoop()
	c.readLoop()
	h.unregister(c)
}

// readLoop discards client frames and keeps the read deadline fresh.
func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop sends queued frames and pings until send is closed.
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeStatus(st scheduler.Status) ([]byte, error) {
	return json.Marshal(statusMessage{Type: "status", Status: st})
}
