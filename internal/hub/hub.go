// Package hub fans analysis events out to WebSocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaplin/healthboard/internal/analysis"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of connected clients. All membership changes go
// through Run's select loop, so no locking is needed.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]struct{}
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is served from arbitrary origins behind the
			// deployment proxy; token auth happens before the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*client]struct{}),
	}
}

// Run drives the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Info("websocket client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("websocket client disconnected", "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop it rather than stall the loop.
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Broadcast implements the orchestrator's broadcaster. Marshaling happens
// once per event, not per client.
func (h *Hub) Broadcast(ev analysis.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshaling event", "type", ev.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// readPump discards inbound frames; clients only listen. It exists to
// notice closes and answer pings.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
