/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package socket is the server side of the hot update channel: a websocket
// hub that fans messages out to every connected page.
package socket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"bennypowers.dev/hotserve/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed between messages or pongs from the peer.
	pongWait = 60 * time.Second
	// Send pings to the peer with this period. Must be less than pongWait.
	pingPeriod = 30 * time.Second
	// Maximum message size allowed from the peer.
	maxMessageSize = 64 * 1024
	// Messages queued per client before it is considered too slow.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	// The dev server is reached from whatever host the page was served on.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// InvalidateFunc handles a client's request to invalidate a module URL.
type InvalidateFunc func(path string)

// Hub tracks connected clients and broadcasts to them. It is safe for
// concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	onInvalidate InvalidateFunc
	logger       *log.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. onInvalidate may be nil.
func NewHub(logger *log.Logger, onInvalidate InvalidateFunc) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		onInvalidate: onInvalidate,
		logger:       logger.WithPrefix("socket"),
	}
}

// ServeHTTP upgrades the request and registers the client, greeting it with
// a connected message.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "err", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	hello, _ := json.Marshal(protocol.NewConnectedMessage())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	c.send <- hello
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client connected", "remote", r.RemoteAddr, "clients", count)

	go c.writePump()
	go c.readPump()
}

// Broadcast sends msg to every client. Clients that cannot keep up are
// disconnected; the others are unaffected.
func (h *Hub) Broadcast(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", msg.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client too slow, disconnecting", "type", msg.Type)
			h.removeLocked(c)
		}
	}
}

// Prune tells clients that the modules at urls are no longer imported.
func (h *Hub) Prune(urls []string) {
	h.Broadcast(protocol.NewPruneMessage(urls))
}

// Send broadcasts a custom event.
func (h *Hub) Send(event string, data any) error {
	msg, err := protocol.NewCustomMessage(event, data)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked unregisters c and closes its send channel, which makes its
// write pump close the connection.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug("write failed", "err", err)
				c.hub.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket error", "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case protocol.TypeHeartbeat:
		case protocol.TypeInvalidate:
			payload, err := protocol.ParseInvalidatePayload(msg)
			if err != nil {
				c.hub.logger.Warn("bad invalidate message", "err", err)
				continue
			}
			if c.hub.onInvalidate != nil {
				c.hub.onInvalidate(payload.Path)
			}
		default:
			c.hub.logger.Debug("ignoring message", "type", msg.Type)
		}
	}
}
