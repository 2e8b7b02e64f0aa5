// Package ws implements the WebSocket adapter for real-time observability clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/port/bus"
)

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages active WebSocket connections and mirrors bus lifecycle
// messages to them as JSON envelopes.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
	sub   bus.Subscription
	b     bus.Bus
}

// NewHub creates a hub and subscribes it to every lifecycle message type.
func NewHub(b bus.Bus) *Hub {
	h := &Hub{
		conns: make(map[*conn]struct{}),
		b:     b,
	}
	h.sub = b.Subscribe("ws-hub", message.Lifecycle, h.broadcast)
	return h
}

// HandleWS returns an http.HandlerFunc that upgrades connections to WebSocket.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// broadcast forwards one bus message to all connected clients.
func (h *Hub) broadcast(msg message.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(context.Background(), websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close unsubscribes from the bus and drops all connections.
func (h *Hub) Close() {
	h.b.Unsubscribe(h.sub)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "shutdown")
		delete(h.conns, c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
