// Package diag exposes the engine's internal state to external observers: a
// websocket broadcast hub for a live dashboard, and HTTP health/readiness
// endpoints. None of this is named in spec.md — it is ambient operator
// tooling carried forward from the teacher's internal/web package (hub.go,
// hub_throttle.go, static.go) and internal/engine's health_core.go /
// health_handlers.go, rehomed from "indexer sync state" to "engine bus
// activity".
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"snapblaster-core/internal/bus"
)

// Event is the JSON envelope pushed to connected dashboard clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// Client is one connected dashboard websocket.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine bus events out to every connected dashboard client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		broadcast:  make(chan interface{}, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run drains register/unregister/broadcast until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("diag_hub_started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("diag_hub_stopping")
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("diag_client_connected", slog.Int("total_clients", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("diag_client_disconnected", slog.Int("total_clients", len(h.clients)))
			}
		case event := <-h.broadcast:
			message, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("diag_json_marshal_error", slog.String("error", err.Error()))
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("diag_client_blocked_dropping_client")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast enqueues event for delivery, never blocking the caller.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("diag_hub_blocked_dropping_message")
	}
}

// HandleWS upgrades an HTTP request to a websocket and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("diag_ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				c.hub.logger.Warn("diag_ws_write_error", slog.String("error", err.Error()))
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcaster is satisfied by both Hub and ThrottledHub.
type Broadcaster interface {
	Broadcast(Event)
}

// RunBusBridge subscribes to the engine bus and republishes a curated subset
// of events onto the hub, so the dashboard reflects live routing/morph/tempo
// activity without the hub ever touching the model directly.
func RunBusBridge(ctx context.Context, b *bus.Bus, hub Broadcaster) {
	sub := b.Subscribe("diag-hub")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch e := ev.(type) {
		case bus.PadPressed:
			hub.Broadcast(Event{Type: "pad_pressed", Data: e})
		case bus.BankSelected:
			hub.Broadcast(Event{Type: "bank_selected", Data: e})
		case bus.SnapSelected:
			hub.Broadcast(Event{Type: "snap_selected", Data: e})
		case bus.MorphInitiated:
			hub.Broadcast(Event{Type: "morph_initiated", Data: e})
		case bus.MorphProgressed:
			hub.Broadcast(Event{Type: "morph_progressed", Data: e})
		case bus.MorphCompleted:
			hub.Broadcast(Event{Type: "morph_completed", Data: e})
		case bus.LinkStatusChanged:
			hub.Broadcast(Event{Type: "link_status", Data: e})
		case bus.Shutdown:
			return
		}
	}
}
