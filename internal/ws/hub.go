// Package ws streams engine events to connected websocket clients.
// Delivery is best effort: a slow client loses messages, never stalls
// the hub.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"LiqGuard/internal/event"
	"LiqGuard/internal/observability"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Channel names clients can subscribe to. New connections start
// subscribed to all of them.
var defaultChannels = []string{
	"positions",
	"liquidations",
	"fund",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// frame is the outbound wire format.
type frame struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub manages connected websocket clients and fans engine events out to
// them by channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	log        zerolog.Logger
	metrics    *observability.Metrics
	startedAt  time.Time
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a websocket hub. metrics may be nil.
func NewHub(log zerolog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        log,
		metrics:    metrics,
		startedAt:  time.Now().UTC(),
	}
}

// Broadcast routes an engine event to its channel. Safe to call from any
// goroutine; drops when the hub's queue is full.
func (h *Hub) Broadcast(evt event.Event) {
	var channel string
	switch evt.EventType() {
	case event.TypePositionOpened:
		channel = "positions"
	case event.TypeLiquidationExecuted:
		channel = "liquidations"
	case event.TypeFundInitialized, event.TypeFundBalanceChanged:
		channel = "fund"
	default:
		return
	}

	data, err := json.Marshal(frame{
		Channel: channel,
		Type:    evt.EventType().String(),
		Payload: evt,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast frame failed")
		return
	}

	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	default:
		if h.metrics != nil {
			h.metrics.WSDrops.Inc()
		}
	}
}

// Run starts the hub's main loop. Exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.setClientGauge()
			h.log.Info().Int("total_clients", h.clientCount()).Msg("ws client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.setClientGauge()
			h.log.Info().Int("total_clients", h.clientCount()).Msg("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
						if h.metrics != nil {
							h.metrics.WSBroadcasts.Inc()
						}
					default:
						// Client's send buffer is full; drop the message.
						if h.metrics != nil {
							h.metrics.WSDrops.Inc()
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades an HTTP request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) setClientGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(h.clientCount()))
	}
}

// readPump reads subscription management frames until the connection
// drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn().Err(err).Msg("ws unexpected close")
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello pushes a small JSON envelope so clients can immediately mark
// the connection as healthy before any event flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"connected":      true,
			"uptime_seconds": uptime,
			"channels":       defaultChannels,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps messages from the hub to the connection and keeps it
// alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
