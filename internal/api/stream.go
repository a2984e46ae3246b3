package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/funneldash/dashcore/internal/eventbus"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

// WsMessage is the frame pushed to stream clients
type WsMessage struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// stateMessageType is sent once on connect with the full dashboard state
const stateMessageType = "state"

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	topics map[eventbus.Topic]bool

	// Buffered channel of outbound messages.
	send chan []byte
}

// Hub fans registry notifications out to websocket clients. Each client
// picks its topics when it connects; a client that cannot keep up is
// dropped rather than slowing the pipeline.
type Hub struct {
	dash     Dashboard
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	subs    []*eventbus.Subscription
	closed  bool
}

// NewHub subscribes to every registry topic of dash. allowedOrigins gates
// the upgrade; an empty list or "*" accepts any origin.
func NewHub(dash Dashboard, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		dash:    dash,
		logger:  logger.With("component", "stream"),
		clients: make(map[*Client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	for _, topic := range eventbus.Topics() {
		topic := topic
		h.subs = append(h.subs, dash.Subscribe(topic, func(ctx context.Context, msg eventbus.Message) error {
			h.Broadcast(topic, msg.Payload, msg.Timestamp)
			return nil
		}))
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Broadcast sends a message to every client subscribed to topic
func (h *Hub) Broadcast(topic eventbus.Topic, payload any, ts time.Time) {
	bytes, err := json.Marshal(WsMessage{Type: string(topic), Payload: payload, Timestamp: ts})
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.topics[topic] {
			continue
		}
		select {
		case client.send <- bytes:
		default:
			h.logger.Warn("dropping slow stream client", "remote", client.conn.RemoteAddr().String())
			h.removeLocked(client)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the registry and disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
	for client := range h.clients {
		h.removeLocked(client)
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// parseTopics reads ?topics=event,alerts. Empty selects every topic.
func parseTopics(raw string) (map[eventbus.Topic]bool, error) {
	topics := make(map[eventbus.Topic]bool)
	if strings.TrimSpace(raw) == "" {
		for _, t := range eventbus.Topics() {
			topics[t] = true
		}
		return topics, nil
	}
	for _, part := range strings.Split(raw, ",") {
		t, err := eventbus.ParseTopic(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		topics[t] = true
	}
	return topics, nil
}

// ServeWs handles GET /api/v1/dashboard/stream
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		SendError(w, r, http.StatusBadRequest, "INVALID_TOPIC", err.Error(), eventbus.Topics())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	client := &Client{hub: h, conn: conn, topics: topics, send: make(chan []byte, clientSendSize)}

	// The initial state goes out before the client can receive deltas
	state, err := json.Marshal(WsMessage{Type: stateMessageType, Payload: h.dash.State(), Timestamp: time.Now()})
	if err == nil {
		client.send <- state
	}
	if !h.register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so close frames and pongs are processed
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket client closed unexpectedly", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection, one
// JSON document per frame
func (c *Client) writePump() {
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
