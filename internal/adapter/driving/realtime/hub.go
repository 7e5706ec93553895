// Package realtime implements the WebSocket notification channel.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBuffer is how many outbound messages a client may lag behind
	// before further events for it are dropped.
	sendBuffer = 64
)

// Client message actions and server reply types.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"

	replySubscribed   = "subscribed"
	replyUnsubscribed = "unsubscribed"
	replyError        = "error"
)

var _ driven.Notifier = (*Hub)(nil)

// clientMessage is a message sent by a subscriber.
type clientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// reply acknowledges or rejects a client message.
type reply struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]struct{} // guarded by Hub.mu
}

// Hub fans events out to WebSocket clients subscribed to their topic.
// Delivery is best effort: nothing is queued for absent clients and a client
// whose send buffer is full misses the event.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	topics  map[string]map[*client]struct{}

	dropped atomic.Int64
}

// NewHub creates a Hub. When allowedOrigins is empty any origin may connect;
// requests without an Origin header are always accepted.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
		topics:  make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// Publish sends event to every client subscribed to its topic.
func (h *Hub) Publish(event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", event.Type, "topic", event.Topic, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[event.Topic] {
		h.enqueue(c, data)
	}
}

// Subscribers returns how many clients are subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Dropped returns how many messages were discarded for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// enqueue hands data to the client's writer without blocking. Callers hold
// at least the read lock so send is not closed concurrently.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
		h.logger.Debug("dropped message for slow websocket client")
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeFromTopic(c, topic)
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) subscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromTopic(c, topic)
}

// removeFromTopic must be called with h.mu held for writing.
func (h *Hub) removeFromTopic(c *client, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// respond queues a reply to a single client.
func (h *Hub) respond(c *client, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.enqueue(c, data)
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.respond(c, reply{Type: replyError, Message: "message is not valid JSON"})
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *client, msg clientMessage) {
	if msg.Action != actionSubscribe && msg.Action != actionUnsubscribe {
		h.respond(c, reply{Type: replyError, Topic: msg.Topic, Message: "unknown action"})
		return
	}
	if !model.IsValidTopic(msg.Topic) {
		h.respond(c, reply{Type: replyError, Topic: msg.Topic, Message: "topic must be project:<id> or run:<id>"})
		return
	}

	if msg.Action == actionSubscribe {
		h.subscribe(c, msg.Topic)
		h.respond(c, reply{Type: replySubscribed, Topic: msg.Topic})
		return
	}
	h.unsubscribe(c, msg.Topic)
	h.respond(c, reply{Type: replyUnsubscribed, Topic: msg.Topic})
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
