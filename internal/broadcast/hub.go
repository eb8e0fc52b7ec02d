// Package broadcast fans call and queue events out to live dashboard
// clients over WebSocket. Delivery is best effort: slow consumers are
// dropped rather than allowed to stall the call pipeline.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the wire format for every pushed event.
type Envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type message struct {
	organizationID string
	data           []byte
}

type client struct {
	organizationID string
	conn           *websocket.Conn
	send           chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub routes events to the WebSocket clients of each organization.
// Clients only ever see their own organization's traffic.
type Hub struct {
	log *slog.Logger

	clients    map[*client]bool
	byOrg      map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan message

	// done unblocks pump goroutines once Run has exited and nobody is
	// draining register/unregister anymore.
	done chan struct{}

	mu      sync.Mutex
	running bool
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		byOrg:      make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
	}
}

// Run owns the client maps; all mutation happens on this goroutine.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			if h.byOrg[c.organizationID] == nil {
				h.byOrg[c.organizationID] = make(map[*client]bool)
			}
			h.byOrg[c.organizationID][c] = true
			h.log.Info("websocket client connected", "organization_id", c.organizationID)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Info("websocket client disconnected", "organization_id", c.organizationID)
			}

		case msg := <-h.broadcast:
			for c := range h.byOrg[msg.organizationID] {
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer; cut it loose.
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	if subs := h.byOrg[c.organizationID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byOrg, c.organizationID)
		}
	}
	close(c.send)
}

// Publish queues an event for every client of the organization. Fire and
// forget: if the hub is saturated or not running the event is dropped.
func (h *Hub) Publish(organizationID, event string, payload any) {
	data, err := json.Marshal(Envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("marshal broadcast event failed", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- message{organizationID: organizationID, data: data}:
	default:
		h.log.Warn("broadcast buffer full, event dropped", "event", event)
	}
}

// ServeWS upgrades the request and attaches the client to its
// organization's stream. The caller has already authenticated the request
// and resolved organizationID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, organizationID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		organizationID: organizationID,
		conn:           conn,
		send:           make(chan []byte, 64),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
	pongWait   = 60 * time.Second
)

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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// readPump discards inbound frames; the stream is push-only. It exists to
// notice closes and answer pings.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
