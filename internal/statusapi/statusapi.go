// Package statusapi pushes operator status events (deposits,
// connector-tree reveals, claims, challenges) to connected dashboard
// clients over WebSocket. Adapted from the teacher's WSHub
// register/unregister/broadcast pattern in internal/rpc/websocket.go,
// generalized from peer/node events to bridge operation events.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/btc-rollup-bridge/bridged/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType identifies a bridge status event.
type EventType string

const (
	EventDepositPresigned   EventType = "deposit_presigned"
	EventDepositMoved       EventType = "deposit_moved"
	EventConnectorRevealed  EventType = "connector_revealed"
	EventClaimBroadcast     EventType = "claim_broadcast"
	EventWithdrawalPaid     EventType = "withdrawal_paid"
	EventChallengeDetected  EventType = "challenge_detected"
)

// Event is one status push, timestamped by the caller at the moment
// it occurred (the package never calls time.Now itself so replayed
// or test-driven event sequences stay deterministic).
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// client is one connected dashboard websocket.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans status events out to every connected client.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewHub constructs an idle Hub; call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        logging.GetDefault().Component("statusapi"),
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("marshal status event", "err", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.log.Warn("client send buffer full, dropping")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Push enqueues a status event for broadcast. timestamp is a Unix
// second count supplied by the caller.
func (h *Hub) Push(eventType EventType, data interface{}, timestamp int64) {
	select {
	case h.broadcast <- &Event{Type: eventType, Data: data, Timestamp: timestamp}:
	default:
		h.log.Warn("broadcast channel full, dropping event", "type", eventType)
	}
}

// ClientCount reports the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams status
// events to it until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.register <- c
	go h.writePump(c)
}

func (h *Hub) writePump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
