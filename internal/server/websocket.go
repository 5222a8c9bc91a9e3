package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const (
	// clientBuffer is the per-client queue of pending messages. A client
	// whose queue is full is disconnected.
	clientBuffer = 64

	writeTimeout = 10 * time.Second
)

// Hub fans engine events out to websocket clients.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*wsClient
	broadcast chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Run must be started for broadcasts to flow.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:   make(map[string]*wsClient),
		broadcast: make(chan []byte, 256),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run delivers broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.WithField("client", id).Warn("websocket client too slow, disconnecting")
					h.removeLocked(id)
				}
			}
			h.mu.Unlock()
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	for id := range h.clients {
		h.removeLocked(id)
	}
	h.mu.Unlock()
}

// Broadcast queues message for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.WithError(err).Warn("failed to marshal websocket message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn("websocket broadcast queue full, dropping message")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	log.WithFields(log.Fields{"client": c.id, "total": n}).Debug("websocket client connected")
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	h.removeLocked(id)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
}

// ServeHTTP upgrades the request to a websocket. Cross-origin upgrades are
// refused by the websocket library unless the origin matches the host.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}
	h.add(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *wsClient) {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			h.remove(c.id)
			return
		}
	}
}

// readPump drains client messages to notice disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c.id)
	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil {
			return
		}
	}
}
