// Package websocket pushes mailbox events to the user's open browser tabs.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients only ever send pongs and close frames.
	maxMessageSize = 512
)

// Client is one browser tab. gorilla/websocket allows a single concurrent
// writer, so every write holds writeMu.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, done: make(chan struct{})}
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// closeWith sends a close frame with code and reason, then drops the connection.
func (c *Client) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.close()
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks the open connections of every user, several per user when
// the mailbox is open in more than one tab.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	maxPerUser int
}

// NewHub creates a Hub allowing maxPerUser connections per user (10 when not positive).
func NewHub(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
	}
}

// Register adds conn for userID. Over the limit, conn is closed with a
// policy violation and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	client := newClient(conn)

	h.mu.Lock()
	userClients := h.clients[userID]
	if len(userClients) >= h.maxPerUser {
		h.mu.Unlock()
		log.Printf("Hub: User %s exceeded max connections (%d), closing new connection", userID, h.maxPerUser)
		client.closeWith(websocket.ClosePolicyViolation, "too many connections for this user")
		return nil
	}
	if userClients == nil {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}
	userClients[client] = struct{}{}
	h.mu.Unlock()

	return client
}

// Unregister forgets client and closes its connection. A nil client is ignored.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	client.close()
}

// Serve keeps client alive with pings and discards whatever it sends.
// It blocks until the connection fails or is closed, then unregisters client.
func (h *Hub) Serve(userID string, client *Client) {
	defer h.Unregister(userID, client)

	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.ping(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("Hub: Connection for user %s ended: %v", userID, err)
			}
			return
		}
	}
}

func (h *Hub) ping(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				client.close()
				return
			}
		}
	}
}

// SendJSON encodes v once and writes it to every connection of userID.
// A connection that fails the write is dropped.
func (h *Hub) SendJSON(userID string, v any) {
	clients := h.snapshot(userID)
	if len(clients) == 0 {
		return
	}

	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("Hub: Failed to encode message for user %s: %v", userID, err)
		return
	}

	for _, client := range clients {
		if err := client.write(websocket.TextMessage, msg); err != nil {
			log.Printf("Hub: Failed to write message for user %s: %v", userID, err)
			go h.Unregister(userID, client)
		}
	}
}

// CloseAll closes every connection, telling clients the server is going away.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, userClients := range all {
		for client := range userClients {
			client.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

// ActiveConnections returns the number of open connections for userID.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

func (h *Hub) snapshot(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		out = append(out, client)
	}
	return out
}
