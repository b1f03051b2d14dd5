package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// WebSocketHub manages WebSocket connections and broadcasts storage
// events to every connected client.
type WebSocketHub struct {
	clients        map[clientInterface]bool
	broadcast      chan any
	register       chan clientInterface
	unregister     chan clientInterface
	allowedOrigins map[string]bool
	originPatterns []string
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send chan []byte
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewWebSocketHub creates a hub that accepts browser connections from
// localhost on the given server port.
func NewWebSocketHub(port int) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:    make(map[clientInterface]bool),
		broadcast:  make(chan any, 256),
		register:   make(chan clientInterface),
		unregister: make(chan clientInterface),
		allowedOrigins: map[string]bool{
			fmt.Sprintf("http://localhost:%d", port): true,
			fmt.Sprintf("http://127.0.0.1:%d", port): true,
		},
		originPatterns: []string{
			fmt.Sprintf("localhost:%d", port),
			fmt.Sprintf("127.0.0.1:%d", port),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("websocket: client connected (total: %d)", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket: client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			// Full Lock because the default branch may delete from the map.
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("websocket: marshal failed: %v", err)
				h.mu.Unlock()
				continue
			}

			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					// Client's send channel is full, disconnect them
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			log.Println("websocket: hub stopping")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *WebSocketHub) Broadcast(message any) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("websocket: broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client clientInterface) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	h.unregister <- client
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowedOrigins[origin] {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			log.Printf("websocket: write failed: %v", err)
			return
		}
	}
}

// readPump reads messages from the WebSocket connection.
// Currently just drains messages to detect disconnections.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		_, _, err := c.conn.Read(context.Background())
		if err != nil {
			// Connection closed
			return
		}
		// Future: handle client->server messages (subscription filters).
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {
	// No-op for mock client
}
