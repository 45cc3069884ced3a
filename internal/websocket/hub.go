// Package websocket pushes generation progress events to connected
// browsers. Each user may hold several connections (tabs); events are
// fanned out to all of them.

package websocket

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mocksmith/internal/generation"
	"mocksmith/internal/logging"
	"mocksmith/internal/metrics"
	"mocksmith/internal/middleware"
)

// Message is the envelope sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	MessageTypeProgress  = "generation_progress"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypeError     = "error"
)

// Hub tracks active connections per user.
type Hub struct {
	clients    map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates the hub. Run must be started on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		shutdown:   make(chan struct{}),
		logger:     logging.L(),
	}
}

// Run processes register/unregister traffic until Shutdown.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-heartbeat.C:
			h.broadcastHeartbeat()
		case <-h.shutdown:
			h.closeAll()
			return
		}
	}
}

// Shutdown closes every connection and stops Run.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	metrics.Get().WSConnectionsActive.Inc()
	h.logger.Debug("websocket client connected", zap.Uint("user_id", client.userID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[client.userID]
	if !ok || !conns[client] {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
	close(client.send)
	metrics.Get().WSConnectionsActive.Dec()
}

// Publish fans a pipeline progress event out to the user's connections.
// It never blocks: clients with a full send buffer drop the event.
func (h *Hub) Publish(userID uint, event generation.Event) {
	h.sendToUser(userID, Message{
		Type:      MessageTypeProgress,
		Data:      event,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) sendToUser(userID uint, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
			metrics.Get().WSMessagesSent.Inc()
		default:
		}
	}
}

func (h *Hub) broadcastHeartbeat() {
	payload, _ := json.Marshal(Message{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for client := range conns {
			select {
			case client.send <- payload:
			default:
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for client := range conns {
			close(client.send)
			metrics.Get().WSConnectionsActive.Dec()
		}
	}
	h.clients = make(map[uint]map[*Client]bool)
}

// ConnectionCount reports the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}

		allowed := []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://localhost:8080",
			"https://mocksmith.app",
			"https://www.mocksmith.app",
		}
		if extra := os.Getenv("CORS_ALLOWED_ORIGINS"); extra != "" {
			allowed = append(allowed, strings.Split(extra, ",")...)
		}

		for _, a := range allowed {
			if strings.TrimSpace(a) == origin {
				return true
			}
		}
		return false
	},
}

// HandleWebSocket upgrades an authenticated request to a websocket
// connection and registers it with the hub.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, userID)
	h.register <- client

	go client.writePump()
	go client.readPump()
}
