// Package ws pushes job state changes to connected websocket clients so
// callers are not forced onto tight status-polling loops.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"ocrserver/internal/domain"
	"ocrserver/internal/infra"
	"ocrserver/internal/store"
)

type jobEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	JobID     string           `json:"job_id"`
	Filename  string           `json:"filename"`
	State     domain.JobState  `json:"state"`
	Progress  float64          `json:"progress"`
	Error     *domain.JobError `json:"error,omitempty"`
}

// Hub fans job updates out to every connected client.
type Hub struct {
	logger     infra.Logger
	mu         sync.Mutex
	clients    map[*websocket.Conn]struct{}
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
}

// NewHub constructs a Hub; Start must be called before use.
func NewHub(logger infra.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in its own goroutine.
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case <-h.done:
				h.mu.Lock()
				for conn := range h.clients {
					_ = conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
				return
			case conn := <-h.register:
				h.mu.Lock()
				h.clients[conn] = struct{}{}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Debug().Int("clients", total).Msg("ws: client connected")
			case conn := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[conn]; ok {
					delete(h.clients, conn)
					_ = conn.Close()
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Debug().Int("clients", total).Msg("ws: client disconnected")
			case message := <-h.broadcast:
				h.mu.Lock()
				for conn := range h.clients {
					if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
						_ = conn.Close()
						delete(h.clients, conn)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// Stop shuts the hub down and closes all client connections.
func (h *Hub) Stop() {
	close(h.done)
}

// Register adds a client connection to the hub. After Stop the connection is
// closed instead, the hub loop is no longer draining the channel.
func (h *Hub) Register(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
	}
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		_ = conn.Close()
	}
}

// Notify implements store.Notifier: it serializes the update and queues it
// for broadcast without blocking the store's mutation path.
func (h *Hub) Notify(u store.Update) {
	event := jobEvent{
		Type:      "job_update",
		SessionID: u.SessionID,
		JobID:     u.JobID,
		Filename:  u.Filename,
		State:     u.State,
		Progress:  u.Progress,
		Error:     u.Error,
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("ws: marshal job event failed")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Slow consumers must not stall job transitions.
	}
}
