// Package ws maintains per-project WebSocket subscriber sets and broadcasts
// workflow and purchase-order events to them. The channel is push-only:
// clients subscribe and receive JSON events, inbound frames are drained and
// discarded.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens at subscribe time via the token query parameter;
		// origin filtering belongs to the fronting proxy.
		return true
	},
}

// client is one subscriber connection. Writes are serialized through mu:
// gorilla connections do not support concurrent writers.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(payload any, deadline time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(deadline))
	return c.conn.WriteJSON(payload)
}

// Hub is the project-keyed subscriber registry. It satisfies
// services.Notifier.
type Hub struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]map[*client]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		projects: make(map[uuid.UUID]map[*client]struct{}),
		logger:   logger,
	}
}

// Subscribe upgrades the request to a WebSocket and registers it under the
// project. It blocks until the client disconnects.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("project_id", projectID.String()), zap.Error(err))
		return
	}
	c := &client{conn: conn}
	h.register(projectID, c)
	defer h.unregister(projectID, c)

	h.logger.Info("WebSocket client connected",
		zap.String("project_id", projectID.String()))

	done := make(chan struct{})
	go h.pingLoop(c, done)
	defer close(done)

	// Drain inbound frames until the peer goes away. Subscribers never send
	// meaningful payloads.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Info("WebSocket client disconnected",
				zap.String("project_id", projectID.String()))
			return
		}
	}
}

// Notify broadcasts one event to every subscriber of the project. Dead
// connections are dropped from the registry; delivery is best effort and
// never blocks the caller on a slow peer beyond the write timeout.
func (h *Hub) Notify(projectID uuid.UUID, eventType models.WorkflowEventType, payload map[string]any) {
	event := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		event[k] = v
	}
	event["type"] = string(eventType)
	event["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.projects[projectID]))
	for c := range h.projects[projectID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		if err := c.send(event, writeTimeout); err != nil {
			h.logger.Warn("Dropping dead WebSocket subscriber",
				zap.String("project_id", projectID.String()),
				zap.String("event_type", string(eventType)),
				zap.Error(err))
			h.unregister(projectID, c)
			_ = c.conn.Close()
		}
	}
}

// SubscriberCount reports live subscribers for a project.
func (h *Hub) SubscriberCount(projectID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID])
}

// Close disconnects every subscriber. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for projectID, clients := range h.projects {
		for c := range clients {
			_ = c.conn.Close()
		}
		delete(h.projects, projectID)
	}
}

func (h *Hub) register(projectID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.projects[projectID] == nil {
		h.projects[projectID] = make(map[*client]struct{})
	}
	h.projects[projectID][c] = struct{}{}
}

func (h *Hub) unregister(projectID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.projects[projectID]
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.projects, projectID)
	}
}

func (h *Hub) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
