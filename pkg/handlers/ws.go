package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/ws"
)

// WSHandler upgrades clients onto the per-project progress channel.
type WSHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *ws.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

// RegisterRoutes registers the WebSocket route on the given mux. No tenant
// middleware: the subscription holds no database connection.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /ws/events", authMiddleware.RequireAuth(h.Subscribe))
}

// Subscribe handles GET /ws/events. The project comes from the token, so a
// client can only ever watch its own project's events.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	_, projectID, err := auth.Identity(r.Context())
	if err != nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}
	h.hub.Subscribe(w, r, projectID)
}
