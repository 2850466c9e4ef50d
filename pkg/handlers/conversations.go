package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

const defaultListLimit = 20

// ConversationsHandler serves conversation history and context statistics.
type ConversationsHandler struct {
	conversations services.ConversationService
	ingest        services.IngestService
	logger        *zap.Logger
}

// NewConversationsHandler creates a new ConversationsHandler.
func NewConversationsHandler(conversations services.ConversationService, ingest services.IngestService, logger *zap.Logger) *ConversationsHandler {
	return &ConversationsHandler{conversations: conversations, ingest: ingest, logger: logger}
}

// RegisterRoutes registers the conversation routes on the given mux.
func (h *ConversationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/conversations", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("GET /api/conversations/{cid}/messages", authMiddleware.RequireAuth(tenantMiddleware(h.Messages)))
	mux.HandleFunc("DELETE /api/conversations/{cid}", authMiddleware.RequireAuth(tenantMiddleware(h.Delete)))
	mux.HandleFunc("GET /api/context/stats", authMiddleware.RequireAuth(tenantMiddleware(h.ContextStats)))
}

// List handles GET /api/conversations.
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	conversations, err := h.conversations.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list conversations", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list conversations")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// Messages handles GET /api/conversations/{cid}/messages.
func (h *ConversationsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(r.PathValue("cid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid conversation ID")
		return
	}

	window := 0
	if raw := r.URL.Query().Get("window"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			window = n
		}
	}

	messages, err := h.conversations.History(r.Context(), conversationID, window)
	if err != nil {
		h.logger.Error("Failed to load conversation history",
			zap.String("conversation_id", conversationID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load messages")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Delete handles DELETE /api/conversations/{cid}.
func (h *ConversationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(r.PathValue("cid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid conversation ID")
		return
	}

	if err := h.conversations.Delete(r.Context(), conversationID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Conversation not found")
			return
		}
		h.logger.Error("Failed to delete conversation",
			zap.String("conversation_id", conversationID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContextStats handles GET /api/context/stats.
func (h *ConversationsHandler) ContextStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ingest.ContextStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load context stats", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load context stats")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"corpora": stats})
}
