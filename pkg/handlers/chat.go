package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

// maxQueryLength bounds a single chat query.
const maxQueryLength = 4000

// ChatHandler handles natural-language chat queries.
type ChatHandler struct {
	chat   services.ChatService
	logger *zap.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chat services.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/chat/query", authMiddleware.RequireAuth(tenantMiddleware(h.Query)))
}

type chatQueryRequest struct {
	Query string `json:"query"`
}

// Query handles POST /api/chat/query.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req chatQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Query is required")
		return
	}
	if len(req.Query) > maxQueryLength {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Query is too long")
		return
	}

	resp, err := h.chat.ProcessUserQuery(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("Chat query failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to process query")
		return
	}

	_ = WriteJSON(w, http.StatusOK, resp)
}
