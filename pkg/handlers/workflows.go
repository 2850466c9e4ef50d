package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

// WorkflowsHandler starts and inspects purchase-order workflows.
type WorkflowsHandler struct {
	workflows services.POWorkflowService
	logger    *zap.Logger
}

// NewWorkflowsHandler creates a new WorkflowsHandler.
func NewWorkflowsHandler(workflows services.POWorkflowService, logger *zap.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{workflows: workflows, logger: logger}
}

// RegisterRoutes registers the workflow routes on the given mux.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/workflows/po", authMiddleware.RequireAuth(tenantMiddleware(h.Start)))
	mux.HandleFunc("GET /api/workflows/po", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("GET /api/workflows/po/{wid}", authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
}

type startWorkflowRequest struct {
	OrderDate string `json:"order_date,omitempty"`
	Query     string `json:"query,omitempty"`
}

// Start handles POST /api/workflows/po. The workflow runs in the
// background; the response carries the identifier for polling and the
// WebSocket progress channel.
func (h *WorkflowsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON")
		return
	}

	orderDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.OrderDate != "" {
		parsed, err := time.Parse("2006-01-02", req.OrderDate)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "order_date must be YYYY-MM-DD")
			return
		}
		orderDate = parsed
	}

	wf, err := h.workflows.Start(r.Context(), orderDate, req.Query)
	if err != nil {
		h.logger.Error("Failed to start PO workflow", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to start workflow")
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, wf)
}

// Get handles GET /api/workflows/po/{wid}.
func (h *WorkflowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("wid")

	wf, err := h.workflows.GetProgress(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Workflow not found")
			return
		}
		h.logger.Error("Failed to load workflow",
			zap.String("workflow_id", workflowID), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load workflow")
		return
	}
	_ = WriteJSON(w, http.StatusOK, wf)
}

// List handles GET /api/workflows/po.
func (h *WorkflowsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	workflows, err := h.workflows.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list workflows", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list workflows")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}
