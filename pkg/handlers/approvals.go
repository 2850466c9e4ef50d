package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

// ApprovalsHandler serves the approval endpoints reached from emailed
// links. These routes are public: the token is the only credential, so no
// JWT middleware applies.
type ApprovalsHandler struct {
	approvals services.ApprovalService
	logger    *zap.Logger
}

// NewApprovalsHandler creates a new ApprovalsHandler.
func NewApprovalsHandler(approvals services.ApprovalService, logger *zap.Logger) *ApprovalsHandler {
	return &ApprovalsHandler{approvals: approvals, logger: logger}
}

// RegisterRoutes registers the approval routes on the given mux.
func (h *ApprovalsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/approvals/validate", h.Validate)
	mux.HandleFunc("GET /api/approvals/decide", h.DecideFromLink)
	mux.HandleFunc("POST /api/approvals/decide", h.Decide)
}

// Validate handles GET /api/approvals/validate?token=. The response never
// distinguishes a wrong token from an expired one.
func (h *ApprovalsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req, err := h.approvals.Validate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.logger.Error("Approval validation failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to validate token")
		return
	}
	if req == nil {
		_ = WriteJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"po_number": req.PONumber,
	})
}

// DecideFromLink handles the GET link clicked in the approval email. The
// decision outcome renders as a minimal HTML page.
func (h *ApprovalsHandler) DecideFromLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	action := r.URL.Query().Get("action")

	decision, ok := parseDecision(action)
	if !ok {
		h.renderDecisionPage(w, false, "Unknown action.")
		return
	}

	result := h.approvals.Decide(r.Context(), token, "", decision, "")
	if !result.Success {
		h.renderDecisionPage(w, false, result.Error)
		return
	}
	h.renderDecisionPage(w, true, fmt.Sprintf("Purchase order %s has been %s.", result.PONumber, decision))
}

type decideRequest struct {
	Token         string `json:"token"`
	Action        string `json:"action"`
	ApproverEmail string `json:"approver_email,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

// Decide handles POST /api/approvals/decide for API clients.
func (h *ApprovalsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON")
		return
	}

	decision, ok := parseDecision(req.Action)
	if !ok {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "action must be approve or reject")
		return
	}

	result := h.approvals.Decide(r.Context(), req.Token, req.ApproverEmail, decision, req.Comment)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	_ = WriteJSON(w, status, result)
}

func parseDecision(action string) (models.ApprovalStatus, bool) {
	switch action {
	case "approve":
		return models.ApprovalStatusApproved, true
	case "reject":
		return models.ApprovalStatusRejected, true
	default:
		return "", false
	}
}

func (h *ApprovalsHandler) renderDecisionPage(w http.ResponseWriter, success bool, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !success {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	heading := "Decision recorded"
	if !success {
		heading = "Unable to record decision"
	}
	fmt.Fprintf(w, "<html><body><h2>%s</h2><p>%s</p></body></html>", heading, message)
}
