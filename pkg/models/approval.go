package models

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus tracks an approval request.
//
// State machine:
//
//	pending -> approved
//	        -> rejected
//
// Both transitions consume the token; there is no way back to pending.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ValidApprovalStatuses lists all valid approval statuses.
var ValidApprovalStatuses = []ApprovalStatus{
	ApprovalStatusPending,
	ApprovalStatusApproved,
	ApprovalStatusRejected,
}

// IsValidApprovalStatus checks whether a status value is valid.
func IsValidApprovalStatus(s ApprovalStatus) bool {
	for _, valid := range ValidApprovalStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// ApprovalRequest is the 1:1 approval record for a purchase order. The
// token is a single-use, time-limited bearer credential; after a decision it
// is prefixed with "USED_" on top of the status flip, so a code path that
// only checks the token string still cannot reuse it.
type ApprovalRequest struct {
	ID              uuid.UUID      `json:"id"`
	PONumber        string         `json:"po_number"`
	ApproverEmail   string         `json:"approver_email"`
	ApprovalToken   string         `json:"-"`
	TokenExpiresAt  time.Time      `json:"token_expires_at"`
	Status          ApprovalStatus `json:"status"`
	DecidedBy       string         `json:"decided_by,omitempty"`
	DecisionComment string         `json:"decision_comment,omitempty"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ApprovalDecision is the outcome of a decide call.
type ApprovalDecision struct {
	Success  bool   `json:"success"`
	PONumber string `json:"po_number,omitempty"`
	Error    string `json:"error,omitempty"`
}
