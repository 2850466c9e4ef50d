package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// POStatus tracks a purchase order through dispatch.
//
// State machine:
//
//	generated -> pending_approval -> approved -> sent_to_vendor
//	                              -> rejected
//	generated -> sent_to_vendor              (below approval threshold)
//	any       -> cancelled | failed
type POStatus string

const (
	POStatusGenerated       POStatus = "generated"
	POStatusPendingApproval POStatus = "pending_approval"
	POStatusApproved        POStatus = "approved"
	POStatusRejected        POStatus = "rejected"
	POStatusSentToVendor    POStatus = "sent_to_vendor"
	POStatusCancelled       POStatus = "cancelled"
	POStatusFailed          POStatus = "failed"
)

// ValidPOStatuses lists all valid PO statuses.
var ValidPOStatuses = []POStatus{
	POStatusGenerated,
	POStatusPendingApproval,
	POStatusApproved,
	POStatusRejected,
	POStatusSentToVendor,
	POStatusCancelled,
	POStatusFailed,
}

// IsValidPOStatus checks whether a status value is valid.
func IsValidPOStatus(s POStatus) bool {
	for _, valid := range ValidPOStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// PurchaseOrder is one generated purchase order. NeedsApproval is fixed at
// creation time from the monetary threshold and never recomputed.
type PurchaseOrder struct {
	PONumber        string          `json:"po_number"`
	UserID          uuid.UUID       `json:"user_id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	WorkflowID      string          `json:"workflow_id"`
	VendorID        string          `json:"vendor_id"`
	VendorName      string          `json:"vendor_name"`
	VendorEmail     string          `json:"vendor_email,omitempty"`
	Plant           string          `json:"plant,omitempty"`
	StorageLocation string          `json:"storage_location,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          POStatus        `json:"status"`
	NeedsApproval   bool            `json:"needs_approval"`
	OrderDate       time.Time       `json:"order_date"`
	PDFPath         string          `json:"pdf_path,omitempty"`
	LineItems       []POLineItem    `json:"line_items,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// POLineItem is one line of a purchase order.
type POLineItem struct {
	ID           uuid.UUID       `json:"id"`
	PONumber     string          `json:"po_number"`
	MaterialID   string          `json:"material_id"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	OrderNumbers []string        `json:"order_numbers,omitempty"`
}
