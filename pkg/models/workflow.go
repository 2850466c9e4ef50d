package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WorkflowStatus tracks a PO workflow run.
//
// State machine:
//
//	running -> completed
//	        -> completed_with_warnings  (step 4 partial success)
//	        -> failed
//
// Terminal states are never left; a failed workflow is not resumed, a new
// one is started.
type WorkflowStatus string

const (
	WorkflowStatusRunning               WorkflowStatus = "running"
	WorkflowStatusCompleted             WorkflowStatus = "completed"
	WorkflowStatusCompletedWithWarnings WorkflowStatus = "completed_with_warnings"
	WorkflowStatusFailed                WorkflowStatus = "failed"
)

// ValidWorkflowStatuses lists all valid workflow statuses.
var ValidWorkflowStatuses = []WorkflowStatus{
	WorkflowStatusRunning,
	WorkflowStatusCompleted,
	WorkflowStatusCompletedWithWarnings,
	WorkflowStatusFailed,
}

// IsValidWorkflowStatus checks whether a status value is valid.
func IsValidWorkflowStatus(s WorkflowStatus) bool {
	for _, valid := range ValidWorkflowStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is a terminal state.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted ||
		s == WorkflowStatusCompletedWithWarnings ||
		s == WorkflowStatusFailed
}

// POWorkflow is one five-step PO generation run. StepResults is replaced
// wholesale on every step transition, never merged.
type POWorkflow struct {
	WorkflowID   string         `json:"workflow_id"`
	UserID       uuid.UUID      `json:"user_id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	OrderDate    time.Time      `json:"order_date"`
	CurrentStep  int            `json:"current_step"`
	Status       WorkflowStatus `json:"status"`
	StepResults  *StepResults   `json:"step_results,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StepResults is the persisted per-step output payload.
type StepResults struct {
	Message       string             `json:"message,omitempty"`
	SKUShortfalls []SKUShortfall     `json:"sku_shortfalls,omitempty"`
	Materials     []MaterialShortage `json:"material_shortages,omitempty"`
	VendorOptions []VendorOption     `json:"vendor_options,omitempty"`
	POsGenerated  []string           `json:"pos_generated,omitempty"`
	FailedVendors []FailedVendor     `json:"failed_vendors,omitempty"`
	Dispatches    []DispatchOutcome  `json:"dispatches,omitempty"`
}

// SKUShortfall is a step-1 result row: at-hand stock short of the required
// quantity for an order line.
type SKUShortfall struct {
	SKU          string          `json:"sku"`
	Description  string          `json:"description,omitempty"`
	OrderNumber  string          `json:"order_number,omitempty"`
	Required     decimal.Decimal `json:"required"`
	AtHand       decimal.Decimal `json:"at_hand"`
	Shortfall    decimal.Decimal `json:"shortfall"`
	OrderNumbers []string        `json:"order_numbers,omitempty"`
}

// MaterialShortage is a step-2 result row: a packaging material short of the
// quantity needed to cover step-1 shortfalls.
type MaterialShortage struct {
	MaterialID  string          `json:"material_id"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	Required    decimal.Decimal `json:"required"`
	AtHand      decimal.Decimal `json:"at_hand"`
	Shortfall   decimal.Decimal `json:"shortfall"`
}

// VendorOption is a step-3 costed procurement option for one material from
// one vendor location.
type VendorOption struct {
	VendorID        string          `json:"vendor_id"`
	VendorName      string          `json:"vendor_name"`
	VendorEmail     string          `json:"vendor_email,omitempty"`
	Plant           string          `json:"plant"`
	StorageLocation string          `json:"storage_location"`
	MaterialID      string          `json:"material_id"`
	Description     string          `json:"description,omitempty"`
	Category        string          `json:"category,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalCost       decimal.Decimal `json:"total_procurement_cost"`
	OrderNumbers    []string        `json:"order_numbers,omitempty"`
}

// GroupKey returns the vendor-group key: one PO is generated per distinct
// (vendor, plant, storage location) combination.
func (v VendorOption) GroupKey() string {
	return v.VendorID + "_" + v.Plant + "_" + v.StorageLocation
}

// VendorErrorType categorizes a per-vendor-group step-4 failure.
type VendorErrorType string

const (
	VendorErrorPDFGeneration   VendorErrorType = "pdf_generation"
	VendorErrorDatabasePO      VendorErrorType = "database_po"
	VendorErrorDatabasePOItems VendorErrorType = "database_po_items"
	VendorErrorCritical        VendorErrorType = "critical"
)

// FailedVendor records one vendor group that failed during step 4. Other
// groups continue regardless.
type FailedVendor struct {
	VendorID   string          `json:"vendor_id"`
	VendorName string          `json:"vendor_name,omitempty"`
	GroupKey   string          `json:"group_key"`
	ErrorType  VendorErrorType `json:"error_type"`
	Error      string          `json:"error"`
}

// DispatchOutcome records one step-5 email/approval dispatch, success or
// failure; one failed dispatch never blocks the others.
type DispatchOutcome struct {
	PONumber      string `json:"po_number"`
	NeedsApproval bool   `json:"needs_approval"`
	Recipient     string `json:"recipient"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// WorkflowEventType labels events on the per-project progress channel.
type WorkflowEventType string

const (
	EventWorkflowProgress WorkflowEventType = "workflow_progress"
	EventWorkflowComplete WorkflowEventType = "workflow_complete"
	EventWorkflowError    WorkflowEventType = "workflow_error"
	EventPOStatusUpdate   WorkflowEventType = "po_status_update"
)
