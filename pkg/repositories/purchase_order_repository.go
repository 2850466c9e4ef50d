package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// PurchaseOrderRepository provides data access for purchase orders and line
// items.
type PurchaseOrderRepository interface {
	Insert(ctx context.Context, po *models.PurchaseOrder) error
	InsertLineItems(ctx context.Context, poNumber string, items []models.POLineItem) error
	GetByNumber(ctx context.Context, poNumber string) (*models.PurchaseOrder, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.PurchaseOrder, error)
	UpdateStatus(ctx context.Context, poNumber string, status models.POStatus) error

	// Delete removes the PO row (line items cascade). Used by step-4
	// compensation when line-item insertion fails after the PO row landed.
	Delete(ctx context.Context, poNumber string) error

	// CountForDate returns how many POs exist for the tenant's order date;
	// the PO number sequence is derived from it.
	CountForDate(ctx context.Context, orderDate time.Time) (int, error)

	// NumberExists reports whether a PO number is already taken for the
	// tenant. Generated numbers are always re-validated against this.
	NumberExists(ctx context.Context, poNumber string) (bool, error)
}

type purchaseOrderRepository struct{}

// NewPurchaseOrderRepository creates a new PurchaseOrderRepository.
func NewPurchaseOrderRepository() PurchaseOrderRepository {
	return &purchaseOrderRepository{}
}

var _ PurchaseOrderRepository = (*purchaseOrderRepository)(nil)

func (r *purchaseOrderRepository) Insert(ctx context.Context, po *models.PurchaseOrder) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	po.CreatedAt = time.Now()
	po.UserID = scope.UserID
	po.ProjectID = scope.ProjectID
	if po.Status == "" {
		po.Status = models.POStatusGenerated
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO purchase_orders
			(po_number, user_id, project_id, workflow_id, vendor_id, vendor_name, vendor_email,
			 plant, storage_location, total_amount, status, needs_approval, order_date, pdf_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15)`,
		po.PONumber, po.UserID, po.ProjectID, po.WorkflowID, po.VendorID, po.VendorName,
		po.VendorEmail, po.Plant, po.StorageLocation, po.TotalAmount, po.Status,
		po.NeedsApproval, po.OrderDate, po.PDFPath, po.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert purchase order: %w", err)
	}
	return nil
}

func (r *purchaseOrderRepository) InsertLineItems(ctx context.Context, poNumber string, items []models.POLineItem) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		items[i].PONumber = poNumber

		_, err := scope.Conn.Exec(ctx, `
			INSERT INTO po_line_items
				(id, po_number, material_id, description, category, quantity, unit_cost, total_cost, order_numbers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			items[i].ID, poNumber, items[i].MaterialID, items[i].Description,
			items[i].Category, items[i].Quantity, items[i].UnitCost,
			items[i].TotalCost, items[i].OrderNumbers)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", i, err)
		}
	}
	return nil
}

func (r *purchaseOrderRepository) GetByNumber(ctx context.Context, poNumber string) (*models.PurchaseOrder, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT po_number, user_id, project_id, workflow_id, vendor_id, vendor_name,
		       COALESCE(vendor_email, ''), COALESCE(plant, ''), COALESCE(storage_location, ''),
		       total_amount, status, needs_approval, order_date, COALESCE(pdf_path, ''), created_at
		FROM purchase_orders
		WHERE po_number = $1 AND user_id = $2 AND project_id = $3`,
		poNumber, scope.UserID, scope.ProjectID)

	po, err := scanPurchaseOrder(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase order: %w", err)
	}

	po.LineItems, err = r.lineItems(ctx, scope, poNumber)
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (r *purchaseOrderRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.PurchaseOrder, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT po_number, user_id, project_id, workflow_id, vendor_id, vendor_name,
		       COALESCE(vendor_email, ''), COALESCE(plant, ''), COALESCE(storage_location, ''),
		       total_amount, status, needs_approval, order_date, COALESCE(pdf_path, ''), created_at
		FROM purchase_orders
		WHERE workflow_id = $1 AND user_id = $2 AND project_id = $3
		ORDER BY po_number`, workflowID, scope.UserID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	var pos []*models.PurchaseOrder
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		pos = append(pos, po)
	}
	return pos, rows.Err()
}

func (r *purchaseOrderRepository) UpdateStatus(ctx context.Context, poNumber string, status models.POStatus) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if !models.IsValidPOStatus(status) {
		return fmt.Errorf("invalid po status: %s", status)
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE purchase_orders SET status = $1
		WHERE po_number = $2 AND user_id = $3 AND project_id = $4`,
		status, poNumber, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("update po status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order %s not found", poNumber)
	}
	return nil
}

func (r *purchaseOrderRepository) Delete(ctx context.Context, poNumber string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		DELETE FROM purchase_orders
		WHERE po_number = $1 AND user_id = $2 AND project_id = $3`,
		poNumber, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("delete purchase order: %w", err)
	}
	return nil
}

func (r *purchaseOrderRepository) CountForDate(ctx context.Context, orderDate time.Time) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM purchase_orders
		WHERE user_id = $1 AND project_id = $2 AND order_date = $3`,
		scope.UserID, scope.ProjectID, orderDate).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count purchase orders: %w", err)
	}
	return count, nil
}

func (r *purchaseOrderRepository) NumberExists(ctx context.Context, poNumber string) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	var exists bool
	err := scope.Conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM purchase_orders
			WHERE po_number = $1 AND user_id = $2 AND project_id = $3
		)`, poNumber, scope.UserID, scope.ProjectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check po number: %w", err)
	}
	return exists, nil
}

func (r *purchaseOrderRepository) lineItems(ctx context.Context, scope *database.TenantScope, poNumber string) ([]models.POLineItem, error) {
	rows, err := scope.Conn.Query(ctx, `
		SELECT id, po_number, material_id, COALESCE(description, ''), COALESCE(category, ''),
		       quantity, unit_cost, total_cost, order_numbers
		FROM po_line_items
		WHERE po_number = $1
		ORDER BY material_id`, poNumber)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []models.POLineItem
	for rows.Next() {
		var item models.POLineItem
		if err := rows.Scan(&item.ID, &item.PONumber, &item.MaterialID, &item.Description,
			&item.Category, &item.Quantity, &item.UnitCost, &item.TotalCost, &item.OrderNumbers); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanPurchaseOrder(row rowScanner) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	if err := row.Scan(&po.PONumber, &po.UserID, &po.ProjectID, &po.WorkflowID,
		&po.VendorID, &po.VendorName, &po.VendorEmail, &po.Plant, &po.StorageLocation,
		&po.TotalAmount, &po.Status, &po.NeedsApproval, &po.OrderDate, &po.PDFPath,
		&po.CreatedAt); err != nil {
		return nil, err
	}
	return &po, nil
}
