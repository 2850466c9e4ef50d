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

// ApprovalRepository provides data access for approval requests. Unlike the
// tenant repositories it operates on unscoped connections: the approver acts
// through a bearer token, not an authenticated tenant session.
type ApprovalRepository interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error

	// FindValid returns the request for a token only when the token matches,
	// status is pending, and the expiry has not passed. Any condition
	// failing yields (nil, nil); callers cannot distinguish which condition
	// failed.
	FindValid(ctx context.Context, token string) (*models.ApprovalRequest, error)

	// Decide records a decision in one conditional UPDATE that requires
	// token match, case-insensitive approver email match, pending status,
	// and an unexpired token, returning the affected PO number. Zero rows
	// means the token was invalid, expired, bound to a different approver,
	// or already consumed by a racing decision.
	Decide(ctx context.Context, token, approverEmail string, decision models.ApprovalStatus, comment string) (string, error)

	// ConsumeToken rewrites the token with a USED_ prefix after a decision.
	// Status already blocks reuse; this guards code paths that only check
	// the token string.
	ConsumeToken(ctx context.Context, token string) error

	GetByPONumber(ctx context.Context, poNumber string) (*models.ApprovalRequest, error)

	// GetPO and UpdatePOStatus act on the purchase order unscoped; the
	// approver decides via bearer token without an authenticated session.
	GetPO(ctx context.Context, poNumber string) (*models.PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, poNumber string, status models.POStatus) error
}

type approvalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

var _ ApprovalRepository = (*approvalRepository)(nil)

func (r *approvalRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	if req.Status == "" {
		req.Status = models.ApprovalStatusPending
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO po_approvals
			(id, po_number, approver_email, approval_token, token_expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.PONumber, req.ApproverEmail, req.ApprovalToken,
		req.TokenExpiresAt, req.Status, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

func (r *approvalRepository) FindValid(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, po_number, approver_email, approval_token, token_expires_at, status,
		       COALESCE(decided_by, ''), COALESCE(decision_comment, ''), decided_at, created_at
		FROM po_approvals
		WHERE approval_token = $1
		  AND status = 'pending'
		  AND token_expires_at > NOW()`, token)

	req, err := scanApproval(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find approval by token: %w", err)
	}
	return req, nil
}

func (r *approvalRepository) Decide(ctx context.Context, token, approverEmail string, decision models.ApprovalStatus, comment string) (string, error) {
	if decision != models.ApprovalStatusApproved && decision != models.ApprovalStatusRejected {
		return "", fmt.Errorf("invalid approval decision: %s", decision)
	}

	// The WHERE clause is the whole concurrency story: once one decision
	// flips status away from pending, a racing duplicate matches zero rows.
	var poNumber string
	err := r.db.QueryRow(ctx, `
		UPDATE po_approvals
		SET status = $1, decided_by = $2, decision_comment = NULLIF($3, ''), decided_at = $4
		WHERE approval_token = $5
		  AND LOWER(approver_email) = LOWER($6)
		  AND status = 'pending'
		  AND token_expires_at > NOW()
		RETURNING po_number`,
		decision, approverEmail, comment, time.Now(), token, approverEmail).Scan(&poNumber)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("record approval decision: %w", err)
	}
	return poNumber, nil
}

func (r *approvalRepository) ConsumeToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE po_approvals
		SET approval_token = 'USED_' || approval_token
		WHERE approval_token = $1 AND status != 'pending'`, token)
	if err != nil {
		return fmt.Errorf("consume approval token: %w", err)
	}
	return nil
}

func (r *approvalRepository) GetByPONumber(ctx context.Context, poNumber string) (*models.ApprovalRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, po_number, approver_email, approval_token, token_expires_at, status,
		       COALESCE(decided_by, ''), COALESCE(decision_comment, ''), decided_at, created_at
		FROM po_approvals
		WHERE po_number = $1`, poNumber)

	req, err := scanApproval(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval by po number: %w", err)
	}
	return req, nil
}

func (r *approvalRepository) GetPO(ctx context.Context, poNumber string) (*models.PurchaseOrder, error) {
	row := r.db.QueryRow(ctx, `
		SELECT po_number, user_id, project_id, workflow_id, vendor_id, vendor_name,
		       COALESCE(vendor_email, ''), COALESCE(plant, ''), COALESCE(storage_location, ''),
		       total_amount, status, needs_approval, order_date, COALESCE(pdf_path, ''), created_at
		FROM purchase_orders
		WHERE po_number = $1`, poNumber)

	po, err := scanPurchaseOrder(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase order for approval: %w", err)
	}
	return po, nil
}

func (r *approvalRepository) UpdatePOStatus(ctx context.Context, poNumber string, status models.POStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE purchase_orders SET status = $1 WHERE po_number = $2`, status, poNumber)
	if err != nil {
		return fmt.Errorf("update purchase order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase order %s not found", poNumber)
	}
	return nil
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if err := row.Scan(&req.ID, &req.PONumber, &req.ApproverEmail, &req.ApprovalToken,
		&req.TokenExpiresAt, &req.Status, &req.DecidedBy, &req.DecisionComment,
		&req.DecidedAt, &req.CreatedAt); err != nil {
		return nil, err
	}
	return &req, nil
}
