package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// WorkflowRepository provides data access for PO workflow runs.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *models.POWorkflow) error
	GetByID(ctx context.Context, workflowID string) (*models.POWorkflow, error)
	List(ctx context.Context, limit int) ([]*models.POWorkflow, error)

	// UpdateStep atomically persists one step transition: step, status,
	// wholesale-replaced step results, and error message in a single UPDATE.
	UpdateStep(ctx context.Context, workflowID string, step int, status models.WorkflowStatus, results *models.StepResults, errorMessage string) error
}

type workflowRepository struct{}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository() WorkflowRepository {
	return &workflowRepository{}
}

var _ WorkflowRepository = (*workflowRepository)(nil)

func (r *workflowRepository) Create(ctx context.Context, wf *models.POWorkflow) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.UserID = scope.UserID
	wf.ProjectID = scope.ProjectID
	if wf.Status == "" {
		wf.Status = models.WorkflowStatusRunning
	}

	var resultsJSON []byte
	var err error
	if wf.StepResults != nil {
		resultsJSON, err = json.Marshal(wf.StepResults)
		if err != nil {
			return fmt.Errorf("marshal step_results: %w", err)
		}
	}

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO po_workflows
			(workflow_id, user_id, project_id, order_date, current_step, status, step_results, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		wf.WorkflowID, wf.UserID, wf.ProjectID, wf.OrderDate, wf.CurrentStep,
		wf.Status, resultsJSON, wf.ErrorMessage, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) GetByID(ctx context.Context, workflowID string) (*models.POWorkflow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT workflow_id, user_id, project_id, order_date, current_step, status,
		       step_results, COALESCE(error_message, ''), created_at, updated_at
		FROM po_workflows
		WHERE workflow_id = $1 AND user_id = $2 AND project_id = $3`,
		workflowID, scope.UserID, scope.ProjectID)

	wf, err := scanWorkflow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (r *workflowRepository) List(ctx context.Context, limit int) ([]*models.POWorkflow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT workflow_id, user_id, project_id, order_date, current_step, status,
		       step_results, COALESCE(error_message, ''), created_at, updated_at
		FROM po_workflows
		WHERE user_id = $1 AND project_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, scope.UserID, scope.ProjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var wfs []*models.POWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

func (r *workflowRepository) UpdateStep(ctx context.Context, workflowID string, step int, status models.WorkflowStatus, results *models.StepResults, errorMessage string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if !models.IsValidWorkflowStatus(status) {
		return fmt.Errorf("invalid workflow status: %s", status)
	}

	var resultsJSON []byte
	var err error
	if results != nil {
		resultsJSON, err = json.Marshal(results)
		if err != nil {
			return fmt.Errorf("marshal step_results: %w", err)
		}
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE po_workflows
		SET current_step = $1, status = $2, step_results = $3,
		    error_message = NULLIF($4, ''), updated_at = $5
		WHERE workflow_id = $6 AND user_id = $7 AND project_id = $8`,
		step, status, resultsJSON, errorMessage, time.Now(),
		workflowID, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("update workflow step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s not found", workflowID)
	}
	return nil
}

func scanWorkflow(row rowScanner) (*models.POWorkflow, error) {
	var wf models.POWorkflow
	var resultsJSON []byte
	if err := row.Scan(&wf.WorkflowID, &wf.UserID, &wf.ProjectID, &wf.OrderDate,
		&wf.CurrentStep, &wf.Status, &resultsJSON, &wf.ErrorMessage,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if len(resultsJSON) > 0 {
		wf.StepResults = &models.StepResults{}
		if err := json.Unmarshal(resultsJSON, wf.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step_results: %w", err)
		}
	}
	return &wf, nil
}
