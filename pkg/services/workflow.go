package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

// POWorkflowService runs the five-step purchase-order generation pipeline:
// SKU shortfall, packaging-material shortfall, vendor procurement costing,
// PO generation, and dispatch. The pipeline runs as a supervised background
// goroutine decoupled from the triggering request; progress is persisted per
// step and broadcast to live project subscribers.
type POWorkflowService interface {
	// Start creates the workflow row and launches the pipeline, returning
	// immediately with the workflow snapshot.
	Start(ctx context.Context, orderDate time.Time, triggerQuery string) (*models.POWorkflow, error)

	// GetProgress returns the persisted workflow state for polling clients.
	GetProgress(ctx context.Context, workflowID string) (*models.POWorkflow, error)

	List(ctx context.Context, limit int) ([]*models.POWorkflow, error)

	// Wait blocks until all in-flight workflow goroutines finish. Called
	// during shutdown so abandonment is observed rather than silent.
	Wait()
}

type poWorkflowService struct {
	workflowRepo repositories.WorkflowRepository
	poRepo       repositories.PurchaseOrderRepository
	retrieval    RetrievalService
	sqlGen       SQLGenerationService
	poNumbers    PONumberGenerator
	approval     ApprovalService
	pdfRenderer  PDFRenderer
	storage      ObjectStorage
	notifier     Notifier
	tenantCtx    TenantContextFunc

	approvalThreshold decimal.Decimal
	logger            *zap.Logger

	wg sync.WaitGroup
}

// NewPOWorkflowService creates a new POWorkflowService.
func NewPOWorkflowService(
	workflowRepo repositories.WorkflowRepository,
	poRepo repositories.PurchaseOrderRepository,
	retrieval RetrievalService,
	sqlGen SQLGenerationService,
	poNumbers PONumberGenerator,
	approval ApprovalService,
	pdfRenderer PDFRenderer,
	storage ObjectStorage,
	notifier Notifier,
	tenantCtx TenantContextFunc,
	cfg config.WorkflowConfig,
	logger *zap.Logger,
) POWorkflowService {
	return &poWorkflowService{
		workflowRepo:      workflowRepo,
		poRepo:            poRepo,
		retrieval:         retrieval,
		sqlGen:            sqlGen,
		poNumbers:         poNumbers,
		approval:          approval,
		pdfRenderer:       pdfRenderer,
		storage:           storage,
		notifier:          notifier,
		tenantCtx:         tenantCtx,
		approvalThreshold: decimal.NewFromFloat(cfg.ApprovalThreshold),
		logger:            logger,
	}
}

var _ POWorkflowService = (*poWorkflowService)(nil)

func (s *poWorkflowService) Start(ctx context.Context, orderDate time.Time, triggerQuery string) (*models.POWorkflow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	workflowID, err := newWorkflowID(orderDate)
	if err != nil {
		return nil, err
	}

	wf := &models.POWorkflow{
		WorkflowID:  workflowID,
		OrderDate:   orderDate,
		CurrentStep: 0,
		Status:      models.WorkflowStatusRunning,
	}
	if err := s.workflowRepo.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	// The request's tenant scope closes when the handler returns, so the
	// pipeline acquires its own scope on a background context.
	userID, projectID := scope.UserID, scope.ProjectID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Workflow panicked",
					zap.String("workflow_id", workflowID),
					zap.Any("panic", r))
			}
		}()

		runCtx, cleanup, err := s.tenantCtx(context.Background(), userID, projectID)
		if err != nil {
			s.logger.Error("Workflow could not acquire tenant scope",
				zap.String("workflow_id", workflowID), zap.Error(err))
			return
		}
		defer cleanup()

		s.run(runCtx, wf, projectID)
	}()

	s.logger.Info("Workflow started",
		zap.String("workflow_id", workflowID),
		zap.Time("order_date", orderDate))
	return wf, nil
}

func (s *poWorkflowService) GetProgress(ctx context.Context, workflowID string) (*models.POWorkflow, error) {
	wf, err := s.workflowRepo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, apperrors.ErrNotFound
	}
	return wf, nil
}

func (s *poWorkflowService) List(ctx context.Context, limit int) ([]*models.POWorkflow, error) {
	return s.workflowRepo.List(ctx, limit)
}

func (s *poWorkflowService) Wait() {
	s.wg.Wait()
}

// run executes the five steps strictly sequentially: each step's persisted
// transition completes before the next step starts, because each step's
// input is the previous step's output.
func (s *poWorkflowService) run(ctx context.Context, wf *models.POWorkflow, projectID uuid.UUID) {
	// Step 1: SKU shortfall.
	s.progress(ctx, wf, projectID, 1, "Checking SKU stock against orders")
	shortfalls, orderNumbers, err := s.stepSKUShortfall(ctx, wf.OrderDate)
	if err != nil {
		s.fail(ctx, wf, projectID, 1, fmt.Sprintf("SKU shortfall check failed: %v", err))
		return
	}
	if len(shortfalls) == 0 {
		s.complete(ctx, wf, projectID, 1, &models.StepResults{
			Message: "No SKU shortfall for the order date; no action needed.",
		})
		return
	}
	s.transition(ctx, wf, projectID, 1, models.WorkflowStatusRunning, &models.StepResults{
		Message:       fmt.Sprintf("%d SKUs short across %d orders", len(shortfalls), len(orderNumbers)),
		SKUShortfalls: shortfalls,
	}, "")

	// Step 2: packaging-material shortfall.
	s.progress(ctx, wf, projectID, 2, "Checking packaging material stock")
	materials, err := s.stepMaterialShortfall(ctx, shortfalls)
	if err != nil {
		s.fail(ctx, wf, projectID, 2, fmt.Sprintf("Material shortfall check failed: %v", err))
		return
	}
	if len(materials) == 0 {
		s.complete(ctx, wf, projectID, 2, &models.StepResults{
			Message:       "No packaging material shortfall; no purchase orders needed.",
			SKUShortfalls: shortfalls,
		})
		return
	}
	s.transition(ctx, wf, projectID, 2, models.WorkflowStatusRunning, &models.StepResults{
		Message:   fmt.Sprintf("%d packaging materials short", len(materials)),
		Materials: materials,
	}, "")

	// Step 3: vendor procurement costing.
	s.progress(ctx, wf, projectID, 3, "Costing vendor procurement options")
	vendorOptions, err := s.stepVendorCosting(ctx, materials, orderNumbers)
	if err != nil {
		s.fail(ctx, wf, projectID, 3, fmt.Sprintf("Vendor costing failed: %v", err))
		return
	}
	if len(vendorOptions) == 0 {
		// No vendors means the shortfall cannot be procured at all.
		s.fail(ctx, wf, projectID, 3, "No vendor options found for the required materials")
		return
	}
	s.transition(ctx, wf, projectID, 3, models.WorkflowStatusRunning, &models.StepResults{
		Message:       fmt.Sprintf("%d vendor options across %d vendor groups", len(vendorOptions), countGroups(vendorOptions)),
		VendorOptions: vendorOptions,
	}, "")

	// Step 4: PO generation, failure isolated per vendor group.
	s.progress(ctx, wf, projectID, 4, "Generating purchase orders")
	posGenerated, failedVendors := s.stepGeneratePOs(ctx, wf, vendorOptions)
	if len(posGenerated) == 0 {
		s.transition(ctx, wf, projectID, 4, models.WorkflowStatusFailed, &models.StepResults{
			Message:       "All vendor groups failed PO generation",
			FailedVendors: failedVendors,
		}, "all vendor groups failed")
		s.notifier.Notify(projectID, models.EventWorkflowError, map[string]any{
			"workflow_id": wf.WorkflowID,
			"step":        4,
			"error":       "all vendor groups failed",
		})
		return
	}
	status := models.WorkflowStatusRunning
	if len(failedVendors) > 0 {
		s.logger.Warn("Workflow continuing with partial PO generation",
			zap.String("workflow_id", wf.WorkflowID),
			zap.Int("generated", len(posGenerated)),
			zap.Int("failed", len(failedVendors)))
	}
	s.transition(ctx, wf, projectID, 4, status, &models.StepResults{
		Message:       fmt.Sprintf("%d purchase orders generated, %d vendor groups failed", len(posGenerated), len(failedVendors)),
		POsGenerated:  posGenerated,
		FailedVendors: failedVendors,
	}, "")

	// Step 5: dispatch the successful subset.
	s.progress(ctx, wf, projectID, 5, "Dispatching purchase orders")
	dispatches := s.stepDispatch(ctx, posGenerated)

	finalStatus := models.WorkflowStatusCompleted
	if len(failedVendors) > 0 {
		finalStatus = models.WorkflowStatusCompletedWithWarnings
	}
	s.transition(ctx, wf, projectID, 5, finalStatus, &models.StepResults{
		Message:       fmt.Sprintf("Workflow finished: %d POs dispatched", len(dispatches)),
		POsGenerated:  posGenerated,
		FailedVendors: failedVendors,
		Dispatches:    dispatches,
	}, "")
	s.notifier.Notify(projectID, models.EventWorkflowComplete, map[string]any{
		"workflow_id": wf.WorkflowID,
		"status":      finalStatus,
		"pos":         posGenerated,
	})
	s.logger.Info("Workflow complete",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("status", string(finalStatus)))
}

func (s *poWorkflowService) progress(ctx context.Context, wf *models.POWorkflow, projectID uuid.UUID, step int, message string) {
	s.notifier.Notify(projectID, models.EventWorkflowProgress, map[string]any{
		"workflow_id": wf.WorkflowID,
		"step":        step,
		"message":     message,
	})
}

// transition persists one step transition atomically and broadcasts it.
func (s *poWorkflowService) transition(ctx context.Context, wf *models.POWorkflow, projectID uuid.UUID, step int, status models.WorkflowStatus, results *models.StepResults, errorMessage string) {
	if err := s.workflowRepo.UpdateStep(ctx, wf.WorkflowID, step, status, results, errorMessage); err != nil {
		s.logger.Error("Failed to persist workflow transition",
			zap.String("workflow_id", wf.WorkflowID),
			zap.Int("step", step), zap.Error(err))
	}
	wf.CurrentStep = step
	wf.Status = status
	wf.StepResults = results
	s.notifier.Notify(projectID, models.EventWorkflowProgress, map[string]any{
		"workflow_id": wf.WorkflowID,
		"step":        step,
		"status":      status,
		"message":     results.Message,
	})
}

func (s *poWorkflowService) complete(ctx context.Context, wf *models.POWorkflow, projectID uuid.UUID, step int, results *models.StepResults) {
	s.transition(ctx, wf, projectID, step, models.WorkflowStatusCompleted, results, "")
	s.notifier.Notify(projectID, models.EventWorkflowComplete, map[string]any{
		"workflow_id": wf.WorkflowID,
		"status":      models.WorkflowStatusCompleted,
		"message":     results.Message,
	})
}

func (s *poWorkflowService) fail(ctx context.Context, wf *models.POWorkflow, projectID uuid.UUID, step int, errorMessage string) {
	s.transition(ctx, wf, projectID, step, models.WorkflowStatusFailed, &models.StepResults{Message: errorMessage}, errorMessage)
	s.notifier.Notify(projectID, models.EventWorkflowError, map[string]any{
		"workflow_id": wf.WorkflowID,
		"step":        step,
		"error":       errorMessage,
	})
	s.logger.Error("Workflow failed",
		zap.String("workflow_id", wf.WorkflowID),
		zap.Int("step", step),
		zap.String("error", errorMessage))
}

func countGroups(options []models.VendorOption) int {
	groups := make(map[string]bool)
	for _, opt := range options {
		groups[opt.GroupKey()] = true
	}
	return len(groups)
}

// newWorkflowID builds a human-meaningful, globally unique workflow id.
func newWorkflowID(orderDate time.Time) (string, error) {
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate workflow id: %w", err)
	}
	return fmt.Sprintf("PO-WF-%s-%s", orderDate.Format("20060102"), hex.EncodeToString(random)), nil
}
