package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

type stepTransition struct {
	step    int
	status  models.WorkflowStatus
	results *models.StepResults
	errMsg  string
}

type fakeWorkflowRepo struct {
	mu          sync.Mutex
	workflows   map[string]*models.POWorkflow
	transitions []stepTransition
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{workflows: make(map[string]*models.POWorkflow)}
}

func (f *fakeWorkflowRepo) Create(ctx context.Context, wf *models.POWorkflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[wf.WorkflowID] = wf
	return nil
}

func (f *fakeWorkflowRepo) GetByID(ctx context.Context, workflowID string) (*models.POWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workflows[workflowID], nil
}

func (f *fakeWorkflowRepo) List(ctx context.Context, limit int) ([]*models.POWorkflow, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) UpdateStep(ctx context.Context, workflowID string, step int, status models.WorkflowStatus, results *models.StepResults, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, stepTransition{step: step, status: status, results: results, errMsg: errorMessage})
	return nil
}

func (f *fakeWorkflowRepo) last(t *testing.T) stepTransition {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.transitions)
	return f.transitions[len(f.transitions)-1]
}

// scriptedSQLGen answers each pipeline step's question with canned rows,
// routed on the question's phrasing.
type scriptedSQLGen struct {
	skuRows      []map[string]any
	materialRows []map[string]any
	vendorRows   []map[string]any
}

func (s *scriptedSQLGen) Generate(ctx context.Context, query string, rc models.RetrievalContext, history []models.PromptTurn) *SQLGenerationResult {
	var rows []map[string]any
	switch {
	case strings.Contains(query, "vendor offer"):
		rows = s.vendorRows
	case strings.Contains(query, "packaging materials"):
		rows = s.materialRows
	default:
		rows = s.skuRows
	}
	return &SQLGenerationResult{
		SQL:         "SELECT 1",
		QueryResult: &models.QueryResult{TotalRows: len(rows)},
		Rows:        rows,
		Confidence:  0.9,
	}
}

type fakeApproval struct {
	mu        sync.Mutex
	requested []string
	sent      []string
	sendErr   error
}

func (f *fakeApproval) RequestApproval(ctx context.Context, po *models.PurchaseOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, po.PONumber)
	return nil
}

func (f *fakeApproval) Validate(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	return nil, nil
}

func (f *fakeApproval) Decide(ctx context.Context, token, approverEmail string, decision models.ApprovalStatus, comment string) *models.ApprovalDecision {
	return &models.ApprovalDecision{}
}

func (f *fakeApproval) SendToVendor(ctx context.Context, po *models.PurchaseOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, po.PONumber)
	return nil
}

type fakePDFRenderer struct {
	failVendors map[string]bool
}

func (f *fakePDFRenderer) RenderPO(ctx context.Context, po *models.PurchaseOrder) ([]byte, error) {
	if f.failVendors[po.VendorID] {
		return nil, fmt.Errorf("render failed for %s", po.VendorID)
	}
	return []byte("%PDF-1.4 " + po.PONumber), nil
}

type workflowHarness struct {
	workflowRepo *fakeWorkflowRepo
	poRepo       *fakePORepo
	sqlGen       *scriptedSQLGen
	approval     *fakeApproval
	renderer     *fakePDFRenderer
	storage      *fakeStorage
	notifier     *recordingNotifier
	svc          POWorkflowService
}

func newWorkflowHarness(threshold float64) *workflowHarness {
	h := &workflowHarness{
		workflowRepo: newFakeWorkflowRepo(),
		poRepo:       newFakePORepo(),
		sqlGen:       &scriptedSQLGen{},
		approval:     &fakeApproval{},
		renderer:     &fakePDFRenderer{},
		storage:      &fakeStorage{},
		notifier:     &recordingNotifier{},
	}
	tenantCtx := func(ctx context.Context, userID, projectID uuid.UUID) (context.Context, func(), error) {
		return scopedContext(), func() {}, nil
	}
	h.svc = NewPOWorkflowService(
		h.workflowRepo, h.poRepo, &fakeRetrieval{}, h.sqlGen,
		NewPONumberGenerator(h.poRepo, 99, zap.NewNop()),
		h.approval, h.renderer, h.storage, h.notifier, tenantCtx,
		config.WorkflowConfig{ApprovalThreshold: threshold},
		zap.NewNop())
	return h
}

// runToCompletion starts the workflow and blocks until the pipeline
// goroutine finishes.
func (h *workflowHarness) runToCompletion(t *testing.T) *models.POWorkflow {
	t.Helper()
	orderDate := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	wf, err := h.svc.Start(scopedContext(), orderDate, "generate POs for today")
	require.NoError(t, err)
	h.svc.Wait()
	return wf
}

func skuShortfallRows() []map[string]any {
	return []map[string]any{
		{"sku": "SKU-1", "description": "Cola 6-pack", "order_number": "SO-100", "required": 100, "at_hand": 40},
		{"sku": "SKU-2", "description": "Juice carton", "order_number": "SO-101", "required": 50, "at_hand": 80},
	}
}

func materialShortageRows() []map[string]any {
	return []map[string]any{
		{"material_id": "MAT-CARD", "description": "Cardboard tray", "category": "Packaging", "required": 60, "at_hand": 10},
		{"material_id": "MAT-FILM", "description": "Shrink film", "category": "Packaging", "required": 30, "at_hand": 5},
		{"material_id": "MAT-SUGAR", "description": "Sugar", "category": "raw_material", "required": 500, "at_hand": 0},
	}
}

func vendorOfferRows() []map[string]any {
	return []map[string]any{
		{"vendor_id": "VND-1", "vendor_name": "Acme Packaging", "vendor_email": "orders@acme.test",
			"plant": "P01", "storage_location": "L01", "material_id": "MAT-CARD", "unit_cost": 2.0, "quantity": 50},
		{"vendor_id": "VND-1", "vendor_name": "Acme Packaging", "vendor_email": "orders@acme.test",
			"plant": "P01", "storage_location": "L01", "material_id": "MAT-FILM", "unit_cost": 1.5, "quantity": 25},
		{"vendor_id": "VND-2", "vendor_name": "Globex Films", "vendor_email": "sales@globex.test",
			"plant": "P02", "storage_location": "L05", "material_id": "MAT-FILM", "unit_cost": 1.2, "quantity": 25},
		// Offer for a material that is not short; must never become a line.
		{"vendor_id": "VND-3", "vendor_name": "Padding Inc", "vendor_email": "x@pad.test",
			"plant": "P03", "storage_location": "L09", "material_id": "MAT-LABEL", "unit_cost": 0.1, "quantity": 10},
	}
}

func TestWorkflow_HappyPath(t *testing.T) {
	h := newWorkflowHarness(100000) // threshold far above all totals
	h.sqlGen.skuRows = skuShortfallRows()
	h.sqlGen.materialRows = materialShortageRows()
	h.sqlGen.vendorRows = vendorOfferRows()

	h.runToCompletion(t)

	last := h.workflowRepo.last(t)
	assert.Equal(t, 5, last.step)
	assert.Equal(t, models.WorkflowStatusCompleted, last.status)
	require.Len(t, last.results.POsGenerated, 2, "one PO per vendor group")
	assert.Empty(t, last.results.FailedVendors)

	// VND-1 groups two materials into one PO.
	acmePO := h.poRepo.pos[last.results.POsGenerated[0]]
	require.NotNil(t, acmePO)
	assert.Equal(t, "VND-1", acmePO.VendorID)
	assert.Len(t, h.poRepo.lineItems[acmePO.PONumber], 2)
	assert.Equal(t, "137.5", acmePO.TotalAmount.String(), "50*2.0 + 25*1.5")

	// Below threshold: straight to vendor, no approval requested.
	assert.Empty(t, h.approval.requested)
	assert.Len(t, h.approval.sent, 2)
	for _, po := range h.poRepo.pos {
		assert.Equal(t, models.POStatusSentToVendor, po.Status)
	}
}

func TestWorkflow_NoSKUShortfallCompletesEarly(t *testing.T) {
	h := newWorkflowHarness(100000)
	h.sqlGen.skuRows = []map[string]any{
		{"sku": "SKU-1", "required": 10, "at_hand": 50},
	}

	h.runToCompletion(t)

	last := h.workflowRepo.last(t)
	assert.Equal(t, 1, last.step)
	assert.Equal(t, models.WorkflowStatusCompleted, last.status)
	assert.Contains(t, last.results.Message, "No SKU shortfall")
	assert.Empty(t, h.poRepo.pos)
}

func TestWorkflow_NonPackagingShortagesIgnored(t *testing.T) {
	h := newWorkflowHarness(100000)
	h.sqlGen.skuRows = skuShortfallRows()
	h.sqlGen.materialRows = []map[string]any{
		{"material_id": "MAT-SUGAR", "category": "raw_material", "required": 500, "at_hand": 0},
	}

	h.runToCompletion(t)

	last := h.workflowRepo.last(t)
	assert.Equal(t, 2, last.step)
	assert.Equal(t, models.WorkflowStatusCompleted, last.status)
	assert.Contains(t, last.results.Message, "No packaging material shortfall")
}

func TestWorkflow_NoVendorOptionsFails(t *testing.T) {
	h := newWorkflowHarness(100000)
	h.sqlGen.skuRows = skuShortfallRows()
	h.sqlGen.materialRows = materialShortageRows()
	h.sqlGen.vendorRows = nil

	h.runToCompletion(t)

	last := h.workflowRepo.last(t)
	assert.Equal(t, 3, last.step)
	assert.Equal(t, models.WorkflowStatusFailed, last.status)
}

func TestWorkflow_ApprovalThresholdRoutesToApprover(t *testing.T) {
	h := newWorkflowHarness(100) // both POs exceed this
	h.sqlGen.skuRows = skuShortfallRows()
	h.sqlGen.materialRows = materialShortageRows()
	h.sqlGen.vendorRows = vendorOfferRows()[:2] // VND-1 only, total 130

	h.runToCompletion(t)

	require.Len(t, h.approval.requested, 1)
	assert.Empty(t, h.approval.sent)
	po := h.poRepo.pos[h.approval.requested[0]]
	require.NotNil(t, po)
	assert.True(t, po.NeedsApproval)
	assert.Equal(t, models.POStatusPendingApproval, po.Status)
}

func TestWorkflow_FailedVendorGroupIsIsolated(t *testing.T) {
	h := newWorkflowHarness(100000)
	h.sqlGen.skuRows = skuShortfallRows()
	h.sqlGen.materialRows = materialShortageRows()
	h.sqlGen.vendorRows = vendorOfferRows()
	h.renderer.failVendors = map[string]bool{"VND-2": true}

	h.runToCompletion(t)

	last := h.workflowRepo.last(t)
	assert.Equal(t, 5, last.step)
	assert.Equal(t, models.WorkflowStatusCompletedWithWarnings, last.status)
	require.Len(t, last.results.POsGenerated, 1)
	require.Len(t, last.results.FailedVendors, 1)
	assert.Equal(t, "VND-2", last.results.FailedVendors[0].VendorID)
	assert.Equal(t, models.VendorErrorPDFGeneration, last.results.FailedVendors[0].ErrorType)
}

func TestWorkflow_LineItemFailureCompensates(t *testing.T) {
	h := newWorkflowHarness(100000)
	h.sqlGen.skuRows = skuShortfallRows()
	h.sqlGen.materialRows = materialShortageRows()
	h.sqlGen.vendorRows = vendorOfferRows()[:2] // single vendor group
	h.poRepo.lineItemsErr = fmt.Errorf("constraint violation")

	h.runToCompletion(t)

	last := h.workflowRepo.last(t)
	assert.Equal(t, 4, last.step)
	assert.Equal(t, models.WorkflowStatusFailed, last.status)
	assert.Empty(t, h.poRepo.pos, "compensation must remove the orphaned PO row")
	assert.Empty(t, h.storage.objects, "compensation must remove the uploaded PDF")
}

func TestWorkflow_GetProgressUnknownID(t *testing.T) {
	h := newWorkflowHarness(100000)
	_, err := h.svc.GetProgress(context.Background(), "PO-WF-00000000-dead")
	assert.Error(t, err)
}
