package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// fakeApprovalRepo mimics the conditional-update semantics of the real
// repository: Decide succeeds at most once per token.
type fakeApprovalRepo struct {
	mu       sync.Mutex
	requests map[string]*models.ApprovalRequest // token -> request
	pos      map[string]*models.PurchaseOrder
	statuses map[string]models.POStatus
}

func newFakeApprovalRepo() *fakeApprovalRepo {
	return &fakeApprovalRepo{
		requests: make(map[string]*models.ApprovalRequest),
		pos:      make(map[string]*models.PurchaseOrder),
		statuses: make(map[string]models.POStatus),
	}
}

func (f *fakeApprovalRepo) Create(ctx context.Context, req *models.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[req.ApprovalToken] = req
	return nil
}

func (f *fakeApprovalRepo) FindValid(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[token]
	if !ok || req.Status != models.ApprovalStatusPending || time.Now().After(req.TokenExpiresAt) {
		return nil, nil
	}
	return req, nil
}

func (f *fakeApprovalRepo) Decide(ctx context.Context, token, approverEmail string, decision models.ApprovalStatus, comment string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[token]
	if !ok || req.Status != models.ApprovalStatusPending ||
		!strings.EqualFold(req.ApproverEmail, approverEmail) ||
		time.Now().After(req.TokenExpiresAt) {
		return "", nil
	}
	req.Status = decision
	req.DecidedBy = approverEmail
	req.DecisionComment = comment
	return req.PONumber, nil
}

func (f *fakeApprovalRepo) ConsumeToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.requests[token]; ok {
		delete(f.requests, token)
		f.requests["USED_"+token] = req
	}
	return nil
}

func (f *fakeApprovalRepo) GetByPONumber(ctx context.Context, poNumber string) (*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.PONumber == poNumber {
			return req, nil
		}
	}
	return nil, nil
}

func (f *fakeApprovalRepo) GetPO(ctx context.Context, poNumber string) (*models.PurchaseOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos[poNumber], nil
}

func (f *fakeApprovalRepo) UpdatePOStatus(ctx context.Context, poNumber string, status models.POStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[poNumber] = status
	return nil
}

type recordingEmailSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (r *recordingEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) Upload(ctx context.Context, data []byte, tenantPath string) (string, error) {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[tenantPath] = data
	return tenantPath, nil
}

func (f *fakeStorage) Download(ctx context.Context, path string) ([]byte, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return data, nil
}

func (f *fakeStorage) Delete(ctx context.Context, path string) error {
	delete(f.objects, path)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.WorkflowEventType
}

func (r *recordingNotifier) Notify(projectID uuid.UUID, eventType models.WorkflowEventType, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func testPO(poNumber string) *models.PurchaseOrder {
	return &models.PurchaseOrder{
		PONumber:    poNumber,
		UserID:      uuid.New(),
		ProjectID:   uuid.New(),
		WorkflowID:  "wf-1",
		VendorID:    "VND-1",
		VendorName:  "Acme Supply",
		VendorEmail: "orders@acme.test",
		TotalAmount: decimal.NewFromFloat(1234.50),
		Status:      models.POStatusPendingApproval,
		OrderDate:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
}

func newApprovalHarness(t *testing.T) (*fakeApprovalRepo, *recordingEmailSender, *fakeStorage, *recordingNotifier, ApprovalService) {
	t.Helper()
	repo := newFakeApprovalRepo()
	email := &recordingEmailSender{}
	storage := &fakeStorage{}
	notifier := &recordingNotifier{}
	svc := NewApprovalService(repo, email, storage, notifier,
		config.ApprovalConfig{TokenTTL: time.Hour, PublicBase: "https://engine.test"},
		config.WorkflowConfig{ApproverEmail: "approver@retail.test", CompanyName: "Retail AI"},
		zap.NewNop())
	return repo, email, storage, notifier, svc
}

func mintedToken(t *testing.T, repo *fakeApprovalRepo) string {
	t.Helper()
	require.Len(t, repo.requests, 1)
	for token := range repo.requests {
		return token
	}
	return ""
}

func TestRequestApproval(t *testing.T) {
	repo, email, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-001")

	require.NoError(t, svc.RequestApproval(context.Background(), po))

	token := mintedToken(t, repo)
	req := repo.requests[token]
	assert.Equal(t, po.PONumber, req.PONumber)
	assert.Equal(t, "approver@retail.test", req.ApproverEmail)
	assert.Equal(t, models.ApprovalStatusPending, req.Status)
	assert.True(t, req.TokenExpiresAt.After(time.Now()))

	require.Len(t, email.sent, 1)
	assert.Equal(t, "approver@retail.test", email.sent[0].To)
	assert.Contains(t, email.sent[0].HTMLBody, "action=approve")
	assert.Contains(t, email.sent[0].HTMLBody, token)
}

func TestRequestApproval_NoApproverConfigured(t *testing.T) {
	repo := newFakeApprovalRepo()
	svc := NewApprovalService(repo, &recordingEmailSender{}, &fakeStorage{}, &recordingNotifier{},
		config.ApprovalConfig{TokenTTL: time.Hour}, config.WorkflowConfig{}, zap.NewNop())

	err := svc.RequestApproval(context.Background(), testPO("PO-1"))
	assert.Error(t, err)
	assert.Empty(t, repo.requests)
}

func TestValidate(t *testing.T) {
	repo, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-001")
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	req, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, po.PONumber, req.PONumber)

	// Empty and unknown tokens look identical to the caller.
	req, err = svc.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, req)

	req, err = svc.Validate(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestDecide_ApproveSendsToVendor(t *testing.T) {
	repo, email, storage, notifier, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-001")
	po.PDFPath = "tenant/docs/po.pdf"
	storage.objects = map[string][]byte{"tenant/docs/po.pdf": []byte("%PDF-1.4 fake")}
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	decision := svc.Decide(context.Background(), token, "approver@retail.test", models.ApprovalStatusApproved, "looks right")

	require.True(t, decision.Success)
	assert.Equal(t, po.PONumber, decision.PONumber)
	assert.Equal(t, models.POStatusSentToVendor, repo.statuses[po.PONumber])

	// Approval email plus vendor email, PDF attached.
	require.Len(t, email.sent, 2)
	vendorMsg := email.sent[1]
	assert.Equal(t, "orders@acme.test", vendorMsg.To)
	assert.Equal(t, po.PONumber+".pdf", vendorMsg.AttachmentName)
	assert.NotEmpty(t, vendorMsg.Attachment)

	assert.Len(t, notifier.events, 2, "status update broadcast for approved and sent_to_vendor")
}

func TestDecide_Reject(t *testing.T) {
	repo, email, _, notifier, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-002")
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	decision := svc.Decide(context.Background(), token, "approver@retail.test", models.ApprovalStatusRejected, "wrong vendor")

	require.True(t, decision.Success)
	assert.Equal(t, models.POStatusRejected, repo.statuses[po.PONumber])
	assert.Len(t, email.sent, 1, "no vendor email on rejection")
	assert.Len(t, notifier.events, 1)
}

func TestDecide_TokenIsSingleUse(t *testing.T) {
	repo, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-003")
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	first := svc.Decide(context.Background(), token, "approver@retail.test", models.ApprovalStatusApproved, "")
	second := svc.Decide(context.Background(), token, "approver@retail.test", models.ApprovalStatusRejected, "")

	assert.True(t, first.Success)
	assert.False(t, second.Success)
	assert.Equal(t, "Invalid or expired approval token", second.Error)
}

func TestDecide_ConcurrentDuplicatesResolveToOneSuccess(t *testing.T) {
	repo, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-007")
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	const racers = 8
	decisions := make([]*models.ApprovalDecision, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = svc.Decide(context.Background(), token,
				"approver@retail.test", models.ApprovalStatusApproved, "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, d := range decisions {
		if d.Success {
			successes++
			assert.Equal(t, po.PONumber, d.PONumber)
		} else {
			assert.Equal(t, "Invalid or expired approval token", d.Error, "racer %d", i)
		}
	}
	assert.Equal(t, 1, successes, "exactly one duplicate decide may win")
}

func TestValidateAndDecide_ExpiredToken(t *testing.T) {
	repo, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-008")
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)
	repo.requests[token].TokenExpiresAt = time.Now().Add(-time.Minute)

	req, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, req, "expired token must not validate")

	decision := svc.Decide(context.Background(), token,
		"approver@retail.test", models.ApprovalStatusApproved, "")
	assert.False(t, decision.Success)
	assert.Equal(t, "Invalid or expired approval token", decision.Error)
	assert.Equal(t, models.ApprovalStatusPending, repo.requests[token].Status,
		"expired request must stay untouched")
}

func TestDecide_EmptyApproverDefaultsToConfigured(t *testing.T) {
	// Email links carry only the token; an empty approver email must still
	// match the request minted for the configured approver.
	repo, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-004")
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	decision := svc.Decide(context.Background(), token, "", models.ApprovalStatusApproved, "")
	assert.True(t, decision.Success)
}

func TestDecide_WrongApproverRejected(t *testing.T) {
	repo, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-005")
	repo.pos[po.PONumber] = po
	require.NoError(t, svc.RequestApproval(context.Background(), po))
	token := mintedToken(t, repo)

	decision := svc.Decide(context.Background(), token, "intruder@evil.test", models.ApprovalStatusApproved, "")
	assert.False(t, decision.Success)
}

func TestSendToVendor_NoVendorEmail(t *testing.T) {
	_, _, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-006")
	po.VendorEmail = ""

	err := svc.SendToVendor(context.Background(), po)
	assert.Error(t, err)
}

func TestSendToVendor_MissingPDFStillSends(t *testing.T) {
	_, email, _, _, svc := newApprovalHarness(t)
	po := testPO("PO-20260314-VND-1-007")
	po.PDFPath = "tenant/docs/missing.pdf"

	require.NoError(t, svc.SendToVendor(context.Background(), po))
	require.Len(t, email.sent, 1)
	assert.Empty(t, email.sent[0].Attachment)
}
