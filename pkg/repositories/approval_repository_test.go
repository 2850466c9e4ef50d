//go:build integration

package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/testhelpers"
)

type approvalTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     ApprovalRepository
	poRepo   PurchaseOrderRepository
}

func setupApprovalTest(t *testing.T) *approvalTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	return &approvalTestContext{
		t:        t,
		engineDB: engineDB,
		repo:     NewApprovalRepository(engineDB.DB),
		poRepo:   NewPurchaseOrderRepository(),
	}
}

// seedPO inserts a purchase order under a fresh tenant; approvals reference
// it by number.
func (tc *approvalTestContext) seedPO(suffix string) string {
	tc.t.Helper()
	scope, err := tc.engineDB.DB.WithTenant(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		tc.t.Fatalf("failed to open tenant scope: %v", err)
	}
	tc.t.Cleanup(scope.Close)
	ctx := database.SetTenantScope(context.Background(), scope)

	poNumber := "PO-20260314-VND-9-" + suffix
	err = tc.poRepo.Insert(ctx, &models.PurchaseOrder{
		PONumber:      poNumber,
		UserID:        scope.UserID,
		ProjectID:     scope.ProjectID,
		WorkflowID:    "wf-" + suffix,
		VendorID:      "VND-9",
		VendorName:    "Test Vendor",
		TotalAmount:   decimal.RequireFromString("250.00"),
		Status:        models.POStatusPendingApproval,
		NeedsApproval: true,
		OrderDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		tc.t.Fatalf("failed to seed purchase order: %v", err)
	}
	return poNumber
}

func (tc *approvalTestContext) seedApproval(poNumber, token string, expiresAt time.Time) {
	tc.t.Helper()
	err := tc.repo.Create(context.Background(), &models.ApprovalRequest{
		PONumber:       poNumber,
		ApproverEmail:  "approver@retail.test",
		ApprovalToken:  token,
		TokenExpiresAt: expiresAt,
	})
	if err != nil {
		tc.t.Fatalf("failed to create approval request: %v", err)
	}
}

func TestDecide_ConcurrentDuplicatesResolveToOneSuccess(t *testing.T) {
	tc := setupApprovalTest(t)
	poNumber := tc.seedPO("801")
	tc.seedApproval(poNumber, "race-token", time.Now().Add(time.Hour))

	const racers = 8
	results := make([]string, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tc.repo.Decide(context.Background(),
				"race-token", "approver@retail.test", models.ApprovalStatusApproved,
				fmt.Sprintf("decision %d", i))
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d errored: %v", i, errs[i])
		}
		if results[i] == poNumber {
			successes++
		} else if results[i] != "" {
			t.Errorf("racer %d got unexpected po number %q", i, results[i])
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one winning decide, got %d", successes)
	}

	req, err := tc.repo.GetByPONumber(context.Background(), poNumber)
	if err != nil || req == nil {
		t.Fatalf("failed to load approval after race: %v", err)
	}
	if req.Status != models.ApprovalStatusApproved {
		t.Errorf("status = %s, want approved", req.Status)
	}
}

func TestFindValid_ExpiredToken(t *testing.T) {
	tc := setupApprovalTest(t)
	poNumber := tc.seedPO("802")
	tc.seedApproval(poNumber, "stale-token", time.Now().Add(-time.Minute))

	req, err := tc.repo.FindValid(context.Background(), "stale-token")
	if err != nil {
		t.Fatalf("find valid failed: %v", err)
	}
	if req != nil {
		t.Error("expired token must not validate")
	}

	got, err := tc.repo.Decide(context.Background(), "stale-token",
		"approver@retail.test", models.ApprovalStatusApproved, "")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if got != "" {
		t.Errorf("decide on expired token returned %q, want empty", got)
	}
}

func TestDecide_WrongApproverMatchesNothing(t *testing.T) {
	tc := setupApprovalTest(t)
	poNumber := tc.seedPO("803")
	tc.seedApproval(poNumber, "bound-token", time.Now().Add(time.Hour))

	got, err := tc.repo.Decide(context.Background(), "bound-token",
		"somebody-else@retail.test", models.ApprovalStatusRejected, "")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if got != "" {
		t.Errorf("wrong approver decided %q, want empty", got)
	}

	// Case differences in the bound address still match.
	got, err = tc.repo.Decide(context.Background(), "bound-token",
		"APPROVER@Retail.Test", models.ApprovalStatusRejected, "")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if got != poNumber {
		t.Errorf("case-insensitive approver match failed, got %q", got)
	}
}

func TestConsumeToken_RetiresTheTokenString(t *testing.T) {
	tc := setupApprovalTest(t)
	poNumber := tc.seedPO("804")
	tc.seedApproval(poNumber, "one-shot", time.Now().Add(time.Hour))

	if got, err := tc.repo.Decide(context.Background(), "one-shot",
		"approver@retail.test", models.ApprovalStatusApproved, ""); err != nil || got != poNumber {
		t.Fatalf("decide failed: got %q, err %v", got, err)
	}
	if err := tc.repo.ConsumeToken(context.Background(), "one-shot"); err != nil {
		t.Fatalf("consume token failed: %v", err)
	}

	if req, _ := tc.repo.FindValid(context.Background(), "one-shot"); req != nil {
		t.Error("consumed token must not validate")
	}
	req, err := tc.repo.GetByPONumber(context.Background(), poNumber)
	if err != nil || req == nil {
		t.Fatalf("failed to load approval: %v", err)
	}
	if req.ApprovalToken != "USED_one-shot" {
		t.Errorf("token = %q, want USED_ prefix", req.ApprovalToken)
	}
}
