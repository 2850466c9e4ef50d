package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

// PONumberGenerator generates human-readable, sortable purchase-order
// numbers of the form PO-{YYYYMMDD}-{vendorID}-{seq}. Sequence numbers are
// cached in-process per (user, project, date) to avoid a database round trip
// on every call within the same workflow run, but the database remains the
// source of truth: every candidate is re-validated for uniqueness before use.
type PONumberGenerator interface {
	Generate(ctx context.Context, orderDate time.Time, vendorID string) (string, error)
}

type poNumberGenerator struct {
	poRepo        repositories.PurchaseOrderRepository
	suffixCeiling int
	logger        *zap.Logger

	mu       sync.Mutex
	sequence map[string]int
}

// NewPONumberGenerator creates a new PONumberGenerator. suffixCeiling bounds
// how many collision suffixes are tried before a random fallback.
func NewPONumberGenerator(poRepo repositories.PurchaseOrderRepository, suffixCeiling int, logger *zap.Logger) PONumberGenerator {
	if suffixCeiling <= 0 {
		suffixCeiling = 99
	}
	return &poNumberGenerator{
		poRepo:        poRepo,
		suffixCeiling: suffixCeiling,
		logger:        logger,
		sequence:      make(map[string]int),
	}
}

var _ PONumberGenerator = (*poNumberGenerator)(nil)

func (g *poNumberGenerator) Generate(ctx context.Context, orderDate time.Time, vendorID string) (string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return "", fmt.Errorf("no tenant scope in context")
	}

	seq, err := g.nextSequence(ctx, scope, orderDate)
	if err != nil {
		return "", err
	}

	base := fmt.Sprintf("PO-%s-%s-%03d", orderDate.Format("20060102"), vendorID, seq)

	// The cache may lag concurrent runs, so the candidate is always checked
	// against the database before use.
	taken, err := g.poRepo.NumberExists(ctx, base)
	if err != nil {
		return "", fmt.Errorf("failed to validate PO number: %w", err)
	}
	if !taken {
		return base, nil
	}

	for suffix := 1; suffix <= g.suffixCeiling; suffix++ {
		candidate := fmt.Sprintf("%s-%02d", base, suffix)
		taken, err := g.poRepo.NumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to validate PO number: %w", err)
		}
		if !taken {
			g.logger.Debug("PO number collision resolved with suffix",
				zap.String("po_number", candidate))
			return candidate, nil
		}
	}

	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate random PO suffix: %w", err)
	}
	candidate := fmt.Sprintf("%s-%s", base, hex.EncodeToString(random))
	g.logger.Warn("PO number suffix ceiling exhausted, using random suffix",
		zap.String("po_number", candidate))
	return candidate, nil
}

// nextSequence returns the next sequence number for the tenant's order
// date, consulting the database on a cache miss.
func (g *poNumberGenerator) nextSequence(ctx context.Context, scope *database.TenantScope, orderDate time.Time) (int, error) {
	key := fmt.Sprintf("%s_%s_%s", scope.UserID, scope.ProjectID, orderDate.Format("20060102"))

	g.mu.Lock()
	defer g.mu.Unlock()

	seq, ok := g.sequence[key]
	if !ok {
		count, err := g.poRepo.CountForDate(ctx, orderDate)
		if err != nil {
			return 0, fmt.Errorf("failed to count POs for date: %w", err)
		}
		seq = count + 1
	}
	g.sequence[key] = seq + 1
	return seq, nil
}
