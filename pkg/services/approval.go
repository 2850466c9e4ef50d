package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

// ApprovalService implements the token-based human-approval gate. Tokens are
// single-use, time-limited bearer credentials: an approver acts on exactly
// one PO without an authenticated session.
type ApprovalService interface {
	// RequestApproval mints a token for the PO, persists the approval
	// request, and emails the configured approver.
	RequestApproval(ctx context.Context, po *models.PurchaseOrder) error

	// Validate returns the request only when the token matches, is pending,
	// and unexpired. Any condition failing yields (nil, nil); callers
	// cannot tell an expired token from a wrong one.
	Validate(ctx context.Context, token string) (*models.ApprovalRequest, error)

	// Decide records an approve/reject decision. The underlying conditional
	// update makes a double-submit race resolve to exactly one success.
	Decide(ctx context.Context, token, approverEmail string, decision models.ApprovalStatus, comment string) *models.ApprovalDecision

	// SendToVendor emails the PO to its vendor, attaching the rendered PDF
	// when it can be fetched.
	SendToVendor(ctx context.Context, po *models.PurchaseOrder) error
}

// approvalTokenBytes is the entropy of an approval token before encoding.
const approvalTokenBytes = 32

const invalidTokenMessage = "Invalid or expired approval token"

type approvalService struct {
	repo        repositories.ApprovalRepository
	emailSender EmailSender
	storage     ObjectStorage
	notifier    Notifier
	tokenTTL    time.Duration
	publicBase  string
	approver    string
	companyName string
	logger      *zap.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	repo repositories.ApprovalRepository,
	emailSender EmailSender,
	storage ObjectStorage,
	notifier Notifier,
	approvalCfg config.ApprovalConfig,
	workflowCfg config.WorkflowConfig,
	logger *zap.Logger,
) ApprovalService {
	return &approvalService{
		repo:        repo,
		emailSender: emailSender,
		storage:     storage,
		notifier:    notifier,
		tokenTTL:    approvalCfg.TokenTTL,
		publicBase:  approvalCfg.PublicBase,
		approver:    workflowCfg.ApproverEmail,
		companyName: workflowCfg.CompanyName,
		logger:      logger,
	}
}

var _ ApprovalService = (*approvalService)(nil)

func (s *approvalService) RequestApproval(ctx context.Context, po *models.PurchaseOrder) error {
	if s.approver == "" {
		return fmt.Errorf("no approver email configured")
	}

	token, err := generateApprovalToken()
	if err != nil {
		return fmt.Errorf("failed to generate approval token: %w", err)
	}

	req := &models.ApprovalRequest{
		PONumber:       po.PONumber,
		ApproverEmail:  s.approver,
		ApprovalToken:  token,
		TokenExpiresAt: time.Now().Add(s.tokenTTL),
		Status:         models.ApprovalStatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return fmt.Errorf("failed to persist approval request: %w", err)
	}

	msg := EmailMessage{
		To:       s.approver,
		Subject:  fmt.Sprintf("Approval required: %s (total %s)", po.PONumber, po.TotalAmount.StringFixed(2)),
		HTMLBody: s.approvalEmailBody(po, token),
	}
	if err := s.emailSender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send approval email: %w", err)
	}

	s.logger.Info("Approval requested",
		zap.String("po_number", po.PONumber),
		zap.Time("expires_at", req.TokenExpiresAt))
	return nil
}

func (s *approvalService) Validate(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	if token == "" {
		return nil, nil
	}
	return s.repo.FindValid(ctx, token)
}

func (s *approvalService) Decide(ctx context.Context, token, approverEmail string, decision models.ApprovalStatus, comment string) *models.ApprovalDecision {
	if approverEmail == "" {
		// Email links carry only the token; the token was minted for the
		// configured approver.
		approverEmail = s.approver
	}
	poNumber, err := s.repo.Decide(ctx, token, approverEmail, decision, comment)
	if err != nil {
		s.logger.Error("Approval decision failed", zap.Error(err))
		return &models.ApprovalDecision{Success: false, Error: "Failed to process approval decision"}
	}
	if poNumber == "" {
		return &models.ApprovalDecision{Success: false, Error: invalidTokenMessage}
	}

	// Status already blocks reuse; rewriting the token guards code paths
	// that only check the string.
	if err := s.repo.ConsumeToken(ctx, token); err != nil {
		s.logger.Warn("Failed to consume approval token",
			zap.String("po_number", poNumber), zap.Error(err))
	}

	po, err := s.repo.GetPO(ctx, poNumber)
	if err != nil || po == nil {
		s.logger.Error("Decided PO could not be loaded",
			zap.String("po_number", poNumber), zap.Error(err))
		return &models.ApprovalDecision{Success: true, PONumber: poNumber}
	}

	poStatus := models.POStatusApproved
	if decision == models.ApprovalStatusRejected {
		poStatus = models.POStatusRejected
	}
	if err := s.repo.UpdatePOStatus(ctx, poNumber, poStatus); err != nil {
		s.logger.Error("Failed to update PO status after decision",
			zap.String("po_number", poNumber), zap.Error(err))
	}

	s.notifier.Notify(po.ProjectID, models.EventPOStatusUpdate, map[string]any{
		"po_number": poNumber,
		"status":    poStatus,
	})

	if decision == models.ApprovalStatusApproved {
		if err := s.SendToVendor(ctx, po); err != nil {
			// The approval stands; delivery can be retried manually.
			s.logger.Error("Vendor dispatch after approval failed",
				zap.String("po_number", poNumber), zap.Error(err))
		} else if err := s.repo.UpdatePOStatus(ctx, poNumber, models.POStatusSentToVendor); err != nil {
			s.logger.Error("Failed to mark PO sent to vendor",
				zap.String("po_number", poNumber), zap.Error(err))
		} else {
			s.notifier.Notify(po.ProjectID, models.EventPOStatusUpdate, map[string]any{
				"po_number": poNumber,
				"status":    models.POStatusSentToVendor,
			})
		}
	}

	s.logger.Info("Approval decided",
		zap.String("po_number", poNumber),
		zap.String("decision", string(decision)))
	return &models.ApprovalDecision{Success: true, PONumber: poNumber}
}

func (s *approvalService) SendToVendor(ctx context.Context, po *models.PurchaseOrder) error {
	if po.VendorEmail == "" {
		return fmt.Errorf("purchase order %s has no vendor email", po.PONumber)
	}

	msg := EmailMessage{
		To:       po.VendorEmail,
		Subject:  fmt.Sprintf("Purchase order %s from %s", po.PONumber, s.companyName),
		HTMLBody: s.vendorEmailBody(po),
	}
	if po.PDFPath != "" {
		if pdf, err := s.storage.Download(ctx, po.PDFPath); err == nil {
			msg.AttachmentName = po.PONumber + ".pdf"
			msg.Attachment = pdf
		} else {
			s.logger.Warn("PO PDF unavailable, sending without attachment",
				zap.String("po_number", po.PONumber), zap.Error(err))
		}
	}
	return s.emailSender.Send(ctx, msg)
}

func (s *approvalService) approvalEmailBody(po *models.PurchaseOrder, token string) string {
	approveURL := fmt.Sprintf("%s/api/approvals/decide?token=%s&action=approve", s.publicBase, token)
	rejectURL := fmt.Sprintf("%s/api/approvals/decide?token=%s&action=reject", s.publicBase, token)
	return fmt.Sprintf(`<html><body>
<h2>Purchase order approval required</h2>
<p>Purchase order <b>%s</b> to vendor <b>%s</b> totals <b>%s</b> and requires your approval.</p>
<p>Order date: %s</p>
<p><a href="%s">Approve</a> &nbsp; <a href="%s">Reject</a></p>
<p>This link expires %s.</p>
</body></html>`,
		po.PONumber, po.VendorName, po.TotalAmount.StringFixed(2),
		po.OrderDate.Format("2006-01-02"),
		approveURL, rejectURL,
		time.Now().Add(s.tokenTTL).Format(time.RFC1123))
}

func (s *approvalService) vendorEmailBody(po *models.PurchaseOrder) string {
	return fmt.Sprintf(`<html><body>
<h2>Purchase order %s</h2>
<p>%s has issued purchase order <b>%s</b> for a total of <b>%s</b>.</p>
<p>Order date: %s. Please find the order document attached.</p>
</body></html>`,
		po.PONumber, s.companyName, po.PONumber,
		po.TotalAmount.StringFixed(2), po.OrderDate.Format("2006-01-02"))
}

func generateApprovalToken() (string, error) {
	raw := make([]byte, approvalTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
