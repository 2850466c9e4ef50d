package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// EmailSender delivers outbound mail. At-least-once, best-effort: failures
// are recorded by the caller, never allowed to crash a workflow.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outbound email. Attachment is optional.
type EmailMessage struct {
	To             string
	Subject        string
	HTMLBody       string
	AttachmentName string
	Attachment     []byte
}

// PDFRenderer renders a purchase order into PDF bytes. Rendering is an
// external collaborator; the engine only supplies the structured order.
type PDFRenderer interface {
	RenderPO(ctx context.Context, po *models.PurchaseOrder) ([]byte, error)
}

// ObjectStorage stores rendered documents under per-tenant paths.
type ObjectStorage interface {
	Upload(ctx context.Context, data []byte, tenantPath string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Notifier broadcasts progress events to a project's live subscribers.
// At-most-once: listeners that connect after an event fired never see it.
type Notifier interface {
	Notify(projectID uuid.UUID, eventType models.WorkflowEventType, payload map[string]any)
}
