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

// DocumentRepository provides data access for ingested documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, errorMessage string) error
	// Delete removes the document; embedding rows cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.UserID = scope.UserID
	doc.ProjectID = scope.ProjectID
	if doc.Status == "" {
		doc.Status = models.DocumentStatusUploaded
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO documents
			(id, user_id, project_id, filename, document_type, status, file_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.UserID, doc.ProjectID, doc.Filename, doc.DocumentType,
		doc.Status, doc.FilePath, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	var doc models.Document
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, user_id, project_id, filename, document_type, status,
		       COALESCE(file_path, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM documents
		WHERE id = $1 AND user_id = $2 AND project_id = $3`,
		id, scope.UserID, scope.ProjectID).Scan(
		&doc.ID, &doc.UserID, &doc.ProjectID, &doc.Filename, &doc.DocumentType,
		&doc.Status, &doc.FilePath, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (r *documentRepository) List(ctx context.Context) ([]*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, user_id, project_id, filename, document_type, status,
		       COALESCE(file_path, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM documents
		WHERE user_id = $1 AND project_id = $2
		ORDER BY created_at DESC`, scope.UserID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.ProjectID, &doc.Filename,
			&doc.DocumentType, &doc.Status, &doc.FilePath, &doc.ErrorMessage,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, errorMessage string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if !models.IsValidDocumentStatus(status) {
		return fmt.Errorf("invalid document status: %s", status)
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE documents
		SET status = $1, error_message = NULLIF($2, ''), updated_at = $3
		WHERE id = $4 AND user_id = $5 AND project_id = $6`,
		status, errorMessage, time.Now(), id, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	return nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		DELETE FROM documents
		WHERE id = $1 AND user_id = $2 AND project_id = $3`,
		id, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	return nil
}
