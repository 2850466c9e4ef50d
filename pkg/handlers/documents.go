package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
)

// maxUploadBytes bounds a document upload.
const maxUploadBytes = 10 << 20

// DocumentsHandler manages knowledge-document uploads and indexing.
type DocumentsHandler struct {
	docRepo repositories.DocumentRepository
	ingest  services.IngestService
	storage services.ObjectStorage
	logger  *zap.Logger
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(docRepo repositories.DocumentRepository, ingest services.IngestService, storage services.ObjectStorage, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{docRepo: docRepo, ingest: ingest, storage: storage, logger: logger}
}

// RegisterRoutes registers the document routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/documents", authMiddleware.RequireAuth(tenantMiddleware(h.Upload)))
	mux.HandleFunc("GET /api/documents", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("POST /api/documents/{did}/process", authMiddleware.RequireAuth(tenantMiddleware(h.Process)))
	mux.HandleFunc("DELETE /api/documents/{did}", authMiddleware.RequireAuth(tenantMiddleware(h.Delete)))
}

// Upload handles POST /api/documents: multipart form with a "file" part and
// a "document_type" field naming the target corpus. The document is stored
// and indexed in one pass.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, projectID, err := auth.Identity(r.Context())
	if err != nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Multipart form with a file is required")
		return
	}

	corpus := models.EmbeddingCorpus(r.FormValue("document_type"))
	if !models.IsValidEmbeddingCorpus(corpus) {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "document_type must be metadata, businesslogic, or references")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "A file part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file")
		return
	}

	doc := &models.Document{
		ID:           uuid.New(),
		UserID:       userID,
		ProjectID:    projectID,
		Filename:     header.Filename,
		DocumentType: corpus,
		Status:       models.DocumentStatusUploaded,
	}
	doc.FilePath = fmt.Sprintf("%s/%s/documents/%s/%s", userID, projectID, doc.ID, header.Filename)

	if _, err := h.storage.Upload(r.Context(), data, doc.FilePath); err != nil {
		h.logger.Error("Failed to store uploaded document", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to store document")
		return
	}
	if err := h.docRepo.Create(r.Context(), doc); err != nil {
		h.logger.Error("Failed to create document record", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to create document")
		return
	}

	stats, err := h.ingest.ProcessDocument(r.Context(), doc.ID)
	if err != nil {
		// The document row records the failure; surface it with the upload.
		_ = WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"document": doc,
			"error":    err.Error(),
		})
		return
	}

	_ = WriteJSON(w, http.StatusCreated, map[string]any{
		"document": doc,
		"stats":    stats,
	})
}

// List handles GET /api/documents.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list documents", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list documents")
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Process handles POST /api/documents/{did}/process: reindexes an existing
// document, reusing unchanged content.
func (h *DocumentsHandler) Process(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(r.PathValue("did"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid document ID")
		return
	}

	stats, err := h.ingest.ProcessDocument(r.Context(), documentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Document not found")
			return
		}
		h.logger.Error("Failed to process document",
			zap.String("document_id", documentID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "processing_failed", err.Error())
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// Delete handles DELETE /api/documents/{did}.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(r.PathValue("did"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid document ID")
		return
	}

	if err := h.ingest.DeleteDocument(r.Context(), documentID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Document not found")
			return
		}
		h.logger.Error("Failed to delete document",
			zap.String("document_id", documentID.String()), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
