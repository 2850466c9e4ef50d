package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through ingestion.
//
// State machine:
//
//	uploaded -> processing -> processed
//	                       -> failed
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// ValidDocumentStatuses lists all valid document statuses.
var ValidDocumentStatuses = []DocumentStatus{
	DocumentStatusUploaded,
	DocumentStatusProcessing,
	DocumentStatusProcessed,
	DocumentStatusFailed,
}

// IsValidDocumentStatus checks whether a status value is valid.
func IsValidDocumentStatus(s DocumentStatus) bool {
	for _, valid := range ValidDocumentStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// Document is an ingested source document. Text extraction happens upstream;
// the engine receives pre-extracted text and owns embedding and indexing.
type Document struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	Filename     string          `json:"filename"`
	DocumentType EmbeddingCorpus `json:"document_type"`
	Status       DocumentStatus  `json:"status"`
	FilePath     string          `json:"file_path,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IngestStats summarizes one dedup-aware indexing pass over a document.
type IngestStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Reused   int `json:"reused"`
}

// Total returns the number of items examined.
func (s IngestStats) Total() int {
	return s.Inserted + s.Updated + s.Skipped + s.Reused
}
