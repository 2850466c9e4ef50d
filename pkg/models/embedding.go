package models

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingCorpus identifies which of the three embedding collections a
// record belongs to.
type EmbeddingCorpus string

const (
	CorpusMetadata      EmbeddingCorpus = "metadata"
	CorpusBusinessLogic EmbeddingCorpus = "businesslogic"
	CorpusReferences    EmbeddingCorpus = "references"
)

// ValidEmbeddingCorpora lists all valid corpus values.
var ValidEmbeddingCorpora = []EmbeddingCorpus{
	CorpusMetadata,
	CorpusBusinessLogic,
	CorpusReferences,
}

// IsValidEmbeddingCorpus checks whether a corpus value is valid.
func IsValidEmbeddingCorpus(c EmbeddingCorpus) bool {
	for _, valid := range ValidEmbeddingCorpora {
		if c == valid {
			return true
		}
	}
	return false
}

// MetadataContentType discriminates schema-metadata embedding rows.
type MetadataContentType string

const (
	ContentTypeTable        MetadataContentType = "table"
	ContentTypeColumn       MetadataContentType = "column"
	ContentTypeRelationship MetadataContentType = "relationship"
)

// ValidMetadataContentTypes lists all valid metadata content types.
var ValidMetadataContentTypes = []MetadataContentType{
	ContentTypeTable,
	ContentTypeColumn,
	ContentTypeRelationship,
}

// IsValidMetadataContentType checks whether a content type is valid.
func IsValidMetadataContentType(t MetadataContentType) bool {
	for _, valid := range ValidMetadataContentTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// EmbeddingMetadata is the typed view of the metadata map stored with each
// embedding row. ContentHash is mandatory once the row exists; the dedup
// indexer keys reuse/relink/update decisions on it.
type EmbeddingMetadata struct {
	ContentHash string `json:"content_hash"`
	SourceFile  string `json:"source_file,omitempty"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// MetadataEmbedding is a schema-metadata embedding row.
type MetadataEmbedding struct {
	ID          uuid.UUID           `json:"id"`
	DocumentID  uuid.UUID           `json:"document_id"`
	UserID      uuid.UUID           `json:"user_id"`
	ProjectID   uuid.UUID           `json:"project_id"`
	ContentType MetadataContentType `json:"content_type"`
	TableName   string              `json:"table_name"`
	Content     string              `json:"content"`
	Embedding   []float32           `json:"-"`
	Metadata    EmbeddingMetadata   `json:"metadata"`
	CreatedAt   time.Time           `json:"created_at"`
}

// BusinessLogicEmbedding is a business-rule embedding row.
type BusinessLogicEmbedding struct {
	ID         uuid.UUID         `json:"id"`
	DocumentID uuid.UUID         `json:"document_id"`
	UserID     uuid.UUID         `json:"user_id"`
	ProjectID  uuid.UUID         `json:"project_id"`
	RuleNumber int               `json:"rule_number"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"-"`
	Metadata   EmbeddingMetadata `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ReferenceEmbedding is a reference-document chunk embedding row.
type ReferenceEmbedding struct {
	ID         uuid.UUID         `json:"id"`
	DocumentID uuid.UUID         `json:"document_id"`
	UserID     uuid.UUID         `json:"user_id"`
	ProjectID  uuid.UUID         `json:"project_id"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"-"`
	Metadata   EmbeddingMetadata `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RetrievedChunk is one similarity-search hit returned by the retriever.
// Similarity and Distance satisfy similarity = 1 - distance (cosine).
type RetrievedChunk struct {
	ID          uuid.UUID           `json:"id"`
	ContentType MetadataContentType `json:"content_type,omitempty"`
	TableName   string              `json:"table_name,omitempty"`
	RuleNumber  int                 `json:"rule_number,omitempty"`
	ChunkIndex  int                 `json:"chunk_index,omitempty"`
	Content     string              `json:"content"`
	Distance    float64             `json:"distance"`
	Similarity  float64             `json:"similarity"`
	// IsPrimary marks metadata rows belonging to a phase-1 (table-level)
	// match rather than an FK-expanded related table.
	IsPrimary bool `json:"is_primary,omitempty"`
}

// RetrievalContext is the combined result of a retrieval pass across all
// three corpora. A retrieval failure is reported through Error with empty
// slices; it never propagates as a bare error to intent handlers.
type RetrievalContext struct {
	Metadata      []RetrievedChunk `json:"metadata"`
	BusinessLogic []RetrievedChunk `json:"business_logic"`
	References    []RetrievedChunk `json:"references"`
	TotalResults  int              `json:"total_results"`
	Error         string           `json:"error,omitempty"`
}
