package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

// TextExtractor turns raw document bytes into plain text. Extraction is an
// external collaborator: best-effort, empty string on unknown formats.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, filename string) (string, error)
}

// IngestService indexes document text into the embedding corpora with
// content-hash deduplication: unchanged content is reused (or relinked to a
// new document) without recomputing its embedding, changed content at a
// known logical position is updated in place, and only genuinely new content
// is embedded and inserted.
type IngestService interface {
	// ProcessDocument runs the full ingest pass for one document: download,
	// extract, parse into items, dedup-index each item.
	ProcessDocument(ctx context.Context, documentID uuid.UUID) (*models.IngestStats, error)

	// IndexText indexes already-extracted text for a document. Exposed for
	// callers that extracted upstream.
	IndexText(ctx context.Context, doc *models.Document, text string) (*models.IngestStats, error)

	// ProcessBatch reprocesses many documents with bounded concurrency so a
	// backlog does not saturate the embedding endpoint.
	ProcessBatch(ctx context.Context, documentIDs []uuid.UUID) (map[uuid.UUID]*models.IngestStats, error)

	// DeleteDocument removes a document; its embedding rows cascade.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error

	// ContextStats reports live embedding row counts per corpus.
	ContextStats(ctx context.Context) (map[models.EmbeddingCorpus]int, error)
}

// ingestItem is one parsed unit of document text bound for an embedding row.
type ingestItem struct {
	position repositories.EmbeddingPosition
	content  string
}

// referenceChunkSize bounds reference-document chunks, split on paragraph
// boundaries.
const referenceChunkSize = 1200

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	ruleNumberPattern = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)`)
	metadataHeader    = regexp.MustCompile(`(?i)^(table|column|relationship)\s*:\s*(\S+)\s*$`)
)

type ingestService struct {
	docRepo       repositories.DocumentRepository
	embeddingRepo repositories.EmbeddingRepository
	retrieval     RetrievalService
	storage       ObjectStorage
	extractor     TextExtractor
	tenantCtx     TenantContextFunc
	batchWorkers  int
	logger        *zap.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	docRepo repositories.DocumentRepository,
	embeddingRepo repositories.EmbeddingRepository,
	retrieval RetrievalService,
	storage ObjectStorage,
	extractor TextExtractor,
	tenantCtx TenantContextFunc,
	embedCfg config.EmbeddingConfig,
	logger *zap.Logger,
) IngestService {
	workers := embedCfg.BatchWorkers
	if workers <= 0 {
		workers = 3
	}
	return &ingestService{
		docRepo:       docRepo,
		embeddingRepo: embeddingRepo,
		retrieval:     retrieval,
		storage:       storage,
		extractor:     extractor,
		tenantCtx:     tenantCtx,
		batchWorkers:  workers,
		logger:        logger,
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) ProcessDocument(ctx context.Context, documentID uuid.UUID) (*models.IngestStats, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperrors.ErrNotFound
	}

	if err := s.docRepo.UpdateStatus(ctx, doc.ID, models.DocumentStatusProcessing, ""); err != nil {
		return nil, err
	}

	data, err := s.storage.Download(ctx, doc.FilePath)
	if err != nil {
		s.markFailed(ctx, doc.ID, fmt.Sprintf("download failed: %v", err))
		return nil, fmt.Errorf("failed to download document: %w", err)
	}

	text, err := s.extractor.ExtractText(ctx, data, doc.Filename)
	if err != nil || strings.TrimSpace(text) == "" {
		s.markFailed(ctx, doc.ID, "no text could be extracted")
		return nil, fmt.Errorf("no text extracted from %s", doc.Filename)
	}

	stats, err := s.IndexText(ctx, doc, text)
	if err != nil {
		s.markFailed(ctx, doc.ID, err.Error())
		return nil, err
	}

	if err := s.docRepo.UpdateStatus(ctx, doc.ID, models.DocumentStatusProcessed, ""); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *ingestService) IndexText(ctx context.Context, doc *models.Document, text string) (*models.IngestStats, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	items := parseItems(doc.DocumentType, text)
	stats := &models.IngestStats{}

	for _, item := range items {
		if strings.TrimSpace(item.content) == "" {
			stats.Skipped++
			continue
		}
		if err := s.indexItem(ctx, scope, doc, item, stats); err != nil {
			return stats, fmt.Errorf("failed to index item: %w", err)
		}
	}

	s.logger.Info("Document indexed",
		zap.String("document_id", doc.ID.String()),
		zap.String("corpus", string(doc.DocumentType)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("reused", stats.Reused),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// indexItem applies the dedup decision tree for one item: content-hash hit
// in the project reuses or relinks the existing row; a logical-position hit
// updates in place; otherwise the item is embedded and inserted.
func (s *ingestService) indexItem(ctx context.Context, scope *database.TenantScope, doc *models.Document, item ingestItem, stats *models.IngestStats) error {
	contentHash := hashContent(doc.DocumentType, item, scope.ProjectID)

	existing, err := s.embeddingRepo.FindByContentHash(ctx, doc.DocumentType, contentHash)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.DocumentID == doc.ID {
			stats.Reused++
			return nil
		}
		// Same content arrived under a new document: relink lineage, keep
		// the embedding.
		if err := s.embeddingRepo.RelinkDocument(ctx, doc.DocumentType, existing.ID, doc.ID); err != nil {
			return err
		}
		stats.Reused++
		return nil
	}

	vector, err := s.retrieval.Embed(ctx, item.content)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	meta := models.EmbeddingMetadata{
		ContentHash: contentHash,
		SourceFile:  doc.Filename,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	}

	atPosition, err := s.embeddingRepo.FindByPosition(ctx, doc.DocumentType, item.position)
	if err != nil {
		return err
	}
	if atPosition != nil {
		// Changed content at a known position replaces in place; rows are
		// never duplicated by content change.
		if err := s.embeddingRepo.Update(ctx, doc.DocumentType, atPosition.ID, item.content, vector, meta); err != nil {
			return err
		}
		if atPosition.DocumentID != doc.ID {
			if err := s.embeddingRepo.RelinkDocument(ctx, doc.DocumentType, atPosition.ID, doc.ID); err != nil {
				return err
			}
		}
		stats.Updated++
		return nil
	}

	row := &repositories.EmbeddingRow{
		DocumentID:  doc.ID,
		ContentType: item.position.ContentType,
		TableName:   item.position.TableName,
		RuleNumber:  item.position.RuleNumber,
		ChunkIndex:  item.position.ChunkIndex,
		Content:     item.content,
		Vector:      vector,
		Metadata:    meta,
	}
	if err := s.embeddingRepo.Insert(ctx, doc.DocumentType, row); err != nil {
		return err
	}
	stats.Inserted++
	return nil
}

func (s *ingestService) ProcessBatch(ctx context.Context, documentIDs []uuid.UUID) (map[uuid.UUID]*models.IngestStats, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	userID, projectID := scope.UserID, scope.ProjectID

	results := make(map[uuid.UUID]*models.IngestStats, len(documentIDs))
	var mu sync.Mutex

	// Each document gets its own tenant-scoped connection; a single pooled
	// connection cannot be shared across goroutines.
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.batchWorkers)
	for _, docID := range documentIDs {
		group.Go(func() error {
			docCtx, cleanup, err := s.tenantCtx(groupCtx, userID, projectID)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.ProcessDocument(docCtx, docID)
			if err != nil {
				// One bad document must not sink the batch.
				s.logger.Warn("Document failed during batch processing",
					zap.String("document_id", docID.String()), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[docID] = stats
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *ingestService) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return apperrors.ErrNotFound
	}
	if doc.FilePath != "" {
		if err := s.storage.Delete(ctx, doc.FilePath); err != nil {
			s.logger.Warn("Failed to delete stored document file",
				zap.String("document_id", documentID.String()), zap.Error(err))
		}
	}
	return s.docRepo.Delete(ctx, documentID)
}

func (s *ingestService) ContextStats(ctx context.Context) (map[models.EmbeddingCorpus]int, error) {
	return s.embeddingRepo.CountByCorpus(ctx)
}

func (s *ingestService) markFailed(ctx context.Context, documentID uuid.UUID, message string) {
	if err := s.docRepo.UpdateStatus(ctx, documentID, models.DocumentStatusFailed, message); err != nil {
		s.logger.Error("Failed to mark document failed",
			zap.String("document_id", documentID.String()), zap.Error(err))
	}
}

// hashContent produces the dedup content hash: sha256 over the normalized
// content. Relationship rows additionally hash the project id, because the
// same relationship text legitimately recurs across projects and must not
// collide inside FindByContentHash lookups seeded from another tenant's
// uploads.
func hashContent(corpus models.EmbeddingCorpus, item ingestItem, projectID uuid.UUID) string {
	normalized := normalizeContent(item.content)
	if corpus == models.CorpusMetadata && item.position.ContentType == models.ContentTypeRelationship {
		normalized = projectID.String() + "|" + normalized
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeContent(content string) string {
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(strings.ToLower(content)), " ")
}

// parseItems splits extracted text into corpus-specific items.
//
// Metadata documents are blocks separated by blank lines, each headed by
// "table: NAME", "column: NAME", or "relationship: NAME". Business-logic
// documents are numbered rules ("1. ..."). Reference documents are chunked
// on paragraph boundaries up to referenceChunkSize runes.
func parseItems(corpus models.EmbeddingCorpus, text string) []ingestItem {
	switch corpus {
	case models.CorpusMetadata:
		return parseMetadataItems(text)
	case models.CorpusBusinessLogic:
		return parseBusinessLogicItems(text)
	default:
		return parseReferenceItems(text)
	}
}

func parseMetadataItems(text string) []ingestItem {
	var items []ingestItem
	for _, block := range splitBlocks(text) {
		lines := strings.SplitN(block, "\n", 2)
		match := metadataHeader.FindStringSubmatch(lines[0])
		if match == nil {
			continue
		}
		contentType := models.MetadataContentType(strings.ToLower(match[1]))
		tableName := strings.ToLower(match[2])
		body := block
		if len(lines) == 2 {
			body = strings.TrimSpace(lines[1])
		}
		items = append(items, ingestItem{
			position: repositories.EmbeddingPosition{
				ContentType: contentType,
				TableName:   tableName,
			},
			content: body,
		})
	}
	return items
}

func parseBusinessLogicItems(text string) []ingestItem {
	var items []ingestItem
	sequence := 0
	for _, block := range splitBlocks(text) {
		sequence++
		ruleNumber := sequence
		content := block
		if match := ruleNumberPattern.FindStringSubmatch(block); match != nil {
			if n, err := strconv.Atoi(match[1]); err == nil {
				ruleNumber = n
			}
			content = strings.TrimSpace(match[2])
		}
		items = append(items, ingestItem{
			position: repositories.EmbeddingPosition{RuleNumber: ruleNumber},
			content:  content,
		})
	}
	return items
}

func parseReferenceItems(text string) []ingestItem {
	var items []ingestItem
	var current strings.Builder
	index := 0

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		if chunk == "" {
			return
		}
		items = append(items, ingestItem{
			position: repositories.EmbeddingPosition{ChunkIndex: index},
			content:  chunk,
		})
		index++
	}

	for _, paragraph := range splitBlocks(text) {
		if current.Len() > 0 && current.Len()+len(paragraph) > referenceChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	flush()
	return items
}

func splitBlocks(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	blocks := make([]string, 0, len(raw))
	for _, block := range raw {
		block = strings.TrimSpace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
