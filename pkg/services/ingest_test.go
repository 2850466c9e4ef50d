package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

type fakeDocRepo struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*models.Document
	statuses map[uuid.UUID]models.DocumentStatus
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{
		docs:     make(map[uuid.UUID]*models.Document),
		statuses: make(map[uuid.UUID]models.DocumentStatus),
	}
}

func (f *fakeDocRepo) Create(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id], nil
}

func (f *fakeDocRepo) List(ctx context.Context) ([]*models.Document, error) { return nil, nil }

func (f *fakeDocRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeDocRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

// fakeEmbeddingRepo stores rows in memory, keyed by corpus, reproducing the
// content-hash and position lookups the dedup tree depends on.
type fakeEmbeddingRepo struct {
	mu   sync.Mutex
	rows map[models.EmbeddingCorpus][]*repositories.EmbeddingRow
}

func newFakeEmbeddingRepo() *fakeEmbeddingRepo {
	return &fakeEmbeddingRepo{rows: make(map[models.EmbeddingCorpus][]*repositories.EmbeddingRow)}
}

func (f *fakeEmbeddingRepo) SearchTables(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (f *fakeEmbeddingRepo) FetchTableDetails(ctx context.Context, vector []float32, primaryTables, allTables []string) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (f *fakeEmbeddingRepo) SearchBusinessLogic(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (f *fakeEmbeddingRepo) SearchReferences(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (f *fakeEmbeddingRepo) FindByContentHash(ctx context.Context, corpus models.EmbeddingCorpus, contentHash string) (*repositories.EmbeddingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[corpus] {
		if row.Metadata.ContentHash == contentHash {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeEmbeddingRepo) FindByPosition(ctx context.Context, corpus models.EmbeddingCorpus, pos repositories.EmbeddingPosition) (*repositories.EmbeddingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[corpus] {
		if row.ContentType == pos.ContentType && row.TableName == pos.TableName &&
			row.RuleNumber == pos.RuleNumber && row.ChunkIndex == pos.ChunkIndex {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeEmbeddingRepo) Insert(ctx context.Context, corpus models.EmbeddingCorpus, row *repositories.EmbeddingRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row.ID = uuid.New()
	f.rows[corpus] = append(f.rows[corpus], row)
	return nil
}

func (f *fakeEmbeddingRepo) Update(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, content string, vector []float32, meta models.EmbeddingMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[corpus] {
		if row.ID == id {
			row.Content = content
			row.Vector = vector
			row.Metadata = meta
			return nil
		}
	}
	return fmt.Errorf("row %s not found", id)
}

func (f *fakeEmbeddingRepo) RelinkDocument(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, documentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[corpus] {
		if row.ID == id {
			row.DocumentID = documentID
			return nil
		}
	}
	return fmt.Errorf("row %s not found", id)
}

func (f *fakeEmbeddingRepo) CountByCorpus(ctx context.Context) (map[models.EmbeddingCorpus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.EmbeddingCorpus]int)
	for corpus, rows := range f.rows {
		counts[corpus] = len(rows)
	}
	return counts, nil
}

// fakeRetrieval counts Embed calls; embedding reuse assertions hinge on it.
type fakeRetrieval struct {
	mu         sync.Mutex
	embedCalls int
}

func (f *fakeRetrieval) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeRetrieval) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors := make([][]float32, len(inputs))
	for i := range inputs {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, vector []float32) models.RetrievalContext {
	return models.RetrievalContext{}
}

func (f *fakeRetrieval) RetrieveForQuery(ctx context.Context, query string) models.RetrievalContext {
	return models.RetrievalContext{}
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractText(ctx context.Context, data []byte, filename string) (string, error) {
	return string(data), nil
}

func metadataDoc(projectID uuid.UUID) *models.Document {
	return &models.Document{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		ProjectID:    projectID,
		Filename:     "schema.txt",
		DocumentType: models.CorpusMetadata,
		Status:       models.DocumentStatusUploaded,
	}
}

const metadataText = `table: orders
Order-level demand for the retail warehouse.

column: orders
order_number text, sku text, quantity numeric, order_date date.`

func newIngestHarness() (*fakeDocRepo, *fakeEmbeddingRepo, *fakeRetrieval, *fakeStorage, IngestService) {
	docRepo := newFakeDocRepo()
	embRepo := newFakeEmbeddingRepo()
	retrieval := &fakeRetrieval{}
	storage := &fakeStorage{}
	tenantCtx := func(ctx context.Context, userID, projectID uuid.UUID) (context.Context, func(), error) {
		return scopedContext(), func() {}, nil
	}
	svc := NewIngestService(docRepo, embRepo, retrieval, storage, fakeExtractor{}, tenantCtx,
		config.EmbeddingConfig{BatchWorkers: 2}, zap.NewNop())
	return docRepo, embRepo, retrieval, storage, svc
}

func TestIndexText_InsertsNewContent(t *testing.T) {
	_, embRepo, retrieval, _, svc := newIngestHarness()
	ctx := scopedContext()
	doc := metadataDoc(uuid.New())

	stats, err := svc.IndexText(ctx, doc, metadataText)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Inserted)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Reused)
	assert.Equal(t, 2, retrieval.embedCalls)
	assert.Len(t, embRepo.rows[models.CorpusMetadata], 2)
}

func TestIndexText_ReusesUnchangedContent(t *testing.T) {
	_, _, retrieval, _, svc := newIngestHarness()
	ctx := scopedContext()
	doc := metadataDoc(uuid.New())

	_, err := svc.IndexText(ctx, doc, metadataText)
	require.NoError(t, err)

	stats, err := svc.IndexText(ctx, doc, metadataText)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Reused)
	assert.Zero(t, stats.Inserted)
	assert.Equal(t, 2, retrieval.embedCalls, "unchanged content must not be re-embedded")
}

func TestIndexText_ReuseIsWhitespaceAndCaseInsensitive(t *testing.T) {
	_, _, retrieval, _, svc := newIngestHarness()
	ctx := scopedContext()
	doc := metadataDoc(uuid.New())

	_, err := svc.IndexText(ctx, doc, metadataText)
	require.NoError(t, err)

	reformatted := strings.ToUpper(strings.ReplaceAll(metadataText, " ", "  "))
	stats, err := svc.IndexText(ctx, doc, reformatted)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Reused)
	assert.Equal(t, 2, retrieval.embedCalls)
}

func TestIndexText_RelinksContentFromReplacedDocument(t *testing.T) {
	_, embRepo, _, _, svc := newIngestHarness()
	ctx := scopedContext()
	projectID := uuid.New()
	original := metadataDoc(projectID)
	replacement := metadataDoc(projectID)

	_, err := svc.IndexText(ctx, original, metadataText)
	require.NoError(t, err)

	stats, err := svc.IndexText(ctx, replacement, metadataText)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Reused)
	for _, row := range embRepo.rows[models.CorpusMetadata] {
		assert.Equal(t, replacement.ID, row.DocumentID, "rows must follow the new document")
	}
}

func TestIndexText_UpdatesChangedContentInPlace(t *testing.T) {
	_, embRepo, _, _, svc := newIngestHarness()
	ctx := scopedContext()
	doc := metadataDoc(uuid.New())

	_, err := svc.IndexText(ctx, doc, metadataText)
	require.NoError(t, err)

	changed := strings.ReplaceAll(metadataText, "retail warehouse", "distribution network")
	stats, err := svc.IndexText(ctx, doc, changed)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Updated, "only the changed block is rewritten")
	assert.Equal(t, 1, stats.Reused)
	assert.Len(t, embRepo.rows[models.CorpusMetadata], 2, "update replaces in place, never duplicates")
}

func TestIndexText_RequiresTenantScope(t *testing.T) {
	_, _, _, _, svc := newIngestHarness()
	_, err := svc.IndexText(context.Background(), metadataDoc(uuid.New()), metadataText)
	assert.Error(t, err)
}

func TestProcessDocument_FullPass(t *testing.T) {
	docRepo, _, _, storage, svc := newIngestHarness()
	ctx := scopedContext()
	doc := metadataDoc(uuid.New())
	doc.FilePath = "tenant/docs/schema.txt"
	require.NoError(t, docRepo.Create(ctx, doc))
	_, err := storage.Upload(ctx, []byte(metadataText), doc.FilePath)
	require.NoError(t, err)

	stats, err := svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, models.DocumentStatusProcessed, docRepo.statuses[doc.ID])
}

func TestProcessDocument_MissingFileMarksFailed(t *testing.T) {
	docRepo, _, _, _, svc := newIngestHarness()
	ctx := scopedContext()
	doc := metadataDoc(uuid.New())
	doc.FilePath = "tenant/docs/nowhere.txt"
	require.NoError(t, docRepo.Create(ctx, doc))

	_, err := svc.ProcessDocument(ctx, doc.ID)
	assert.Error(t, err)
	assert.Equal(t, models.DocumentStatusFailed, docRepo.statuses[doc.ID])
}

func TestProcessBatch_OneBadDocumentDoesNotSinkTheBatch(t *testing.T) {
	docRepo, _, _, storage, svc := newIngestHarness()
	ctx := scopedContext()

	good := metadataDoc(uuid.New())
	good.FilePath = "tenant/docs/good.txt"
	bad := metadataDoc(uuid.New())
	bad.FilePath = "tenant/docs/bad.txt" // never uploaded
	require.NoError(t, docRepo.Create(ctx, good))
	require.NoError(t, docRepo.Create(ctx, bad))
	_, err := storage.Upload(ctx, []byte(metadataText), good.FilePath)
	require.NoError(t, err)

	results, err := svc.ProcessBatch(ctx, []uuid.UUID{good.ID, bad.ID})
	require.NoError(t, err)

	require.Contains(t, results, good.ID)
	assert.NotContains(t, results, bad.ID)
	assert.Equal(t, 2, results[good.ID].Inserted)
}

func TestParseBusinessLogicItems(t *testing.T) {
	text := `1. Net demand is gross demand minus on-hand stock.

2) Orders below the vendor minimum are rounded up.

A trailing note without a number.`

	items := parseBusinessLogicItems(text)
	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].position.RuleNumber)
	assert.Equal(t, "Net demand is gross demand minus on-hand stock.", items[0].content)
	assert.Equal(t, 2, items[1].position.RuleNumber)
	assert.Equal(t, 3, items[2].position.RuleNumber, "unnumbered blocks fall back to their sequence")
	assert.Equal(t, "A trailing note without a number.", items[2].content)
}

func TestParseMetadataItems_SkipsUnheadedBlocks(t *testing.T) {
	text := `Some preamble that belongs to no table.

table: vendors
Vendor master data.

relationship: orders_vendors
orders.vendor_id references vendors.id.`

	items := parseMetadataItems(text)
	require.Len(t, items, 2)
	assert.Equal(t, models.ContentTypeTable, items[0].position.ContentType)
	assert.Equal(t, "vendors", items[0].position.TableName)
	assert.Equal(t, models.ContentTypeRelationship, items[1].position.ContentType)
}

func TestParseReferenceItems_ChunksOnParagraphs(t *testing.T) {
	long := strings.Repeat("Lorem ipsum dolor sit amet. ", 30) // ~840 chars
	text := long + "\n\n" + long + "\n\n" + "Short tail paragraph."

	items := parseReferenceItems(text)
	require.Len(t, items, 2, "paragraphs pack into chunks up to the size bound")
	assert.Equal(t, 0, items[0].position.ChunkIndex)
	assert.Equal(t, 1, items[1].position.ChunkIndex)
	assert.Contains(t, items[1].content, "Short tail paragraph.")
}

func TestHashContent_RelationshipScopedByProject(t *testing.T) {
	item := ingestItem{
		position: repositories.EmbeddingPosition{ContentType: models.ContentTypeRelationship, TableName: "orders_vendors"},
		content:  "orders.vendor_id references vendors.id",
	}
	a := hashContent(models.CorpusMetadata, item, uuid.New())
	b := hashContent(models.CorpusMetadata, item, uuid.New())
	assert.NotEqual(t, a, b, "identical relationship text must not collide across projects")

	tableItem := ingestItem{
		position: repositories.EmbeddingPosition{ContentType: models.ContentTypeTable, TableName: "orders"},
		content:  "orders table",
	}
	c := hashContent(models.CorpusMetadata, tableItem, uuid.New())
	d := hashContent(models.CorpusMetadata, tableItem, uuid.New())
	assert.Equal(t, c, d, "table content hashes are project-independent")
}
