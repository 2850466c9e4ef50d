package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/llm"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

// searchingRepo scripts the similarity searches and records the budgets each
// corpus was queried with.
type searchingRepo struct {
	tableHits     []models.RetrievedChunk
	tableErr      error
	details       []models.RetrievedChunk
	businessLogic []models.RetrievedChunk
	references    []models.RetrievedChunk

	tableTopK    int
	blTopK       int
	refTopK      int
	detailCalls  int
	gotPrimary   []string
	gotAllTables []string
}

func (r *searchingRepo) SearchTables(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	r.tableTopK = topK
	return r.tableHits, r.tableErr
}

func (r *searchingRepo) FetchTableDetails(ctx context.Context, vector []float32, primaryTables, allTables []string) ([]models.RetrievedChunk, error) {
	r.detailCalls++
	r.gotPrimary = primaryTables
	r.gotAllTables = allTables
	return r.details, nil
}

func (r *searchingRepo) SearchBusinessLogic(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	r.blTopK = topK
	return r.businessLogic, nil
}

func (r *searchingRepo) SearchReferences(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	r.refTopK = topK
	return r.references, nil
}

func (r *searchingRepo) FindByContentHash(ctx context.Context, corpus models.EmbeddingCorpus, contentHash string) (*repositories.EmbeddingRow, error) {
	return nil, nil
}

func (r *searchingRepo) FindByPosition(ctx context.Context, corpus models.EmbeddingCorpus, pos repositories.EmbeddingPosition) (*repositories.EmbeddingRow, error) {
	return nil, nil
}

func (r *searchingRepo) Insert(ctx context.Context, corpus models.EmbeddingCorpus, row *repositories.EmbeddingRow) error {
	return nil
}

func (r *searchingRepo) Update(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, content string, vector []float32, meta models.EmbeddingMetadata) error {
	return nil
}

func (r *searchingRepo) RelinkDocument(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, documentID uuid.UUID) error {
	return nil
}

func (r *searchingRepo) CountByCorpus(ctx context.Context) (map[models.EmbeddingCorpus]int, error) {
	return nil, nil
}

func newRetrievalForTest(repo repositories.EmbeddingRepository, client llm.LLMClient, topK int) RetrievalService {
	return NewRetrievalService(repo, client,
		config.EmbeddingConfig{Model: "test-embed", MaxRetries: 2, RetryDelay: time.Millisecond},
		config.RetrievalConfig{TopK: topK, SimilarityThreshold: 0.3},
		zap.NewNop())
}

func tableChunk(table, content string) models.RetrievedChunk {
	return models.RetrievedChunk{
		ID:          uuid.New(),
		ContentType: models.ContentTypeTable,
		TableName:   table,
		Content:     content,
		Distance:    0.2,
		Similarity:  0.8,
		IsPrimary:   true,
	}
}

func TestRetrieve_BudgetSplits(t *testing.T) {
	repo := &searchingRepo{}
	svc := newRetrievalForTest(repo, llm.NewMockLLMClient(), 5)

	svc.Retrieve(context.Background(), []float32{0.1})

	assert.Equal(t, 5, repo.tableTopK)
	assert.Equal(t, 2, repo.blTopK, "business logic budget is topK/2")
	assert.Equal(t, 1, repo.refTopK, "reference budget is topK/3")
}

func TestRetrieve_BudgetsNeverDropToZero(t *testing.T) {
	repo := &searchingRepo{}
	svc := newRetrievalForTest(repo, llm.NewMockLLMClient(), 2)

	svc.Retrieve(context.Background(), []float32{0.1})

	assert.Equal(t, 1, repo.blTopK)
	assert.Equal(t, 1, repo.refTopK)
}

func TestRetrieve_TwoPhaseExpansion(t *testing.T) {
	repo := &searchingRepo{
		tableHits: []models.RetrievedChunk{
			tableChunk("orders", "Table orders. vendor_id references vendors(id). sku references skus(sku)."),
		},
		details: []models.RetrievedChunk{
			{ContentType: models.ContentTypeColumn, TableName: "orders", Content: "quantity integer", IsPrimary: true},
			{ContentType: models.ContentTypeColumn, TableName: "vendors", Content: "email text"},
		},
	}
	svc := newRetrievalForTest(repo, llm.NewMockLLMClient(), 5)

	rc := svc.Retrieve(context.Background(), []float32{0.1})

	require.Empty(t, rc.Error)
	assert.Equal(t, []string{"orders"}, repo.gotPrimary)
	assert.Equal(t, []string{"orders", "vendors", "skus"}, repo.gotAllTables)
	// Table hit plus both detail rows, table hit first.
	require.Len(t, rc.Metadata, 3)
	assert.True(t, rc.Metadata[0].IsPrimary)
	assert.Equal(t, "orders", rc.Metadata[0].TableName)
	assert.Equal(t, 3, rc.TotalResults)
}

func TestRetrieve_NoTableHitsSkipsDetailFetch(t *testing.T) {
	repo := &searchingRepo{}
	svc := newRetrievalForTest(repo, llm.NewMockLLMClient(), 5)

	rc := svc.Retrieve(context.Background(), []float32{0.1})

	assert.Zero(t, repo.detailCalls)
	assert.Empty(t, rc.Metadata)
	assert.Empty(t, rc.Error)
}

func TestRetrieve_SearchErrorYieldsDegradedContext(t *testing.T) {
	repo := &searchingRepo{tableErr: fmt.Errorf("connection reset")}
	svc := newRetrievalForTest(repo, llm.NewMockLLMClient(), 5)

	rc := svc.Retrieve(context.Background(), []float32{0.1})

	assert.Contains(t, rc.Error, "retrieval failed")
	assert.Empty(t, rc.Metadata)
	assert.Zero(t, rc.TotalResults)
}

func TestExtractRelatedTables(t *testing.T) {
	tests := []struct {
		name    string
		content string
		primary []string
		want    []string
	}{
		{
			name:    "new related table",
			content: "vendor_id references vendors(id)",
			primary: []string{"orders"},
			want:    []string{"vendors"},
		},
		{
			name:    "singular variant of primary is not new",
			content: "vendor_id references vendor(id)",
			primary: []string{"vendors"},
			want:    nil,
		},
		{
			name:    "plural variant of primary is not new",
			content: "references materials(id)",
			primary: []string{"material"},
			want:    nil,
		},
		{
			name:    "case insensitive match",
			content: "plant_id REFERENCES Plants(id)",
			primary: []string{"orders"},
			want:    []string{"plants"},
		},
		{
			name:    "duplicate references collapse",
			content: "a references vendors(id). b references vendors(id).",
			primary: []string{"orders"},
			want:    []string{"vendors"},
		},
		{
			name:    "no fk text",
			content: "plain column description",
			primary: []string{"orders"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := []models.RetrievedChunk{{Content: tt.content}}
			got := extractRelatedTables(hits, tt.primary)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbed_EmptyTextRejected(t *testing.T) {
	svc := newRetrievalForTest(&searchingRepo{}, llm.NewMockLLMClient(), 5)

	_, err := svc.Embed(context.Background(), "   ")
	assert.Error(t, err)
}

func TestEmbed_RetriesTransientFailure(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		if client.CreateEmbeddingCalls == 1 {
			return nil, fmt.Errorf("upstream timeout")
		}
		return []float32{0.5}, nil
	}
	svc := newRetrievalForTest(&searchingRepo{}, client, 5)

	vec, err := svc.Embed(context.Background(), "weekly demand")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, 2, client.CreateEmbeddingCalls)
}

func TestRetrieveForQuery_EmbedFailureIsDegraded(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		return nil, fmt.Errorf("endpoint down")
	}
	svc := newRetrievalForTest(&searchingRepo{}, client, 5)

	rc := svc.RetrieveForQuery(context.Background(), "weekly demand")
	assert.Contains(t, rc.Error, "embedding failed")
	assert.Zero(t, rc.TotalResults)
}
