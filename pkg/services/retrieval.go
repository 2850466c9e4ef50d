package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/llm"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
	"github.com/RetailAIUseCase/retailai-engine/pkg/retry"
)

// RetrievalService converts free text into an embedding vector and performs
// similarity search across the three embedding corpora. Metadata retrieval
// is two-phase: table-level match first, then column/relationship detail for
// the matched tables plus any tables their foreign keys reference.
type RetrievalService interface {
	// Embed returns the embedding vector for a piece of text. Transient
	// endpoint failures are retried with backoff before a hard error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple inputs in one endpoint call.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)

	// Retrieve runs the full retrieval pass for an already-embedded query.
	// Errors never escape: a failed search yields an empty context with
	// Error set, because downstream handlers treat empty retrieval as a
	// valid degraded path.
	Retrieve(ctx context.Context, vector []float32) models.RetrievalContext

	// RetrieveForQuery embeds the query text and retrieves in one call.
	RetrieveForQuery(ctx context.Context, query string) models.RetrievalContext
}

// fkReferencePattern extracts referenced table names from the free-text
// foreign-key descriptions stored on table-level metadata rows, e.g.
// "customer_id references customers(id)".
var fkReferencePattern = regexp.MustCompile(`(?i)references\s+(\w+)`)

type retrievalService struct {
	embeddingRepo repositories.EmbeddingRepository
	embedClient   llm.LLMClient
	embedModel    string
	retryCfg      *retry.Config
	topK          int
	floor         float64
	logger        *zap.Logger
}

// NewRetrievalService creates a new RetrievalService.
func NewRetrievalService(
	embeddingRepo repositories.EmbeddingRepository,
	embedClient llm.LLMClient,
	embedCfg config.EmbeddingConfig,
	retrievalCfg config.RetrievalConfig,
	logger *zap.Logger,
) RetrievalService {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = embedCfg.MaxRetries
	retryCfg.InitialDelay = embedCfg.RetryDelay

	return &retrievalService{
		embeddingRepo: embeddingRepo,
		embedClient:   embedClient,
		embedModel:    embedCfg.Model,
		retryCfg:      retryCfg,
		topK:          retrievalCfg.TopK,
		floor:         retrievalCfg.SimilarityThreshold,
		logger:        logger,
	}
}

var _ RetrievalService = (*retrievalService)(nil)

func (s *retrievalService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	return retry.DoWithResult(ctx, s.retryCfg, func() ([]float32, error) {
		return s.embedClient.CreateEmbedding(ctx, text, s.embedModel)
	})
}

func (s *retrievalService) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	return retry.DoWithResult(ctx, s.retryCfg, func() ([][]float32, error) {
		return s.embedClient.CreateEmbeddings(ctx, inputs, s.embedModel)
	})
}

func (s *retrievalService) RetrieveForQuery(ctx context.Context, query string) models.RetrievalContext {
	vector, err := s.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Query embedding failed, returning empty retrieval context",
			zap.Error(err))
		return models.RetrievalContext{Error: fmt.Sprintf("embedding failed: %v", err)}
	}
	return s.Retrieve(ctx, vector)
}

func (s *retrievalService) Retrieve(ctx context.Context, vector []float32) models.RetrievalContext {
	metadata, err := s.retrieveMetadata(ctx, vector)
	if err != nil {
		s.logger.Warn("Metadata retrieval failed", zap.Error(err))
		return models.RetrievalContext{Error: fmt.Sprintf("retrieval failed: %v", err)}
	}

	// Business rules and references use smaller budgets than the schema
	// search; the splits come from the original corpus tuning.
	businessLogic, err := s.embeddingRepo.SearchBusinessLogic(ctx, vector, atLeastOne(s.topK/2), s.floor)
	if err != nil {
		s.logger.Warn("Business logic retrieval failed", zap.Error(err))
		return models.RetrievalContext{Error: fmt.Sprintf("retrieval failed: %v", err)}
	}

	references, err := s.embeddingRepo.SearchReferences(ctx, vector, atLeastOne(s.topK/3), s.floor)
	if err != nil {
		s.logger.Warn("Reference retrieval failed", zap.Error(err))
		return models.RetrievalContext{Error: fmt.Sprintf("retrieval failed: %v", err)}
	}

	rc := models.RetrievalContext{
		Metadata:      metadata,
		BusinessLogic: businessLogic,
		References:    references,
		TotalResults:  len(metadata) + len(businessLogic) + len(references),
	}
	s.logger.Debug("Retrieval pass complete",
		zap.Int("metadata", len(metadata)),
		zap.Int("business_logic", len(businessLogic)),
		zap.Int("references", len(references)))
	return rc
}

// retrieveMetadata performs the two-phase schema search. Phase 1 matches
// table-level rows by similarity; phase 2 expands to related tables named in
// the matched tables' foreign-key text and fetches column/relationship rows
// for the combined set. A single top-k pass over table summaries frequently
// misses the columns of a joined table, hence the expansion.
func (s *retrievalService) retrieveMetadata(ctx context.Context, vector []float32) ([]models.RetrievedChunk, error) {
	tableHits, err := s.embeddingRepo.SearchTables(ctx, vector, s.topK, s.floor)
	if err != nil {
		return nil, err
	}
	if len(tableHits) == 0 {
		return nil, nil
	}

	primary := make([]string, 0, len(tableHits))
	for _, hit := range tableHits {
		primary = append(primary, hit.TableName)
	}

	related := extractRelatedTables(tableHits, primary)

	all := append(append([]string{}, primary...), related...)
	details, err := s.embeddingRepo.FetchTableDetails(ctx, vector, primary, all)
	if err != nil {
		return nil, err
	}

	return append(tableHits, details...), nil
}

// extractRelatedTables pulls FK-referenced table names out of table-level
// content and returns those not already in the primary set. Singular/plural
// variants of a primary table do not count as new.
func extractRelatedTables(hits []models.RetrievedChunk, primary []string) []string {
	known := make(map[string]bool, len(primary)*2)
	for _, name := range primary {
		known[strings.ToLower(name)] = true
		known[strings.ToLower(inflection.Singular(name))] = true
		known[strings.ToLower(inflection.Plural(name))] = true
	}

	var related []string
	for _, hit := range hits {
		for _, match := range fkReferencePattern.FindAllStringSubmatch(hit.Content, -1) {
			name := strings.ToLower(match[1])
			if known[name] || known[inflection.Singular(name)] || known[inflection.Plural(name)] {
				continue
			}
			known[name] = true
			related = append(related, name)
		}
	}
	return related
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
