package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/audit"
	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/jsonutil"
	"github.com/RetailAIUseCase/retailai-engine/pkg/llm"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
	enginesql "github.com/RetailAIUseCase/retailai-engine/pkg/sql"
)

// SQLGenerationService synthesizes SQL from retrieved context, executes it
// through the tenant-scoped read path, and self-corrects on failure by
// re-prompting with the accumulated error history. It never returns a Go
// error to the caller: exhausted retries produce a degraded response with a
// bounded confidence score.
type SQLGenerationService interface {
	Generate(ctx context.Context, query string, rc models.RetrievalContext, history []models.PromptTurn) *SQLGenerationResult
}

// SQLGenerationResult is the full outcome of one generation run.
type SQLGenerationResult struct {
	SQL                string              `json:"sql_query,omitempty"`
	Explanation        string              `json:"explanation,omitempty"`
	TablesUsed         []string            `json:"tables_used,omitempty"`
	QueryResult        *models.QueryResult `json:"query_result,omitempty"`
	FinalAnswer        string              `json:"final_answer"`
	Confidence         float64             `json:"confidence"`
	SuggestedQuestions []string            `json:"suggested_next_questions,omitempty"`
	// AttemptedSQL lists every failing statement when all attempts exhaust.
	AttemptedSQL []string `json:"attempted_sql,omitempty"`
	// Rows carries the uncapped result set for internal consumers such as
	// the PO workflow; it never serializes into API responses.
	Rows []map[string]any `json:"-"`
}

// sqlGenResponse is the JSON contract the generation prompt demands.
// Confidence stays raw because models intermittently quote it.
type sqlGenResponse struct {
	SQL         string          `json:"sql"`
	Explanation string          `json:"explanation"`
	TablesUsed  []string        `json:"tables_used"`
	Confidence  json.RawMessage `json:"confidence"`
}

// degradedConfidence bounds the confidence of any response produced without
// a successful execution.
const degradedConfidence = 0.2

const sqlGenSystemPrompt = `You are a PostgreSQL query generator for a retail data warehouse. Generate exactly one read-only SELECT statement for the user's question using only the tables and columns in the provided schema context.

Rules:
- Use only tables and columns that appear in the schema context. Never invent identifiers.
- Respect the business rules provided.
- Single statement, no comments, no data modification of any kind.
- When using DISTINCT, every ORDER BY expression must appear in the select list.

Respond with a JSON object: {"sql": "...", "explanation": "...", "tables_used": ["..."], "confidence": 0.0-1.0}`

const summarySystemPrompt = `You summarize SQL query results for business users in 2-4 sentences. Be factual: mention only values present in the data. If the result set is empty, say clearly that no matching rows were found.`

const suggestionsSystemPrompt = `You propose follow-up questions a business user might ask next, given a question and its result. Respond with a JSON array of 2-3 short question strings and nothing else.`

type attemptFailure struct {
	sql    string
	errMsg string
}

type sqlGenService struct {
	chatClient llm.LLMClient
	executor   repositories.QueryExecutor
	auditor    *audit.SecurityAuditor
	maxRetries int
	sampleCap  int
	logger     *zap.Logger
}

// NewSQLGenerationService creates a new SQLGenerationService.
func NewSQLGenerationService(
	chatClient llm.LLMClient,
	executor repositories.QueryExecutor,
	auditor *audit.SecurityAuditor,
	cfg config.SQLEngineConfig,
	logger *zap.Logger,
) SQLGenerationService {
	return &sqlGenService{
		chatClient: chatClient,
		executor:   executor,
		auditor:    auditor,
		maxRetries: cfg.MaxRetries,
		sampleCap:  cfg.SampleRowsCap,
		logger:     logger,
	}
}

var _ SQLGenerationService = (*sqlGenService)(nil)

func (s *sqlGenService) Generate(ctx context.Context, query string, rc models.RetrievalContext, history []models.PromptTurn) *SQLGenerationResult {
	if len(rc.Metadata) == 0 {
		// Without schema context there is nothing to ground SQL on;
		// answering anyway would hallucinate table names.
		return &SQLGenerationResult{
			FinalAnswer: "I don't have enough schema information to answer that. " +
				"Try uploading schema metadata for the tables involved, or rephrase the question.",
			Confidence: degradedConfidence,
		}
	}

	var failures []attemptFailure

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		prompt := s.buildGenerationPrompt(query, rc, history, failures)

		raw, err := s.chatClient.GenerateResponse(ctx, prompt, sqlGenSystemPrompt, 0.1)
		if err != nil {
			s.logger.Warn("SQL generation call failed",
				zap.Int("attempt", attempt), zap.Error(err))
			failures = append(failures, attemptFailure{errMsg: fmt.Sprintf("model call failed: %v", err)})
			continue
		}

		gen, err := llm.ParseJSONResponse[sqlGenResponse](raw)
		if err != nil {
			s.logger.Warn("SQL generation returned malformed JSON",
				zap.Int("attempt", attempt), zap.Error(err))
			failures = append(failures, attemptFailure{errMsg: fmt.Sprintf("malformed response: %v", err)})
			continue
		}

		safeSQL, err := enginesql.GuardQuery(gen.SQL)
		if err != nil {
			s.logger.Warn("Generated SQL rejected by guard",
				zap.Int("attempt", attempt), zap.Error(err))
			s.auditor.LogDeniedStatement(ctx, audit.StatementDetails{
				SQL:    truncate(gen.SQL, maxErrorHistorySQL),
				Reason: err.Error(),
			})
			failures = append(failures, attemptFailure{sql: gen.SQL, errMsg: err.Error()})
			continue
		}
		if hits := enginesql.CheckStringLiterals(safeSQL); len(hits) > 0 {
			s.logger.Warn("Generated SQL literal failed injection screen",
				zap.Int("attempt", attempt),
				zap.String("fingerprint", hits[0].Fingerprint))
			s.auditor.LogInjectionAttempt(ctx, audit.StatementDetails{
				SQL:    truncate(gen.SQL, maxErrorHistorySQL),
				Reason: "string literal matched injection fingerprint " + hits[0].Fingerprint,
			})
			failures = append(failures, attemptFailure{sql: gen.SQL, errMsg: "string literal failed injection screening"})
			continue
		}

		columns, rows, err := s.executor.ExecuteReadOnly(ctx, safeSQL)
		if err != nil {
			s.logger.Warn("Generated SQL failed execution",
				zap.Int("attempt", attempt), zap.Error(err))
			failures = append(failures, attemptFailure{sql: safeSQL, errMsg: err.Error()})
			continue
		}

		// Zero rows is a successful execution, not a retry trigger.
		result := s.capResult(columns, rows)
		answer := s.summarize(ctx, query, gen.Explanation, result)
		suggestions := s.suggestFollowUps(ctx, query, result)

		confidence := jsonutil.FlexibleFloatValue(gen.Confidence)
		if confidence <= 0 || confidence > 1 {
			confidence = 0.8
		}

		return &SQLGenerationResult{
			SQL:                safeSQL,
			Explanation:        gen.Explanation,
			TablesUsed:         gen.TablesUsed,
			QueryResult:        result,
			FinalAnswer:        answer,
			Confidence:         confidence,
			SuggestedQuestions: suggestions,
			Rows:               rows,
		}
	}

	attempted := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.sql != "" {
			attempted = append(attempted, f.sql)
		}
	}
	return &SQLGenerationResult{
		FinalAnswer: "I wasn't able to produce a working query for that question after several attempts. " +
			"Could you rephrase it, or name the tables or measures you have in mind?",
		Confidence:   degradedConfidence,
		AttemptedSQL: attempted,
	}
}

func (s *sqlGenService) capResult(columns []string, rows []map[string]any) *models.QueryResult {
	sample := rows
	if len(sample) > s.sampleCap {
		sample = sample[:s.sampleCap]
	}
	return &models.QueryResult{
		Columns:    columns,
		SampleData: sample,
		TotalRows:  len(rows),
	}
}

// summarize converts the tabular result into a natural-language answer.
// Best-effort: a failed summarizer call degrades to a generic line rather
// than failing the response.
func (s *sqlGenService) summarize(ctx context.Context, query, explanation string, result *models.QueryResult) string {
	if result.TotalRows == 0 {
		return "The query ran successfully but no matching rows were found."
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	if explanation != "" {
		b.WriteString("Query intent: ")
		b.WriteString(explanation)
		b.WriteString("\n\n")
	}
	b.WriteString(fmt.Sprintf("Result (%d rows total, showing up to %d):\n", result.TotalRows, len(result.SampleData)))
	if data, err := json.Marshal(result.SampleData); err == nil {
		b.WriteString(string(data))
	}

	answer, err := s.chatClient.GenerateResponse(ctx, b.String(), summarySystemPrompt, 0.3)
	if err != nil || strings.TrimSpace(answer) == "" {
		s.logger.Debug("Result summarization degraded", zap.Error(err))
		return fmt.Sprintf("The query returned %d rows.", result.TotalRows)
	}
	return strings.TrimSpace(answer)
}

// suggestFollowUps proposes 2-3 contextual next questions. Best-effort: any
// failure omits the field.
func (s *sqlGenService) suggestFollowUps(ctx context.Context, query string, result *models.QueryResult) []string {
	prompt := fmt.Sprintf("Question: %s\nColumns: %s\nRows returned: %d",
		query, strings.Join(result.Columns, ", "), result.TotalRows)

	raw, err := s.chatClient.GenerateResponse(ctx, prompt, suggestionsSystemPrompt, 0.5)
	if err != nil {
		return nil
	}
	suggestions, err := llm.ParseJSONResponse[[]string](raw)
	if err != nil {
		return nil
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}

// maxErrorHistorySQL bounds how much of a failing statement is replayed into
// the correction prompt.
const maxErrorHistorySQL = 500

func (s *sqlGenService) buildGenerationPrompt(query string, rc models.RetrievalContext, history []models.PromptTurn, failures []attemptFailure) string {
	var b strings.Builder

	b.WriteString("## Schema context\n")
	writeMetadataContext(&b, rc.Metadata)

	if len(rc.BusinessLogic) > 0 {
		b.WriteString("\n## Business rules\n")
		for _, chunk := range rc.BusinessLogic {
			fmt.Fprintf(&b, "- (rule %d, similarity %.2f) %s\n", chunk.RuleNumber, chunk.Similarity, chunk.Content)
		}
	}

	if len(rc.References) > 0 {
		b.WriteString("\n## Reference notes\n")
		for _, chunk := range rc.References {
			fmt.Fprintf(&b, "- (similarity %.2f) %s\n", chunk.Similarity, chunk.Content)
		}
	}

	if len(history) > 0 {
		b.WriteString("\n## Conversation so far\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, truncate(turn.Content, 300))
			if turn.SQLQuery != "" {
				fmt.Fprintf(&b, "  (sql: %s)\n", truncate(turn.SQLQuery, 200))
			}
		}
	}

	if len(failures) > 0 {
		b.WriteString("\n## Previous failed attempts\n")
		b.WriteString("Each attempt below failed. Fix the cause before answering. Check every column and table name against the schema context, and remember that with DISTINCT every ORDER BY expression must be in the select list.\n")
		for i, f := range failures {
			fmt.Fprintf(&b, "Attempt %d:\n", i+1)
			if f.sql != "" {
				fmt.Fprintf(&b, "  SQL: %s\n", truncate(f.sql, maxErrorHistorySQL))
			}
			fmt.Fprintf(&b, "  Error: %s\n", f.errMsg)
		}
	}

	b.WriteString("\n## Question\n")
	b.WriteString(query)
	return b.String()
}

// writeMetadataContext groups schema chunks by primary vs FK-related tables
// so the model sees which tables actually matched the question.
func writeMetadataContext(b *strings.Builder, metadata []models.RetrievedChunk) {
	var primary, related []models.RetrievedChunk
	for _, chunk := range metadata {
		if chunk.IsPrimary {
			primary = append(primary, chunk)
		} else {
			related = append(related, chunk)
		}
	}

	b.WriteString("### Matched tables\n")
	for _, chunk := range primary {
		fmt.Fprintf(b, "- [%s] %s (similarity %.2f): %s\n", chunk.ContentType, chunk.TableName, chunk.Similarity, chunk.Content)
	}
	if len(related) > 0 {
		b.WriteString("### Related tables (referenced by foreign keys)\n")
		for _, chunk := range related {
			fmt.Fprintf(b, "- [%s] %s (similarity %.2f): %s\n", chunk.ContentType, chunk.TableName, chunk.Similarity, chunk.Content)
		}
	}
}
