package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// ChatService is the query entry point: it threads conversational memory,
// classifies intent, and routes to the SQL engine, the PO workflow, the
// visualization path, or a canned conversational handler.
type ChatService interface {
	ProcessUserQuery(ctx context.Context, query string) (*ChatResponse, error)
}

// ChatResponse is the structured response for one user message. Intent,
// FinalAnswer, Confidence, and ConversationID are always present; the rest
// depend on the intent.
type ChatResponse struct {
	ConversationID      uuid.UUID           `json:"conversation_id"`
	Intent              models.Intent       `json:"intent"`
	FinalAnswer         string              `json:"final_answer"`
	Confidence          float64             `json:"confidence"`
	SQLQuery            string              `json:"sql_query,omitempty"`
	QueryResult         *models.QueryResult `json:"query_result,omitempty"`
	TablesUsed          []string            `json:"tables_used,omitempty"`
	SuggestedQuestions  []string            `json:"suggested_next_questions,omitempty"`
	WorkflowID          string              `json:"workflow_id,omitempty"`
	Chart               *models.ChartPayload `json:"chart,omitempty"`
	SuggestedChartTypes []models.ChartType  `json:"suggested_chart_types,omitempty"`
}

// orderDatePattern finds an explicit ISO date in a workflow trigger query.
var orderDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

var affirmativeReplies = []string{"yes", "yeah", "yep", "sure", "okay", "ok", "please do", "go ahead"}

type chatService struct {
	conversations ConversationService
	intents       IntentService
	retrieval     RetrievalService
	sqlGen        SQLGenerationService
	workflow      POWorkflowService
	visualization VisualizationService
	logger        *zap.Logger
}

// NewChatService creates a new ChatService.
func NewChatService(
	conversations ConversationService,
	intents IntentService,
	retrieval RetrievalService,
	sqlGen SQLGenerationService,
	workflow POWorkflowService,
	visualization VisualizationService,
	logger *zap.Logger,
) ChatService {
	return &chatService{
		conversations: conversations,
		intents:       intents,
		retrieval:     retrieval,
		sqlGen:        sqlGen,
		workflow:      workflow,
		visualization: visualization,
		logger:        logger,
	}
}

var _ ChatService = (*chatService)(nil)

func (s *chatService) ProcessUserQuery(ctx context.Context, query string) (*ChatResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	conv, err := s.conversations.GetOrCreate(ctx, query)
	if err != nil {
		return nil, err
	}

	history, err := s.conversations.PromptHistory(ctx, conv.ID, defaultHistoryWindow)
	if err != nil {
		return nil, err
	}

	if err := s.conversations.Append(ctx, &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        query,
	}); err != nil {
		return nil, err
	}

	intent := s.intents.Classify(ctx, query, history)
	s.logger.Info("Processing user query",
		zap.String("conversation_id", conv.ID.String()),
		zap.String("intent", string(intent)))

	var response *ChatResponse
	var metadata *models.MessageMetadata
	switch intent {
	case models.IntentChitChat:
		response = s.handleChitChat(query)
	case models.IntentClarification:
		response = s.handleClarification()
	case models.IntentDocumentGeneration:
		response = s.handleDocumentGeneration(ctx, query)
	case models.IntentVisualization:
		response, metadata = s.handleVisualization(ctx, query, history)
	case models.IntentChartSelection:
		response, metadata = s.handleChartSelection(query, history)
	case models.IntentFollowUpResponse:
		response, metadata = s.handleFollowUp(ctx, query, history)
	default:
		// Unknown intents route to sql_query: degrade toward answering
		// with data.
		intent = models.IntentSQLQuery
		response = s.handleSQLQuery(ctx, query, history)
	}
	response.Intent = intent
	response.ConversationID = conv.ID

	assistantMsg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        response.FinalAnswer,
		SQLQuery:       response.SQLQuery,
		QueryResult:    response.QueryResult,
		Intent:         intent,
		TablesUsed:     response.TablesUsed,
		Metadata:       metadata,
	}
	if assistantMsg.Metadata == nil && (len(response.SuggestedQuestions) > 0 || response.Chart != nil) {
		assistantMsg.Metadata = &models.MessageMetadata{}
	}
	if assistantMsg.Metadata != nil {
		if len(response.SuggestedQuestions) > 0 {
			assistantMsg.Metadata.SuggestedQuestions = response.SuggestedQuestions
		}
		if response.Chart != nil {
			assistantMsg.Metadata.Chart = response.Chart
		}
	}
	if err := s.conversations.Append(ctx, assistantMsg); err != nil {
		// The user already has their answer; losing the stored turn is
		// worth a log line, not a failed request.
		s.logger.Error("Failed to store assistant turn",
			zap.String("conversation_id", conv.ID.String()), zap.Error(err))
	}

	return response, nil
}

func (s *chatService) handleSQLQuery(ctx context.Context, query string, history []models.PromptTurn) *ChatResponse {
	rc := s.retrieval.RetrieveForQuery(ctx, query)
	result := s.sqlGen.Generate(ctx, query, rc, history)
	return &ChatResponse{
		FinalAnswer:        result.FinalAnswer,
		Confidence:         result.Confidence,
		SQLQuery:           result.SQL,
		QueryResult:        result.QueryResult,
		TablesUsed:         result.TablesUsed,
		SuggestedQuestions: result.SuggestedQuestions,
	}
}

func (s *chatService) handleChitChat(query string) *ChatResponse {
	lower := strings.ToLower(query)
	var answer string
	switch {
	case strings.Contains(lower, "thank"):
		answer = "You're welcome! Ask me about your data whenever you're ready."
	case strings.Contains(lower, "bye"):
		answer = "Goodbye! Come back any time you need a look at your data."
	default:
		answer = "Hello! I can answer questions about your retail data, chart results, and generate purchase orders for stock shortfalls. What would you like to know?"
	}
	return &ChatResponse{FinalAnswer: answer, Confidence: 1.0}
}

func (s *chatService) handleClarification() *ChatResponse {
	return &ChatResponse{
		FinalAnswer: "I can help in three ways:\n" +
			"- Ask a data question in plain language, e.g. \"what were last week's top selling SKUs?\"\n" +
			"- Ask for a chart of a result, e.g. \"chart monthly sales by region\"\n" +
			"- Ask me to generate purchase orders, e.g. \"generate POs for today's orders\"",
		Confidence: 1.0,
	}
}

func (s *chatService) handleDocumentGeneration(ctx context.Context, query string) *ChatResponse {
	orderDate := parseOrderDate(query)

	wf, err := s.workflow.Start(ctx, orderDate, query)
	if err != nil {
		s.logger.Error("Failed to start PO workflow", zap.Error(err))
		return &ChatResponse{
			FinalAnswer: "I couldn't start the purchase order workflow. Please try again.",
			Confidence:  degradedConfidence,
		}
	}
	return &ChatResponse{
		FinalAnswer: fmt.Sprintf(
			"Purchase order generation started for %s (workflow %s). I'll post progress here; you can also poll the workflow status.",
			orderDate.Format("2006-01-02"), wf.WorkflowID),
		Confidence: 1.0,
		WorkflowID: wf.WorkflowID,
	}
}

func (s *chatService) handleVisualization(ctx context.Context, query string, history []models.PromptTurn) (*ChatResponse, *models.MessageMetadata) {
	response := s.handleSQLQuery(ctx, query, history)
	if response.QueryResult == nil || response.QueryResult.TotalRows == 0 {
		if response.QueryResult != nil {
			response.FinalAnswer = "The query returned no rows, so there is nothing to chart."
		}
		return response, nil
	}

	suggestions := s.visualization.SuggestChartTypes(response.QueryResult.Columns, response.QueryResult.SampleData)
	if len(suggestions) == 0 {
		response.FinalAnswer += "\n\nThis result doesn't have a numeric column I can chart."
		return response, nil
	}

	names := make([]string, 0, len(suggestions))
	for _, t := range suggestions {
		names = append(names, string(t))
	}
	response.FinalAnswer += fmt.Sprintf(
		"\n\nI can chart this as: %s. Which would you like?", strings.Join(names, ", "))
	response.SuggestedChartTypes = suggestions

	// The candidates, data, and query are stored verbatim so a later
	// "use bar chart" resolves without re-running SQL.
	metadata := &models.MessageMetadata{
		PendingVisualization: &models.PendingVisualization{
			OriginalQuery:  query,
			SuggestedTypes: suggestions,
			Columns:        response.QueryResult.Columns,
			Data:           response.QueryResult.SampleData,
		},
	}
	return response, metadata
}

func (s *chatService) handleChartSelection(query string, history []models.PromptTurn) (*ChatResponse, *models.MessageMetadata) {
	pending := latestPendingVisualization(history)
	if pending == nil {
		return &ChatResponse{
			FinalAnswer: "I don't have a pending chart to build. Ask me to chart some data first.",
			Confidence:  degradedConfidence,
		}, nil
	}

	chartType := parseChartType(query, pending.SuggestedTypes)
	if chartType == "" {
		return &ChatResponse{
			FinalAnswer: fmt.Sprintf("Which chart type would you like? I suggested: %s.", joinChartTypes(pending.SuggestedTypes)),
			Confidence:  0.5,
		}, &models.MessageMetadata{PendingVisualization: pending}
	}

	chart, err := s.visualization.BuildChart(chartType, pending)
	if err != nil {
		s.logger.Warn("Chart build failed", zap.Error(err))
		return &ChatResponse{
			FinalAnswer: "I couldn't build that chart from the data we have. Try a different chart type.",
			Confidence:  degradedConfidence,
		}, nil
	}

	return &ChatResponse{
		FinalAnswer: fmt.Sprintf("Here's the %s chart for \"%s\".", chartType, pending.OriginalQuery),
		Confidence:  1.0,
		Chart:       chart,
	}, nil
}

func (s *chatService) handleFollowUp(ctx context.Context, query string, history []models.PromptTurn) (*ChatResponse, *models.MessageMetadata) {
	if !isAffirmative(query) {
		return &ChatResponse{
			FinalAnswer: "No problem. What else would you like to know?",
			Confidence:  1.0,
		}, nil
	}

	suggestion := latestSuggestion(history)
	if suggestion == "" {
		return &ChatResponse{
			FinalAnswer: "I'm not sure which suggestion you're accepting. Could you ask the question directly?",
			Confidence:  0.5,
		}, nil
	}

	response := s.handleSQLQuery(ctx, suggestion, history)
	metadata := &models.MessageMetadata{FollowUpTo: suggestion}
	return response, metadata
}

func parseOrderDate(query string) time.Time {
	today := time.Now().Truncate(24 * time.Hour)
	if match := orderDatePattern.FindString(query); match != "" {
		if d, err := time.Parse("2006-01-02", match); err == nil {
			return d
		}
	}
	if strings.Contains(strings.ToLower(query), "tomorrow") {
		return today.AddDate(0, 0, 1)
	}
	return today
}

func parseChartType(query string, suggested []models.ChartType) models.ChartType {
	lower := strings.ToLower(query)
	for _, t := range models.ValidChartTypes {
		if strings.Contains(lower, string(t)) {
			return t
		}
	}
	// A bare "yes" accepts the first suggestion.
	if isAffirmative(query) && len(suggested) > 0 {
		return suggested[0]
	}
	return ""
}

func isAffirmative(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	lower = strings.TrimRight(lower, ".!")
	for _, a := range affirmativeReplies {
		if lower == a || strings.HasPrefix(lower, a+" ") || strings.HasPrefix(lower, a+",") {
			return true
		}
	}
	return false
}

func latestPendingVisualization(history []models.PromptTurn) *models.PendingVisualization {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].PendingVisualization != nil {
			return history[i].PendingVisualization
		}
	}
	return nil
}

func latestSuggestion(history []models.PromptTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant && len(history[i].SuggestedQuestions) > 0 {
			return history[i].SuggestedQuestions[0]
		}
	}
	return ""
}

func joinChartTypes(types []models.ChartType) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
