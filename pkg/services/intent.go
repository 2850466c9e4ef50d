package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/llm"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// IntentService classifies a user utterance into one of the closed set of
// intents. Classification degrades toward "try to answer with data": any
// failure or unrecognized model output yields IntentSQLQuery.
type IntentService interface {
	Classify(ctx context.Context, query string, history []models.PromptTurn) models.Intent
}

// intentHistoryWindow is how many recent turns the classifier sees. Short
// replies ("yes", "okay") cannot be classified without this context.
const intentHistoryWindow = 4

const intentSystemPrompt = `You classify user messages for a retail data assistant. Respond with exactly one word from this list and nothing else:
sql_query - the user wants data retrieved or analyzed
document_generation - the user wants purchase orders generated (e.g. "generate POs for today's orders")
chit_chat - greeting, thanks, or small talk with no data request
clarification - the user asks what the assistant can do or how to phrase a request
follow_up_response - a short yes/no/okay reply to the assistant's previous suggestion
visualization - the user explicitly asks for a chart, graph, or plot
chart_selection - the user picks one of the chart types the assistant just offered`

// visualizationKeywords is the deterministic gate between visualization and
// sql_query. Only explicit visual-representation vocabulary routes to
// visualization; "show me the trend" is a data request, not a chart request.
var visualizationKeywords = []string{"chart", "graph", "plot", "visualize", "visualise", "visualization"}

var chartSelectionKeywords = []string{"bar chart", "line chart", "pie chart", "scatter", "bar graph", "line graph", "pie graph"}

type intentService struct {
	nlpClient llm.LLMClient
	logger    *zap.Logger
}

// NewIntentService creates a new IntentService.
func NewIntentService(nlpClient llm.LLMClient, logger *zap.Logger) IntentService {
	return &intentService{nlpClient: nlpClient, logger: logger}
}

var _ IntentService = (*intentService)(nil)

func (s *intentService) Classify(ctx context.Context, query string, history []models.PromptTurn) models.Intent {
	prompt := buildIntentPrompt(query, history)

	response, err := s.nlpClient.GenerateResponse(ctx, prompt, intentSystemPrompt, 0.0)
	if err != nil {
		s.logger.Warn("Intent classification failed, defaulting to sql_query", zap.Error(err))
		return models.IntentSQLQuery
	}

	intent := models.Intent(strings.ToLower(strings.TrimSpace(response)))
	if !models.IsValidIntent(intent) {
		s.logger.Warn("Classifier returned unknown intent, defaulting to sql_query",
			zap.String("raw", response))
		intent = models.IntentSQLQuery
	}

	return s.applyKeywordGate(query, history, intent)
}

// applyKeywordGate enforces the deterministic visualization routing rules on
// top of the model's answer. Precision over recall: users get charts only
// when they ask for charts.
func (s *intentService) applyKeywordGate(query string, history []models.PromptTurn, intent models.Intent) models.Intent {
	lower := strings.ToLower(query)

	wantsVisual := false
	for _, kw := range visualizationKeywords {
		if strings.Contains(lower, kw) {
			wantsVisual = true
			break
		}
	}

	// A chart-type mention while a visualization is pending resolves that
	// pending suggestion rather than starting a new chart request.
	if wantsVisual && hasPendingVisualization(history) {
		for _, kw := range chartSelectionKeywords {
			if strings.Contains(lower, kw) {
				return models.IntentChartSelection
			}
		}
	}

	switch intent {
	case models.IntentVisualization:
		if !wantsVisual {
			return models.IntentSQLQuery
		}
	case models.IntentSQLQuery:
		if wantsVisual {
			return models.IntentVisualization
		}
	case models.IntentChartSelection:
		if !hasPendingVisualization(history) {
			return models.IntentSQLQuery
		}
	}
	return intent
}

func hasPendingVisualization(history []models.PromptTurn) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].PendingVisualization != nil {
			return true
		}
	}
	return false
}

func buildIntentPrompt(query string, history []models.PromptTurn) string {
	var b strings.Builder

	if len(history) > intentHistoryWindow {
		history = history[len(history)-intentHistoryWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			b.WriteString(string(turn.Role))
			b.WriteString(": ")
			b.WriteString(truncate(turn.Content, 300))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Classify this message: ")
	b.WriteString(query)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
