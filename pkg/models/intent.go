package models

// Intent classifies a user utterance for handler dispatch.
type Intent string

const (
	IntentSQLQuery           Intent = "sql_query"
	IntentDocumentGeneration Intent = "document_generation"
	IntentChitChat           Intent = "chit_chat"
	IntentClarification      Intent = "clarification"
	IntentFollowUpResponse   Intent = "follow_up_response"
	IntentVisualization      Intent = "visualization"
	IntentChartSelection     Intent = "chart_selection"
)

// ValidIntents lists all valid intents.
var ValidIntents = []Intent{
	IntentSQLQuery,
	IntentDocumentGeneration,
	IntentChitChat,
	IntentClarification,
	IntentFollowUpResponse,
	IntentVisualization,
	IntentChartSelection,
}

// IsValidIntent checks whether an intent value is valid. Unknown strings
// returned by the model are routed to IntentSQLQuery by the classifier.
func IsValidIntent(i Intent) bool {
	for _, valid := range ValidIntents {
		if i == valid {
			return true
		}
	}
	return false
}
