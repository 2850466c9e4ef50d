package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole is the author of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Conversation is a project-scoped continuous chat session. The engine
// reuses the most-recently-updated conversation per (user, project) rather
// than starting a new one per query.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one immutable conversation turn. SQL text, query results,
// intent, and metadata are populated for assistant turns only.
type Message struct {
	ID             uuid.UUID        `json:"id"`
	ConversationID uuid.UUID        `json:"conversation_id"`
	Role           MessageRole      `json:"role"`
	Content        string           `json:"content"`
	SQLQuery       string           `json:"sql_query,omitempty"`
	QueryResult    *QueryResult     `json:"query_result,omitempty"`
	Intent         Intent           `json:"intent,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	TablesUsed     []string         `json:"tables_used,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// QueryResult is the structured result of an executed query. SampleData is
// capped at the engine's sample cap; TotalRows is the true count.
type QueryResult struct {
	Columns    []string         `json:"columns"`
	SampleData []map[string]any `json:"sample_data"`
	TotalRows  int              `json:"total_rows"`
}

// MessageMetadata is the typed view of the per-message metadata map. Only
// the keys below are part of the contract surface.
type MessageMetadata struct {
	Chart                *ChartPayload         `json:"chart,omitempty"`
	SuggestedQuestions   []string              `json:"suggested_questions,omitempty"`
	PendingVisualization *PendingVisualization `json:"pending_visualization,omitempty"`
	// FollowUpTo records which assistant suggestion a follow_up_response
	// turn resolved, for provenance.
	FollowUpTo string `json:"follow_up_to,omitempty"`
}

// PromptTurn is the compact projection of a Message that is safe to inject
// into a language-model prompt. Chart payloads are reduced to shape
// descriptors and follow-up lists are capped; pending-visualization state is
// preserved verbatim because chart-selection follow-ups need it.
type PromptTurn struct {
	Role                 MessageRole           `json:"role"`
	Content              string                `json:"content"`
	SQLQuery             string                `json:"sql_query,omitempty"`
	Intent               Intent                `json:"intent,omitempty"`
	TablesUsed           []string              `json:"tables_used,omitempty"`
	ChartSummary         *ChartSummary         `json:"chart_summary,omitempty"`
	SuggestedQuestions   []string              `json:"suggested_questions,omitempty"`
	PendingVisualization *PendingVisualization `json:"pending_visualization,omitempty"`
}

// maxPromptSuggestions caps suggestion lists in the prompt projection.
const maxPromptSuggestions = 5

// ToPromptTurn produces the prompt projection of a message. Full chart JSON
// must never reach a prompt; this is the only sanctioned conversion.
func (m *Message) ToPromptTurn() PromptTurn {
	turn := PromptTurn{
		Role:       m.Role,
		Content:    m.Content,
		SQLQuery:   m.SQLQuery,
		Intent:     m.Intent,
		TablesUsed: m.TablesUsed,
	}

	if m.Metadata == nil {
		return turn
	}

	if m.Metadata.Chart != nil {
		turn.ChartSummary = &ChartSummary{
			Type:       m.Metadata.Chart.Type,
			Title:      m.Metadata.Chart.Title,
			PointCount: len(m.Metadata.Chart.DataPoints),
		}
	}

	suggestions := m.Metadata.SuggestedQuestions
	if len(suggestions) > maxPromptSuggestions {
		suggestions = suggestions[:maxPromptSuggestions]
	}
	turn.SuggestedQuestions = suggestions

	turn.PendingVisualization = m.Metadata.PendingVisualization

	return turn
}
