package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// ConversationRepository provides data access for conversations and their
// messages.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetMostRecent(ctx context.Context) (*models.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	List(ctx context.Context, limit int) ([]*models.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.Message, error)
}

type conversationRepository struct{}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository() ConversationRepository {
	return &conversationRepository{}
}

var _ ConversationRepository = (*conversationRepository)(nil)

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.UserID = scope.UserID
	conv.ProjectID = scope.ProjectID

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO conversations (id, user_id, project_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.UserID, conv.ProjectID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetMostRecent(ctx context.Context) (*models.Conversation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1 AND project_id = $2
		ORDER BY updated_at DESC
		LIMIT 1`, scope.UserID, scope.ProjectID)

	conv, err := scanConversation(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get most recent conversation: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2 AND project_id = $3`,
		id, scope.UserID, scope.ProjectID)

	conv, err := scanConversation(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) List(ctx context.Context, limit int) ([]*models.Conversation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1 AND project_id = $2
		ORDER BY updated_at DESC
		LIMIT $3`, scope.UserID, scope.ProjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *conversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		DELETE FROM conversations
		WHERE id = $1 AND user_id = $2 AND project_id = $3`,
		id, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}

func (r *conversationRepository) Touch(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE conversations SET updated_at = $1
		WHERE id = $2 AND user_id = $3 AND project_id = $4`,
		time.Now(), id, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) AppendMessage(ctx context.Context, msg *models.Message) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()

	var resultJSON, metaJSON []byte
	var err error
	if msg.QueryResult != nil {
		resultJSON, err = json.Marshal(msg.QueryResult)
		if err != nil {
			return fmt.Errorf("marshal query_result: %w", err)
		}
	}
	if msg.Metadata != nil {
		metaJSON, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO messages
			(id, conversation_id, role, content, sql_query, query_result, intent, metadata, tables_used, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.SQLQuery,
		resultJSON, string(msg.Intent), metaJSON, msg.TablesUsed, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	// Messages are immutable; the conversation's updated_at is the only
	// thing that advances.
	return r.Touch(ctx, msg.ConversationID)
}

func (r *conversationRepository) GetMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.Message, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 50
	}

	// Most recent window, returned in chronological order.
	rows, err := scope.Conn.Query(ctx, `
		SELECT id, conversation_id, role, content,
		       COALESCE(sql_query, ''), query_result, COALESCE(intent, ''),
		       metadata, tables_used, created_at
		FROM (
			SELECT m.* FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.conversation_id = $1
			  AND c.user_id = $2 AND c.project_id = $3
			ORDER BY m.created_at DESC
			LIMIT $4
		) recent
		ORDER BY created_at ASC`,
		conversationID, scope.UserID, scope.ProjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var msg models.Message
		var intent string
		var resultJSON, metaJSON []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.SQLQuery, &resultJSON, &intent, &metaJSON, &msg.TablesUsed, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Intent = models.Intent(intent)
		if len(resultJSON) > 0 {
			msg.QueryResult = &models.QueryResult{}
			if err := json.Unmarshal(resultJSON, msg.QueryResult); err != nil {
				return nil, fmt.Errorf("unmarshal query_result: %w", err)
			}
		}
		if len(metaJSON) > 0 {
			msg.Metadata = &models.MessageMetadata{}
			if err := json.Unmarshal(metaJSON, msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.ProjectID, &conv.Title,
		&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}
