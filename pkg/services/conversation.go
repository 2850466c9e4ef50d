package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/apperrors"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
)

// ConversationService maintains conversational memory. Conversations are
// project-scoped continuous sessions: a new message lands in the
// most-recently-updated conversation for the tenant rather than starting a
// fresh one per query.
type ConversationService interface {
	// GetOrCreate returns the tenant's most recent conversation, creating
	// one titled from the seed query when none exists.
	GetOrCreate(ctx context.Context, seedQuery string) (*models.Conversation, error)

	// Append stores one immutable turn and advances the conversation's
	// updated_at.
	Append(ctx context.Context, msg *models.Message) error

	// History returns the last `window` turns in chronological order, full
	// storage projection, heavy payloads included.
	History(ctx context.Context, conversationID uuid.UUID, window int) ([]*models.Message, error)

	// PromptHistory returns the same window reduced to the prompt-safe
	// projection. Full chart JSON must never reach a model prompt.
	PromptHistory(ctx context.Context, conversationID uuid.UUID, window int) ([]models.PromptTurn, error)

	List(ctx context.Context, limit int) ([]*models.Conversation, error)
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// defaultHistoryWindow is the turn window used when callers pass 0.
const defaultHistoryWindow = 10

// maxTitleLength bounds conversation titles derived from seed queries.
const maxTitleLength = 80

type conversationService struct {
	repo   repositories.ConversationRepository
	logger *zap.Logger
}

// NewConversationService creates a new ConversationService.
func NewConversationService(repo repositories.ConversationRepository, logger *zap.Logger) ConversationService {
	return &conversationService{repo: repo, logger: logger}
}

var _ ConversationService = (*conversationService)(nil)

func (s *conversationService) GetOrCreate(ctx context.Context, seedQuery string) (*models.Conversation, error) {
	conv, err := s.repo.GetMostRecent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv != nil {
		return conv, nil
	}

	title := seedQuery
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	conv = &models.Conversation{Title: title}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.Info("Created conversation",
		zap.String("conversation_id", conv.ID.String()))
	return conv, nil
}

func (s *conversationService) Append(ctx context.Context, msg *models.Message) error {
	if msg.ConversationID == uuid.Nil {
		return fmt.Errorf("message has no conversation: %w", apperrors.ErrInvalidInput)
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *conversationService) History(ctx context.Context, conversationID uuid.UUID, window int) ([]*models.Message, error) {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	msgs, err := s.repo.GetMessages(ctx, conversationID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return msgs, nil
}

func (s *conversationService) PromptHistory(ctx context.Context, conversationID uuid.UUID, window int) ([]models.PromptTurn, error) {
	msgs, err := s.History(ctx, conversationID, window)
	if err != nil {
		return nil, err
	}
	turns := make([]models.PromptTurn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, msg.ToPromptTurn())
	}
	return turns, nil
}

func (s *conversationService) List(ctx context.Context, limit int) ([]*models.Conversation, error) {
	return s.repo.List(ctx, limit)
}

func (s *conversationService) Delete(ctx context.Context, conversationID uuid.UUID) error {
	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return apperrors.ErrNotFound
	}
	return s.repo.Delete(ctx, conversationID)
}
