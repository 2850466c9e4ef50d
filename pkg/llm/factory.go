package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
)

// LLMClientFactory is the interface for creating LLM clients. Use this
// interface for dependency injection and testing.
type LLMClientFactory interface {
	// CreateChatClient returns the client for full chat-completion work
	// (SQL generation, summarization, workflow data queries).
	CreateChatClient() (LLMClient, error)

	// CreateNLPClient returns the client for lightweight classification
	// calls (intent, date extraction). May use a cheaper model.
	CreateNLPClient() (LLMClient, error)

	// CreateEmbeddingClient returns the client for embedding calls.
	CreateEmbeddingClient() (LLMClient, error)
}

// ClientFactory creates LLM clients from server configuration.
type ClientFactory struct {
	llmCfg   config.LLMConfig
	embedCfg config.EmbeddingConfig
	logger   *zap.Logger
}

// NewClientFactory creates a new factory.
func NewClientFactory(llmCfg config.LLMConfig, embedCfg config.EmbeddingConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		llmCfg:   llmCfg,
		embedCfg: embedCfg,
		logger:   logger,
	}
}

var _ LLMClientFactory = (*ClientFactory)(nil)

// CreateChatClient creates the chat-completion client for the configured
// provider.
func (f *ClientFactory) CreateChatClient() (LLMClient, error) {
	return f.createForModel(f.llmCfg.Model)
}

// CreateNLPClient creates the classification client. Falls back to the chat
// model when no NLP model is configured.
func (f *ClientFactory) CreateNLPClient() (LLMClient, error) {
	model := f.llmCfg.NLPModel
	if model == "" {
		model = f.llmCfg.Model
	}
	return f.createForModel(model)
}

// CreateEmbeddingClient creates the embedding client. Embeddings always use
// the OpenAI-compatible endpoint regardless of chat provider.
func (f *ClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	client, err := NewClient(&Config{
		Endpoint: f.embedCfg.Endpoint,
		Model:    f.embedCfg.Model,
		APIKey:   f.embedCfg.APIKey,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}

func (f *ClientFactory) createForModel(model string) (LLMClient, error) {
	cfg := &Config{
		Endpoint: f.llmCfg.Endpoint,
		Model:    model,
		APIKey:   f.llmCfg.APIKey,
	}

	switch f.llmCfg.Provider {
	case "anthropic":
		client, err := NewAnthropicClient(cfg, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		client, err := NewClient(cfg, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
		return client, nil
	}
}
