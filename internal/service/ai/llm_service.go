package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/medrax/backend/internal/config"
)

// NewChatModel creates the chat model for the configured provider. modelName
// overrides cfg.Model when not empty, which lets the caption backend run a
// vision model against the same endpoint.
func NewChatModel(ctx context.Context, cfg config.LLMConfig, modelName string) (model.BaseChatModel, error) {
	if modelName == "" {
		modelName = cfg.Model
	}

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewArkChatModel(ctx, modelName)
		if err != nil {
			return nil, fmt.Errorf("failed to create ark chat model: %w", err)
		}
		log.Printf("[ai] ark chat model ready model=%s", modelName)
		return chatModel, nil
	case config.ProviderGroq, "":
		chatModel, err := NewOpenAICompatModel(OpenAICompatConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   modelName,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create groq chat model: %w", err)
		}
		log.Printf("[ai] openai-compatible chat model ready base=%s model=%s", cfg.BaseURL, modelName)
		return chatModel, nil
	default:
		return nil, &config.ConfigurationError{Key: "LLM_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
}

// ResponseText extracts the text of a generated message. A nil message means
// the upstream answered without a choice.
func ResponseText(op string, msg *schema.Message) (string, error) {
	if msg == nil {
		return "", MalformedResponse(op)
	}
	return msg.Content, nil
}
