package caption

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/zhouzirui/medrax/backend/internal/config"
	"github.com/zhouzirui/medrax/backend/internal/service/ai"
)

// Generator 为一张胸片生成简短的影像描述。
type Generator interface {
	Caption(ctx context.Context, img image.Image) (string, error)
}

// New 根据配置选择描述后端。
func New(ctx context.Context, cfg config.CaptionConfig, llm config.LLMConfig) (Generator, error) {
	switch cfg.Backend {
	case config.CaptionBackendBLIP:
		log.Printf("[caption] using blip backend model=%s", cfg.Model)
		return NewBLIPGenerator(BLIPConfig{
			BaseURL:           cfg.HFBaseURL,
			Token:             cfg.HFToken,
			Model:             cfg.Model,
			Prompt:            cfg.Prompt,
			MaxNewTokens:      cfg.MaxTokens,
			NumBeams:          cfg.NumBeams,
			RepetitionPenalty: cfg.RepetitionPenalty,
			Timeout:           llm.Timeout,
		}), nil
	case config.CaptionBackendVision:
		chatModel, err := ai.NewChatModel(ctx, llm, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create vision model: %w", err)
		}
		log.Printf("[caption] using vision backend model=%s", cfg.Model)
		return NewVisionGenerator(chatModel, cfg.Prompt, cfg.MaxTokens, cfg.RepetitionPenalty), nil
	default:
		return nil, &config.ConfigurationError{Key: "CAPTION_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}
}
