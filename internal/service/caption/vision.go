package caption

import (
	"context"
	"encoding/base64"
	"image"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/medrax/backend/internal/service/ai"
)

// VisionGenerator captions through a multimodal chat model. Chat endpoints
// have no beam search, so only the token cap and repetition penalty apply.
type VisionGenerator struct {
	chatModel         model.BaseChatModel
	prompt            string
	maxTokens         int
	repetitionPenalty float64
}

// NewVisionGenerator 创建基于多模态对话模型的描述生成器。
func NewVisionGenerator(chatModel model.BaseChatModel, prompt string, maxTokens int, repetitionPenalty float64) *VisionGenerator {
	return &VisionGenerator{
		chatModel:         chatModel,
		prompt:            prompt,
		maxTokens:         maxTokens,
		repetitionPenalty: repetitionPenalty,
	}
}

// Caption implements Generator.
func (g *VisionGenerator) Caption(ctx context.Context, img image.Image) (string, error) {
	encoded, err := EncodePNG(Normalize(img))
	if err != nil {
		return "", err
	}

	input := []*schema.Message{{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: g.prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(encoded),
				},
			},
		},
	}}

	opts := []model.Option{model.WithMaxTokens(g.maxTokens)}
	if g.repetitionPenalty > 0 {
		opts = append(opts, ai.WithRepetitionPenalty(g.repetitionPenalty))
	}

	resp, err := g.chatModel.Generate(ctx, input, opts...)
	if err != nil {
		return "", ai.AsUpstreamError(captionOp, err)
	}

	text, err := ai.ResponseText(captionOp, resp)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ai.MalformedResponse(captionOp)
	}
	return text, nil
}
