package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/medrax/backend/internal/analysis/report"
	"github.com/zhouzirui/medrax/backend/internal/config"
	"github.com/zhouzirui/medrax/backend/internal/service/ai"
)

const reportOp = "report"

// Synthesizer 将影像描述扩写为完整的放射学报告。
type Synthesizer struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	cfg   config.GenerationConfig
}

// NewSynthesizer compiles the report chain around chatModel.
func NewSynthesizer(ctx context.Context, chatModel model.BaseChatModel, cfg config.GenerationConfig) (*Synthesizer, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile report chain: %w", err)
	}

	return &Synthesizer{chain: runnable, cfg: cfg}, nil
}

// Synthesize 执行一次补全调用并返回报告正文，失败不重试。
func (s *Synthesizer) Synthesize(ctx context.Context, caption string) (string, error) {
	msg, err := s.chain.Invoke(ctx, s.input(caption), s.options())
	if err != nil {
		return "", ai.AsUpstreamError(reportOp, err)
	}

	text, err := ai.ResponseText(reportOp, msg)
	if err != nil {
		return "", err
	}

	s.assess(text)
	return text, nil
}

// Stream 以流式方式生成报告。调用方负责关闭返回的 reader。
func (s *Synthesizer) Stream(ctx context.Context, caption string) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, s.input(caption), s.options())
	if err != nil {
		return nil, ai.AsUpstreamError(reportOp, err)
	}
	return stream, nil
}

// Collect drains a report stream, forwarding each delta to onDelta, and
// returns the full text.
func (s *Synthesizer) Collect(stream *schema.StreamReader[*schema.Message], onDelta func(string) error) (string, error) {
	text, err := ai.CollectStream(reportOp, stream, onDelta)
	if err != nil {
		return "", err
	}
	s.assess(text)
	return text, nil
}

// SynthesizeStream streams a report to onDelta and returns the full text.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, caption string, onDelta func(string) error) (string, error) {
	stream, err := s.Stream(ctx, caption)
	if err != nil {
		return "", err
	}
	return s.Collect(stream, onDelta)
}

func (s *Synthesizer) input(caption string) map[string]any {
	return map[string]any{
		"caption":   caption,
		"min_words": s.cfg.MinWords,
	}
}

func (s *Synthesizer) options() compose.Option {
	return compose.WithChatModelOption(
		model.WithTemperature(s.cfg.Temperature),
		model.WithMaxTokens(s.cfg.MaxTokens),
	)
}

// assess only logs; a short or incomplete report is still returned.
func (s *Synthesizer) assess(text string) {
	assessment := analysis.Analyze(text, s.cfg.MinWords)
	if assessment.OK() {
		return
	}
	log.Printf("[report] generated report below expectations words=%d min=%d: %s",
		assessment.Words, assessment.MinWords, strings.Join(assessment.Warnings(), "; "))
}
