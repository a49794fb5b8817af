package qa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/medrax/backend/internal/config"
	"github.com/zhouzirui/medrax/backend/internal/model/history"
	"github.com/zhouzirui/medrax/backend/internal/service/ai"
)

const qaOp = "qa"

// ErrQuestionRequired is returned for an empty question.
var ErrQuestionRequired = errors.New("question is required")

// InsufficientInformation is the answer the model is told to give when the
// report does not cover the question.
const InsufficientInformation = "The report does not provide sufficient information."

const answerPrompt = `
Answer the question strictly using the report.
If the answer is not present in the report, say:
"` + InsufficientInformation + `"

REPORT:
{report}

QUESTION:
{question}
`

// Service 基于已保存的报告回答追问，并把问答写回历史记录。
type Service struct {
	store history.Store
	chain compose.Runnable[map[string]any, *schema.Message]
	cfg   config.GenerationConfig
	now   func() time.Time
}

// NewService compiles the answer chain around chatModel.
func NewService(ctx context.Context, store history.Store, chatModel model.BaseChatModel, cfg config.GenerationConfig) (*Service, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage(answerPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile qa chain: %w", err)
	}

	return &Service{
		store: store,
		chain: runnable,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Answer 读取报告、调用模型并追加问答记录。任何一步失败都不会修改记录。
func (s *Service) Answer(ctx context.Context, id history.ID, question string) (string, error) {
	rec, err := s.load(ctx, id, question)
	if err != nil {
		return "", err
	}

	msg, err := s.chain.Invoke(ctx, s.input(rec, question), s.options())
	if err != nil {
		return "", ai.AsUpstreamError(qaOp, err)
	}

	answer, err := ai.ResponseText(qaOp, msg)
	if err != nil {
		return "", err
	}

	if err := s.record(ctx, id, question, answer); err != nil {
		return "", err
	}
	return answer, nil
}

// StreamAnswer behaves like Answer but forwards deltas as they arrive. The
// entry is appended once, after the stream has completed.
func (s *Service) StreamAnswer(ctx context.Context, id history.ID, question string, onDelta func(string) error) (string, error) {
	rec, err := s.load(ctx, id, question)
	if err != nil {
		return "", err
	}

	stream, err := s.chain.Stream(ctx, s.input(rec, question), s.options())
	if err != nil {
		return "", ai.AsUpstreamError(qaOp, err)
	}

	answer, err := ai.CollectStream(qaOp, stream, onDelta)
	if err != nil {
		return "", err
	}

	if err := s.record(ctx, id, question, answer); err != nil {
		return "", err
	}
	return answer, nil
}

// load 校验问题并读取记录。问题原样保存，不做裁剪。
func (s *Service) load(ctx context.Context, id history.ID, question string) (*history.Record, error) {
	if question == "" {
		return nil, ErrQuestionRequired
	}
	return s.store.Get(ctx, id)
}

func (s *Service) record(ctx context.Context, id history.ID, question, answer string) error {
	entry := history.QAEntry{Question: question, Answer: answer, Time: s.now()}
	if err := s.store.AppendQA(ctx, id, entry); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			log.Printf("[qa] record %s disappeared before answer was stored", id)
			return err
		}
		return fmt.Errorf("failed to store answer: %w", err)
	}

	log.Printf("[qa] answered question for record=%s, length=%d", id, len(answer))
	return nil
}

func (s *Service) input(rec *history.Record, question string) map[string]any {
	return map[string]any{
		"report":   rec.Report,
		"question": question,
	}
}

func (s *Service) options() compose.Option {
	return compose.WithChatModelOption(
		model.WithTemperature(s.cfg.Temperature),
		model.WithMaxTokens(s.cfg.MaxTokens),
	)
}
