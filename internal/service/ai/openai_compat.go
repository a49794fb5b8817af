package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAICompatConfig configures a chat model served over an OpenAI-compatible
// endpoint such as Groq.
type OpenAICompatConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAICompatModel adapts a langchaingo OpenAI client to eino's
// model.BaseChatModel so it can be placed in compose chains.
type OpenAICompatModel struct {
	llm   llms.Model
	model string
}

var _ model.BaseChatModel = (*OpenAICompatModel)(nil)

// NewOpenAICompatModel creates the adapter. Non-2xx responses surface as
// *UpstreamError carrying the raw body.
func NewOpenAICompatModel(cfg OpenAICompatConfig) (*OpenAICompatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(NewUpstreamHTTPClient(cfg.Timeout)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai-compatible client: %w", err)
	}

	return &OpenAICompatModel{llm: client, model: cfg.Model}, nil
}

// compatOptions holds options only this adapter understands.
type compatOptions struct {
	RepetitionPenalty *float64
}

// WithRepetitionPenalty discourages repeated tokens. The multiplicative
// penalty is translated to the endpoint's additive frequency penalty.
func WithRepetitionPenalty(penalty float64) model.Option {
	return model.WrapImplSpecificOptFn(func(o *compatOptions) {
		o.RepetitionPenalty = &penalty
	})
}

// Generate performs one chat completion and returns the first choice.
func (m *OpenAICompatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	resp, err := m.llm.GenerateContent(ctx, toMessageContents(input), m.callOptions(opts)...)
	if err != nil {
		if isEmptyResponse(err) {
			return nil, MalformedResponse("chat completion")
		}
		return nil, AsUpstreamError("chat completion", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, MalformedResponse("chat completion")
	}

	return schema.AssistantMessage(resp.Choices[0].Content, nil), nil
}

// Stream performs one streaming chat completion.
func (m *OpenAICompatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reader, writer := schema.Pipe[*schema.Message](16)
	callOpts := m.callOptions(opts)
	contents := toMessageContents(input)

	go func() {
		defer writer.Close()

		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if closed := writer.Send(schema.AssistantMessage(string(chunk), nil), nil); closed {
				return errors.New("stream reader closed")
			}
			return nil
		}))

		resp, err := m.llm.GenerateContent(ctx, contents, callOpts...)
		switch {
		case isEmptyResponse(err):
			writer.Send(nil, MalformedResponse("chat completion stream"))
		case err != nil:
			writer.Send(nil, AsUpstreamError("chat completion stream", err))
		case resp == nil || len(resp.Choices) == 0:
			writer.Send(nil, MalformedResponse("chat completion stream"))
		}
	}()

	return reader, nil
}

// isEmptyResponse matches both the client-level and the wrapper-level
// "no choices" errors of langchaingo.
func isEmptyResponse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, openai.ErrEmptyResponse) {
		return true
	}
	return strings.Contains(err.Error(), "empty response")
}

func (m *OpenAICompatModel) callOptions(opts []model.Option) []llms.CallOption {
	common := model.GetCommonOptions(&model.Options{}, opts...)
	specific := model.GetImplSpecificOptions(&compatOptions{}, opts...)

	callOpts := []llms.CallOption{llms.WithModel(m.model)}
	if common.Model != nil && *common.Model != "" {
		callOpts = append(callOpts, llms.WithModel(*common.Model))
	}
	if common.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*common.Temperature)))
	}
	if common.MaxTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*common.MaxTokens))
	}
	if common.TopP != nil {
		callOpts = append(callOpts, llms.WithTopP(float64(*common.TopP)))
	}
	if len(common.Stop) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(common.Stop))
	}
	if specific.RepetitionPenalty != nil && *specific.RepetitionPenalty > 1 {
		callOpts = append(callOpts, llms.WithFrequencyPenalty(*specific.RepetitionPenalty-1))
	}
	return callOpts
}

func toMessageContents(input []*schema.Message) []llms.MessageContent {
	contents := make([]llms.MessageContent, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}

		var role llms.ChatMessageType
		switch msg.Role {
		case schema.System:
			role = llms.ChatMessageTypeSystem
		case schema.Assistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}

		parts := make([]llms.ContentPart, 0, 1+len(msg.MultiContent))
		if msg.Content != "" {
			parts = append(parts, llms.TextContent{Text: msg.Content})
		}
		for _, part := range msg.MultiContent {
			switch part.Type {
			case schema.ChatMessagePartTypeText:
				parts = append(parts, llms.TextContent{Text: part.Text})
			case schema.ChatMessagePartTypeImageURL:
				if part.ImageURL != nil {
					parts = append(parts, llms.ImageURLContent{URL: part.ImageURL.URL})
				}
			}
		}
		if len(parts) == 0 {
			continue
		}

		contents = append(contents, llms.MessageContent{Role: role, Parts: parts})
	}
	return contents
}

// upstreamTransport turns non-2xx responses into *UpstreamError so the raw
// body survives whatever client library sits above it.
type upstreamTransport struct {
	base http.RoundTripper
}

func (t *upstreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, StatusError("", resp)
	}
	return resp, nil
}

// NewUpstreamHTTPClient returns the client used for remote model calls.
func NewUpstreamHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &upstreamTransport{base: http.DefaultTransport},
	}
}
