package llm

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

// CompletionRequest is the minimal shape the engine's execution loop
// needs from a model call: a single prompt plus generation knobs. The
// engine does not stream; Phase 4 waits for one complete reply per
// reasoning step.
type CompletionRequest struct {
	Model       string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// CompletionResult is what every adapter normalizes its provider's
// response into.
type CompletionResult struct {
	Content      string
	TokensUsed   int
	FinishReason string
	Model        string
}

// Client is the uniform interface C10 wraps with retry logic. Every
// provider adapter, and the mock used in tests, implements it.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	CountTokens(text string) int
}

// charsPerToken matches internal/ctxwindow's estimation heuristic so a
// client without a provider-reported token count still produces
// consistent numbers.
const charsPerToken = 4

func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// --- Mock client ---

// MockResponder lets tests script a sequence of responses/errors.
type MockResponder func(attempt int, req CompletionRequest) (CompletionResult, error)

// MockClient is a deterministic Client for tests and for running the
// engine without any configured provider credentials.
type MockClient struct {
	respond MockResponder
	calls   int
}

// NewMockClient builds a MockClient that always returns a canned
// completion describing the prompt it was given.
func NewMockClient() *MockClient {
	return &MockClient{respond: func(attempt int, req CompletionRequest) (CompletionResult, error) {
		return CompletionResult{
			Content:      "mock response to: " + req.Prompt,
			TokensUsed:   estimateTokens(req.Prompt) + 16,
			FinishReason: "stop",
			Model:        req.Model,
		}, nil
	}}
}

// NewScriptedMockClient builds a MockClient driven entirely by responder,
// used to simulate transient failures followed by eventual success.
func NewScriptedMockClient(responder MockResponder) *MockClient {
	return &MockClient{respond: responder}
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	m.calls++
	return m.respond(m.calls, req)
}

func (m *MockClient) CountTokens(text string) int { return estimateTokens(text) }

// --- Anthropic adapter ---

// AnthropicClient adapts anthropic-sdk-go to the Client interface.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicClient constructs an AnthropicClient.
func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	model := config.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), defaultModel: model}
}

func (c *AnthropicClient) modelFor(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelFor(req)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResult{}, adaptAnthropicError(err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return CompletionResult{
		Content:      content,
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
		Model:        string(msg.Model),
	}, nil
}

func (c *AnthropicClient) CountTokens(text string) int { return estimateTokens(text) }

func adaptAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ProviderFailure{Status: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return ProviderFailure{Message: err.Error()}
}

// --- OpenAI adapter ---

// OpenAIClient adapts sashabaranov/go-openai to the Client interface.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewOpenAIClient constructs an OpenAIClient.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	model := config.DefaultModel
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), defaultModel: model}
}

func (c *OpenAIClient) modelFor(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.modelFor(req),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return CompletionResult{}, adaptOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("openai: empty choices in response")
	}

	return CompletionResult{
		Content:      resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
	}, nil
}

func (c *OpenAIClient) CountTokens(text string) int { return estimateTokens(text) }

func adaptOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ProviderFailure{Status: apiErr.HTTPStatusCode, Code: fmt.Sprintf("%v", apiErr.Code), Message: apiErr.Message}
	}
	return ProviderFailure{Message: err.Error()}
}
