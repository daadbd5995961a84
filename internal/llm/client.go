package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// StreamHandler receives text deltas during streaming. A non-nil error stops
// the stream and is returned from ChatCompletionStream.
type StreamHandler func(delta string) error

// Client is the interface for LLM interactions.
type Client interface {
	ChatCompletion(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)
	ChatCompletionStream(ctx context.Context, messages []Message, tools []ToolDef, handler StreamHandler) (*Response, error)
}

const (
	DefaultMaxTokens = 4096
	DefaultTimeout   = 60 * time.Second
)

// OpenAICompatClient works with any OpenAI-compatible chat completions API.
// Anthropic, Ollama and Gemini all expose one.
type OpenAICompatClient struct {
	client    *openai.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// Option customizes an OpenAICompatClient.
type Option func(*OpenAICompatClient)

// WithMaxTokens caps the length of each completion.
func WithMaxTokens(n int) Option {
	return func(c *OpenAICompatClient) {
		if n > 0 {
			c.maxTokens = int64(n)
		}
	}
}

// WithTimeout bounds each call, including the whole streamed body.
func WithTimeout(d time.Duration) Option {
	return func(c *OpenAICompatClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates an LLM client for the given provider. Retries are left to
// the caller of the HTTP endpoint, so the SDK's own retry loop is disabled.
func NewClient(baseURL, apiKey, model string, opts ...Option) *OpenAICompatClient {
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	c := &OpenAICompatClient{
		client:    &client,
		model:     model,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the model name requests are sent to.
func (c *OpenAICompatClient) Model() string {
	return c.model
}

func (c *OpenAICompatClient) params(messages []Message, tools []ToolDef) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  convertMessages(messages),
		MaxTokens: openai.Int(c.maxTokens),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

func (c *OpenAICompatClient) ChatCompletion(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(callCtx, c.params(messages, tools))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", c.classify(ctx, err))
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices returned")
	}

	choice := completion.Choices[0]
	return &Response{
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: convertToolCalls(choice.Message.ToolCalls),
		},
		FinishReason: choice.FinishReason,
	}, nil
}

// ChatCompletionStream sends a streaming chat completion request.
// The handler is called with each text delta as it arrives.
// Returns the full response once streaming is complete.
func (c *OpenAICompatClient) ChatCompletionStream(ctx context.Context, messages []Message, tools []ToolDef, handler StreamHandler) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream := c.client.Chat.Completions.NewStreaming(callCtx, c.params(messages, tools))
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && handler != nil {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if err := handler(delta); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming: %w", c.classify(ctx, err))
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("streaming: no choices returned")
	}

	choice := acc.Choices[0]
	return &Response{
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: convertToolCalls(choice.Message.ToolCalls),
		},
		FinishReason: choice.FinishReason,
	}, nil
}

// classify maps err to an APIError, treating expiry of the per-call timeout
// as an unreachable provider rather than a caller cancellation.
func (c *OpenAICompatClient) classify(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Message: fmt.Sprintf("no response within %s", c.timeout), Err: err}
	}
	return classifyError(err)
}

func convertToolCalls(calls []openai.ChatCompletionMessageToolCall) []ToolCall {
	var out []ToolCall
	for _, tc := range calls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		out = append(out, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}

// convertMessages maps a conversation onto the chat completions format. Each
// bundled tool result becomes its own tool message. Results whose invocation
// is no longer in the conversation (cut off by history truncation) are dropped
// because the provider rejects unmatched tool messages.
func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	pending := map[string]bool{}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			for _, tr := range m.ToolResults {
				if !pending[tr.ToolCallID] {
					continue
				}
				delete(pending, tr.ToolCallID)
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
			if m.Content != "" {
				out = append(out, openai.UserMessage(m.Content))
			}
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				}
				pending[tc.ID] = true
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}
			if m.Content != "" {
				assistant.Content.OfString = param.NewOpt(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &assistant,
			})
		}
	}
	return out
}

func convertTools(tools []ToolDef) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}
