// ABOUTME: Generator backed by the OpenAI Chat Completions API
// ABOUTME: Uses github.com/openai/openai-go through a narrow ChatClient seam

package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient is the subset of the OpenAI SDK used here. It is satisfied by
// *openai.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI generates text with OpenAI chat models.
type OpenAI struct {
	chat ChatClient
}

// NewOpenAI wraps an existing chat client.
func NewOpenAI(chat ChatClient) (*OpenAI, error) {
	if chat == nil {
		return nil, errors.New("openai chat client is required")
	}
	return &OpenAI{chat: chat}, nil
}

// NewOpenAIFromAPIKey builds a client against the public API, or against
// baseURL when it is set (for compatible gateways).
func NewOpenAIFromAPIKey(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	// Fallback owns the retry policy, so the SDK must not retry on its own.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return NewOpenAI(&client.Chat.Completions)
}

// Generate sends the system prompt, context turns and prompt as one chat
// completion.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		return nil, errors.New("model is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Context)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, turn := range req.Context {
		if turn.Speaker == SpeakerAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}

	choice := resp.Choices[0]
	used := resp.Model
	if used == "" {
		used = req.Model
	}
	return &Result{
		Content:      choice.Message.Content,
		ModelUsed:    used,
		TokensUsed:   int(resp.Usage.TotalTokens),
		FinishReason: choice.FinishReason,
	}, nil
}
