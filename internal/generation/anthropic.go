// ABOUTME: Generator backed by the Anthropic Messages API
// ABOUTME: Uses github.com/anthropics/anthropic-sdk-go through a MessagesClient seam

package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens is used when a request leaves MaxTokens unset,
// since the Messages API requires it.
const anthropicDefaultMaxTokens = 2000

// MessagesClient is the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic generates text with Claude models.
type Anthropic struct {
	msg MessagesClient
}

// NewAnthropic wraps an existing messages client.
func NewAnthropic(msg MessagesClient) (*Anthropic, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	return &Anthropic{msg: msg}, nil
}

// NewAnthropicFromAPIKey builds a client against the public API, or
// against baseURL when it is set.
func NewAnthropicFromAPIKey(apiKey, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	// Fallback owns the retry policy, so the SDK must not retry on its own.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return NewAnthropic(&client.Messages)
}

// Generate sends one Messages request. Consecutive turns from the same
// speaker are merged because the API expects alternating roles.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		return nil, errors.New("model is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	turns := make([]Turn, 0, len(req.Context)+1)
	turns = append(turns, req.Context...)
	turns = append(turns, Turn{Speaker: SpeakerUser, Content: req.Prompt})

	params := sdk.MessageNewParams{
		MaxTokens:   int64(maxTokens),
		Model:       sdk.Model(req.Model),
		Messages:    encodeTurns(turns),
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return nil, errors.New("anthropic messages.new: empty response")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	used := string(msg.Model)
	if used == "" {
		used = req.Model
	}
	return &Result{
		Content:      text.String(),
		ModelUsed:    used,
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: finishReason(msg.StopReason),
	}, nil
}

func encodeTurns(turns []Turn) []sdk.MessageParam {
	type merged struct {
		speaker Speaker
		parts   []string
	}
	var runs []merged
	for _, t := range turns {
		if len(runs) == 0 && t.Speaker == SpeakerAssistant {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].speaker == t.Speaker {
			runs[n-1].parts = append(runs[n-1].parts, t.Content)
			continue
		}
		runs = append(runs, merged{speaker: t.Speaker, parts: []string{t.Content}})
	}

	out := make([]sdk.MessageParam, 0, len(runs))
	for _, r := range runs {
		block := sdk.NewTextBlock(strings.Join(r.parts, "\n\n"))
		if r.speaker == SpeakerAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func finishReason(r sdk.StopReason) string {
	switch r {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return FinishStop
	case sdk.StopReasonMaxTokens:
		return FinishLength
	default:
		return string(r)
	}
}
