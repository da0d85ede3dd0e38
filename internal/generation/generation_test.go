// ABOUTME: Tests for provider adapters, the fallback policy and offline output
// ABOUTME: Vendor SDK clients are replaced by stubs capturing request params

package generation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trio-gateway/internal/scenario"
)

type stubChat struct {
	last openai.ChatCompletionNewParams
	resp *openai.ChatCompletion
	err  error
}

func (s *stubChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.last = body
	return s.resp, s.err
}

type stubMessages struct {
	last sdk.MessageNewParams
	resp *sdk.Message
	err  error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...anthropicoption.RequestOption) (*sdk.Message, error) {
	s.last = body
	return s.resp, s.err
}

func TestOpenAI_Generate(t *testing.T) {
	stub := &stubChat{resp: &openai.ChatCompletion{
		Model: "gpt-4-turbo",
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      openai.ChatCompletionMessage{Content: "Scenario: hello"},
		}},
		Usage: openai.CompletionUsage{TotalTokens: 42},
	}}
	g, err := NewOpenAI(stub)
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), Request{
		Prompt: "write a scenario",
		System: "be helpful",
		Context: []Turn{
			{Speaker: SpeakerUser, Content: "hi"},
			{Speaker: SpeakerAssistant, Content: "hello"},
		},
		Model:     "gpt-4-turbo",
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "Scenario: hello", res.Content)
	assert.Equal(t, "gpt-4-turbo", res.ModelUsed)
	assert.Equal(t, 42, res.TokensUsed)
	assert.Equal(t, FinishStop, res.FinishReason)
	assert.Len(t, stub.last.Messages, 4, "system, two context turns, prompt")
	assert.Equal(t, "gpt-4-turbo", string(stub.last.Model))
}

func TestOpenAI_Errors(t *testing.T) {
	_, err := NewOpenAI(nil)
	assert.Error(t, err)

	stub := &stubChat{err: errors.New("boom")}
	g, err := NewOpenAI(stub)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err, "model is required")

	_, err = g.Generate(context.Background(), Request{Prompt: "x", Model: "m"})
	assert.ErrorContains(t, err, "boom")

	stub.err = nil
	stub.resp = &openai.ChatCompletion{}
	_, err = g.Generate(context.Background(), Request{Prompt: "x", Model: "m"})
	assert.ErrorContains(t, err, "no choices")
}

func TestAnthropic_Generate(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "1. Who?"}},
		StopReason: sdk.StopReasonMaxTokens,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	g, err := NewAnthropic(stub)
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), Request{
		Prompt: "clarify",
		System: "be precise",
		Context: []Turn{
			{Speaker: SpeakerAssistant, Content: "welcome"},
			{Speaker: SpeakerUser, Content: "a"},
			{Speaker: SpeakerUser, Content: "b"},
			{Speaker: SpeakerAssistant, Content: "c"},
		},
		Model: "claude-sonnet-4-5",
	})
	require.NoError(t, err)

	assert.Equal(t, "1. Who?", res.Content)
	assert.Equal(t, "claude-sonnet-4-5", res.ModelUsed)
	assert.Equal(t, 15, res.TokensUsed)
	assert.Equal(t, FinishLength, res.FinishReason)

	assert.Equal(t, int64(anthropicDefaultMaxTokens), stub.last.MaxTokens)
	require.Len(t, stub.last.System, 1)
	assert.Equal(t, "be precise", stub.last.System[0].Text)
	// leading assistant turn dropped, a+b merged, then c, then the prompt
	assert.Len(t, stub.last.Messages, 3)
}

func TestFallback_RetriesOnceWithFallbackModel(t *testing.T) {
	var models []string
	g := Func(func(ctx context.Context, req Request) (*Result, error) {
		models = append(models, req.Model)
		if req.Model == "primary" {
			return nil, errors.New("overloaded")
		}
		return &Result{Content: "ok", ModelUsed: req.Model, FinishReason: FinishStop}, nil
	})

	f := NewFallback(g, Options{Model: "primary", FallbackModel: "secondary", MaxTokens: 500}, nil)
	res, err := f.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", res.ModelUsed)
	assert.Equal(t, []string{"primary", "secondary"}, models)
}

func TestFallback_BothFail(t *testing.T) {
	var calls atomic.Int32
	g := Func(func(ctx context.Context, req Request) (*Result, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})

	f := NewFallback(g, Options{Model: "primary", FallbackModel: "secondary"}, nil)
	_, err := f.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFallback_NoRetryWhenAlreadyOnFallback(t *testing.T) {
	var calls atomic.Int32
	g := Func(func(ctx context.Context, req Request) (*Result, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})

	f := NewFallback(g, Options{Model: "primary", FallbackModel: "secondary"}, nil)
	_, err := f.Generate(context.Background(), Request{Prompt: "p", Model: "secondary"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFallback_TimeoutPerAttempt(t *testing.T) {
	g := Func(func(ctx context.Context, req Request) (*Result, error) {
		if req.Model == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Result{Content: "fast", ModelUsed: req.Model}, nil
	})

	f := NewFallback(g, Options{Model: "slow", FallbackModel: "quick", Timeout: 20 * time.Millisecond}, nil)
	start := time.Now()
	res, err := f.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Content)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFallback_AppliesDefaults(t *testing.T) {
	var got Request
	g := Func(func(ctx context.Context, req Request) (*Result, error) {
		got = req
		return &Result{Content: "x"}, nil
	})

	f := NewFallback(g, Options{Model: "m", MaxTokens: 2000}, nil)
	_, err := f.Generate(context.Background(), Request{Prompt: "p", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 10, got.MaxTokens, "explicit limit kept")

	_, err = f.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 2000, got.MaxTokens)
}

func TestFallback_SDKClientsDoNotRetryInternally(t *testing.T) {
	tests := []struct {
		name  string
		build func(baseURL string) (Generator, error)
	}{
		{"openai", func(u string) (Generator, error) { return NewOpenAIFromAPIKey("sk-test", u) }},
		{"anthropic", func(u string) (Generator, error) { return NewAnthropicFromAPIKey("sk-ant-test", u) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"type":"server_error","message":"upstream down"}}`))
			}))
			defer srv.Close()

			g, err := tt.build(srv.URL + "/")
			require.NoError(t, err)
			f := NewFallback(g, Options{Model: "primary", FallbackModel: "secondary", MaxTokens: 100, Timeout: 5 * time.Second}, nil)

			_, err = f.Generate(context.Background(), Request{Prompt: "p"})
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, int32(2), calls.Load(), "one primary call and one fallback call")
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	assert.Contains(t, SystemPrompt(RoleValidator, ""), "Score: N")
	assert.Equal(t, SystemPrompt(RoleTester, ""), SystemPrompt("unknown", ""))
	assert.True(t, strings.HasSuffix(SystemPrompt(RoleTester, "fr"), "Always answer in French unless asked otherwise."))
	assert.Contains(t, SystemPrompt(RoleTester, "pt"), "answer in pt")
}

func TestOffline_OutputParses(t *testing.T) {
	res, err := Offline{}.Generate(context.Background(), Request{Role: RoleScenarioGenerator, Prompt: "password reset"})
	require.NoError(t, err)
	assert.Equal(t, OfflineModel, res.ModelUsed)

	drafts := scenario.Parse(res.Content)
	require.Len(t, drafts, 3)
	assert.Equal(t, "Nominal case for password reset", drafts[0].Title)

	res, err = Offline{}.Generate(context.Background(), Request{Role: RoleValidator})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Content, "Score: 70"))
}
