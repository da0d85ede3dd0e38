// ABOUTME: Generator interface and request/result types for text generation backends
// ABOUTME: Providers plug in behind Generator; Fallback adds timeout and retry

package generation

import (
	"context"
	"errors"
)

// ErrUnavailable indicates generation failed on both the primary and the
// fallback model.
var ErrUnavailable = errors.New("generation unavailable")

// Speaker identifies who said a context turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one prior message given to the model as conversation context.
type Turn struct {
	Speaker Speaker
	Content string
}

// Request is a single generation call.
type Request struct {
	Prompt string
	// Role is the assistant role the system prompt was built for.
	Role Role
	// System is the system prompt; see SystemPrompt.
	System      string
	Context     []Turn
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result is the outcome of a successful generation call.
type Result struct {
	Content      string
	ModelUsed    string
	TokensUsed   int
	FinishReason string
}

// Finish reasons normalized across providers.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function into a Generator.
type Func func(ctx context.Context, req Request) (*Result, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
