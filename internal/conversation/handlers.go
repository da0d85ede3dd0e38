// ABOUTME: Per-intent reply handlers used by the router
// ABOUTME: Each handler builds a prompt, calls the generator and shapes the reply

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/trio-gateway/internal/generation"
	"github.com/2389/trio-gateway/internal/scenario"
	"github.com/2389/trio-gateway/internal/store"
)

// Sampling temperatures per intent.
const (
	generationTemperature    = 0.7
	clarificationTemperature = 0.8
	validationTemperature    = 0.3
)

// Confidence recorded on replies that never reached the generator.
const localConfidence = 0.9

var cannedReplies = []string{
	"Hello! I'm here to help you write test scenarios. Describe a feature or a user story and I can generate Gherkin scenarios, ask clarification questions or review existing scenarios.",
	"Happy to help. Share the requirements you are working on and tell me whether you want scenarios, questions or a review.",
	"Got it. When you are ready, paste a user story or acceptance criteria and ask me to generate scenarios.",
}

var apologies = map[Intent]string{
	IntentGeneration:    "Sorry, I could not generate scenarios right now. Please try again in a moment.",
	IntentClarification: "Sorry, I could not prepare clarification questions right now. Please try again in a moment.",
	IntentValidation:    "Sorry, I could not review the scenarios right now. Please try again in a moment.",
	IntentGeneral:       "Sorry, I could not answer right now. Please try again in a moment.",
}

var errEmptyReply = errors.New("generator returned empty content")

const noScenariosReply = "There are no scenarios in this session yet. Ask me to generate some and I will review them."

// outcome is what a handler produced before anything is persisted.
type outcome struct {
	content    string
	kind       store.MessageKind
	result     *generation.Result
	confidence float64
	drafts     []scenario.Draft
	questions  []Question
	validation *ValidationReport
	failed     bool
}

func (r *Router) dispatch(ctx context.Context, sc *SessionContext, ex Exchange, cls Classification) outcome {
	if cls.Canned() {
		return r.cannedReply()
	}
	switch cls.Intent {
	case IntentGeneration:
		return r.generateScenarios(ctx, sc, ex.Content)
	case IntentClarification:
		return r.askClarification(ctx, sc, ex.Content)
	case IntentValidation:
		return r.reviewScenarios(ctx, sc)
	default:
		return r.answer(ctx, sc, ex.Content)
	}
}

func (r *Router) cannedReply() outcome {
	n := r.canned.Add(1) - 1
	return outcome{
		content:    cannedReplies[n%uint64(len(cannedReplies))],
		kind:       store.KindText,
		confidence: localConfidence,
	}
}

func (r *Router) apology(intent Intent) outcome {
	return outcome{content: apologies[intent], kind: store.KindText, failed: true}
}

// ask sends prompt under role with the most recent context entries.
func (r *Router) ask(ctx context.Context, sc *SessionContext, role generation.Role, prompt string, temperature float64) (*generation.Result, error) {
	recent := sc.Recent(r.cfg.PromptContext)
	turns := make([]generation.Turn, 0, len(recent))
	for _, e := range recent {
		speaker := generation.SpeakerUser
		if e.Sender == store.SenderBot {
			speaker = generation.SpeakerAssistant
		}
		turns = append(turns, generation.Turn{Speaker: speaker, Content: e.Content})
	}
	res, err := r.gen.Generate(ctx, generation.Request{
		Prompt:      prompt,
		Role:        role,
		System:      generation.SystemPrompt(role, sc.Language),
		Context:     turns,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}
	// Length or content_filter stops can leave nothing to persist.
	if strings.TrimSpace(res.Content) == "" {
		return nil, fmt.Errorf("%w (finish_reason=%s)", errEmptyReply, res.FinishReason)
	}
	return res, nil
}

func (r *Router) failed(sessionID string, intent Intent, err error) outcome {
	r.logger.Error("generation failed", "session_id", sessionID, "intent", intent, "error", err)
	return r.apology(intent)
}

func confidenceFor(finish string) float64 {
	switch finish {
	case generation.FinishStop:
		return 0.9
	case generation.FinishLength:
		return 0.7
	default:
		return 0.5
	}
}

func (r *Router) generateScenarios(ctx context.Context, sc *SessionContext, requirements string) outcome {
	res, err := r.ask(ctx, sc, generation.RoleScenarioGenerator,
		scenarioPrompt(requirements, sc.BusinessContext), generationTemperature)
	if err != nil {
		return r.failed(sc.SessionID, IntentGeneration, err)
	}

	out := outcome{result: res, confidence: confidenceFor(res.FinishReason)}
	out.drafts = scenario.Parse(res.Content)
	if len(out.drafts) == 0 {
		out.content = res.Content
		out.kind = store.KindText
		return out
	}
	out.content = formatScenarios(out.drafts)
	out.kind = store.KindScenario
	return out
}

func (r *Router) askClarification(ctx context.Context, sc *SessionContext, requirements string) outcome {
	res, err := r.ask(ctx, sc, generation.RoleClarification,
		clarificationPrompt(requirements, sc.BusinessContext), clarificationTemperature)
	if err != nil {
		return r.failed(sc.SessionID, IntentClarification, err)
	}

	out := outcome{result: res, kind: store.KindQuestion, confidence: confidenceFor(res.FinishReason)}
	out.questions = ParseQuestions(res.Content)
	if len(out.questions) == 0 {
		out.content = res.Content
		return out
	}
	out.content = formatQuestions(out.questions)
	return out
}

func (r *Router) reviewScenarios(ctx context.Context, sc *SessionContext) outcome {
	current := r.currentScenarios(ctx, sc.SessionID, sc.Scenarios)
	if len(current) == 0 {
		return outcome{content: noScenariosReply, kind: store.KindText, confidence: localConfidence}
	}

	bodies := make([]string, 0, len(current))
	for _, s := range current {
		bodies = append(bodies, "### "+s.Title+"\n\n"+s.Content)
	}
	res, err := r.ask(ctx, sc, generation.RoleValidator,
		validationPrompt(strings.Join(bodies, "\n\n")), validationTemperature)
	if err != nil {
		return r.failed(sc.SessionID, IntentValidation, err)
	}

	report := ParseValidation(res.Content)
	return outcome{
		content:    formatValidation(report),
		kind:       store.KindText,
		result:     res,
		confidence: confidenceFor(res.FinishReason),
		validation: &report,
	}
}

func (r *Router) answer(ctx context.Context, sc *SessionContext, question string) outcome {
	res, err := r.ask(ctx, sc, generation.RoleTester, question, r.cfg.Temperature)
	if err != nil {
		return r.failed(sc.SessionID, IntentGeneral, err)
	}
	return outcome{
		content:    res.Content,
		kind:       store.KindText,
		result:     res,
		confidence: confidenceFor(res.FinishReason),
	}
}
