// ABOUTME: Deterministic Generator that needs no network access
// ABOUTME: Produces role-shaped placeholder output for local runs and demos

package generation

import (
	"context"
	"fmt"
	"strings"
)

// OfflineModel is reported as the model for offline results.
const OfflineModel = "offline"

// Offline answers every request locally with templated text shaped like the
// requested role's output.
type Offline struct{}

// Generate returns templated text for req.Role.
func (Offline) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := firstLine(req.Prompt)
	var content string
	switch req.Role {
	case RoleScenarioGenerator:
		content = fmt.Sprintf(`Scenario: Nominal case for %[1]s
  Given the feature is available
  When a user completes "%[1]s" with valid data
  Then the operation succeeds

Scenario: Invalid input for %[1]s
  Given the feature is available
  When a user submits invalid data
  Then an error message is shown

Scenario: Maximum limit for %[1]s
  Given the feature is at its maximum capacity
  When a user tries once more
  Then the request is refused politely
`, subject)
	case RoleClarification:
		content = "1. Who are the users involved in this requirement?\n" +
			"2. What should happen when the input is invalid?\n" +
			"3. Are there limits or quotas that apply?\n" +
			"4. How will we know the feature works as expected?"
	case RoleValidator:
		content = "Score: 70\n\nThe scenarios follow Gherkin syntax.\n" +
			"Suggestion: add an error case for each nominal scenario.\n" +
			"Suggestion: use concrete example data in the steps."
	default:
		content = "I am running without a language model. I can still draft scenarios, " +
			"ask clarification questions and review existing scenarios."
	}

	return &Result{
		Content:      content,
		ModelUsed:    OfflineModel,
		TokensUsed:   len(strings.Fields(content)),
		FinishReason: FinishStop,
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 60 {
		s = string(r[:60])
	}
	return strings.TrimSpace(s)
}
