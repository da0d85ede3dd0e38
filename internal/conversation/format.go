// ABOUTME: Prompt builders, reply parsing and human-readable reply formatting
// ABOUTME: Also renders assistant markdown to HTML with goldmark

package conversation

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/trio-gateway/internal/scenario"
	"github.com/2389/trio-gateway/internal/store"
)

func businessLabel(c store.BusinessContext) string {
	if c == "" {
		return string(store.ContextGeneric)
	}
	return string(c)
}

func scenarioPrompt(requirements string, bc store.BusinessContext) string {
	return fmt.Sprintf(`Write BDD test scenarios for the following requirements:

%s

Business context: %s

Write at least:
- 1 nominal scenario (success case)
- 1 error scenario
- 1 edge case scenario

Expected format: complete Gherkin scenarios, each with a title and steps.`, requirements, businessLabel(bc))
}

func clarificationPrompt(requirements string, bc store.BusinessContext) string {
	return fmt.Sprintf(`Analyse the following requirements and ask clarification questions:

%s

Business context: %s

Ask 3 to 5 relevant questions to:
- Resolve ambiguities
- Find cases that are not specified
- Pin down acceptance criteria
- Check technical constraints

Number your questions and briefly explain why each one matters.`, requirements, businessLabel(bc))
}

func validationPrompt(scenarios string) string {
	return fmt.Sprintf(`Review the following test scenarios:

%s

Assess:
1. Gherkin syntax
2. Completeness of coverage
3. Clarity and testability
4. Consistency with BDD good practice

Give a quality score (0-100) and suggestions for improvement.`, scenarios)
}

// Question is one numbered clarification question.
type Question struct {
	Number int    `json:"number"`
	Text   string `json:"question"`
}

var questionLine = regexp.MustCompile(`^\s*(\d+)[.)]?\s*(.+)`)

// ParseQuestions extracts numbered lines from a reply.
func ParseQuestions(content string) []Question {
	var out []Question
	for _, line := range strings.Split(content, "\n") {
		m := questionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Question{Number: n, Text: strings.TrimSpace(m[2])})
	}
	return out
}

// ValidationReport is the parsed outcome of a validator reply.
type ValidationReport struct {
	Score       int      `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions,omitempty"`
}

var scorePattern = regexp.MustCompile(`(?is)\bscore\b\D*?(\d+)`)

var suggestionMarkers = []string{
	"suggestion", "improve", "improvement", "recommend",
	"amélioration", "recommandation",
}

// ParseValidation extracts the score and improvement lines from a reply.
// The score is the first integer after the word "score", possibly on a
// following line, capped at 100, or 0 when absent.
func ParseValidation(content string) ValidationReport {
	report := ValidationReport{Feedback: content}
	if m := scorePattern.FindStringSubmatch(content); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			report.Score = min(n, 100)
		}
	}
	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(line)
		for _, marker := range suggestionMarkers {
			if strings.Contains(lower, marker) {
				report.Suggestions = append(report.Suggestions, strings.TrimSpace(line))
				break
			}
		}
	}
	return report
}

func formatScenarios(drafts []scenario.Draft) string {
	var b strings.Builder
	b.WriteString("I generated the following test scenarios:\n\n")
	for i, d := range drafts {
		fmt.Fprintf(&b, "**%d. %s**\n\n```gherkin\n%s\n```\n\n", i+1, d.Title, strings.TrimRight(d.Body, "\n"))
	}
	b.WriteString("These scenarios cover the main cases. Would you like more scenarios, or changes to some of them?")
	return b.String()
}

func formatQuestions(qs []Question) string {
	var b strings.Builder
	b.WriteString("To understand your requirements better, I have a few clarification questions:\n\n")
	for _, q := range qs {
		fmt.Fprintf(&b, "%d. %s\n\n", q.Number, q.Text)
	}
	b.WriteString("Your answers will help me write more precise and complete scenarios.")
	return b.String()
}

func formatValidation(r ValidationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Scenario quality review (Score: %d/100)**\n\n", r.Score)
	b.WriteString(r.Feedback)
	if len(r.Suggestions) > 0 {
		b.WriteString("\n\n**Suggestions for improvement:**\n")
		for i, s := range r.Suggestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	return b.String()
}

// Render converts markdown to HTML.
func Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
