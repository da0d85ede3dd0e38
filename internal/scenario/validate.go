// ABOUTME: Local Gherkin structure checks and quality scoring
// ABOUTME: Produces the Validation record stored alongside each scenario

package scenario

import (
	"regexp"
	"strings"

	"github.com/2389/trio-gateway/internal/store"
)

const (
	completeScore   = 85
	incompleteScore = 50
)

var unfinishedMarker = regexp.MustCompile(`TODO|FIXME|XXX`)

// step pairs a Gherkin keyword with its French equivalent.
type step struct {
	name     string
	keywords []string
}

var requiredSteps = []step{
	{name: "Given", keywords: []string{"Given", "Étant donné"}},
	{name: "When", keywords: []string{"When", "Quand"}},
	{name: "Then", keywords: []string{"Then", "Alors"}},
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Validate checks the scenario's body for the Gherkin keywords a runnable
// scenario needs and scores it.
func Validate(sc *store.Scenario) store.Validation {
	content := sc.Content
	var errs []string

	if !containsAny(content, "Scenario:", "Scénario:", "Scenario Outline:", "Background:") {
		errs = append(errs, `scenario must start with "Scenario:"`)
	}
	for _, st := range requiredSteps {
		if !containsAny(content, st.keywords...) {
			errs = append(errs, "scenario must contain at least one "+st.name+" step")
		}
	}

	v := store.Validation{
		SyntaxValid:       len(errs) == 0,
		Errors:            errs,
		CompletenessScore: incompleteScore,
		QualityScore:      Quality(sc),
		Suggestions:       Suggestions(sc),
	}
	if v.SyntaxValid {
		v.CompletenessScore = completeScore
	}
	return v
}

func hasExamples(content string) bool {
	return containsAny(content, "Examples:", "Exemples:")
}

// Quality scores a scenario from 0 to 100 on descriptive completeness.
func Quality(sc *store.Scenario) int {
	score := 0
	content := sc.Content

	if len(sc.Title) > 10 {
		score += 10
	}
	if len(sc.Description) > 20 {
		score += 10
	}
	if len(content) > 100 {
		score += 20
	}
	if hasExamples(content) {
		score += 20
	}
	if len(sc.Tags) > 0 {
		score += 10
	}
	if len(strings.Split(content, "\n")) > 5 {
		score += 15
	}
	if !unfinishedMarker.MatchString(content) {
		score += 15
	}

	return min(score, 100)
}

// Suggestions lists concrete improvements for a scenario.
func Suggestions(sc *store.Scenario) []string {
	var out []string
	if sc.Description == "" {
		out = append(out, "Add a description to clarify the goal of the scenario")
	}
	if !hasExamples(sc.Content) {
		out = append(out, "Consider adding examples to illustrate the scenario")
	}
	if len(sc.Tags) == 0 {
		out = append(out, "Add tags to make the scenario easier to organize and run")
	}
	if len(sc.Content) < 100 {
		out = append(out, "The scenario looks short, consider adding detail")
	}
	return out
}
