// ABOUTME: Rule-based intent classification over an ordered keyword table
// ABOUTME: The first rule with a substring hit wins; table order is the priority order

package conversation

import "strings"

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	IntentGeneration    Intent = "scenario_generation"
	IntentClarification Intent = "clarification_request"
	IntentValidation    Intent = "validation_request"
	IntentGeneral       Intent = "general_question"
)

// Confidence levels assigned by Classify.
const (
	keywordConfidence   = 0.8
	questionConfidence  = 0.5
	smallTalkConfidence = 0.3

	// CannedThreshold is the confidence below which an unmatched message
	// gets a canned reply instead of a collaborator call.
	CannedThreshold = 0.4
)

// Rule maps keywords to an intent.
type Rule struct {
	Intent   Intent
	Keywords []string
}

// IntentRules is evaluated top to bottom. Keywords are matched as
// lower-case substrings.
var IntentRules = []Rule{
	{IntentGeneration, []string{
		"generate", "create", "write", "scenario", "test case", "test", "gherkin",
		"génère", "générer", "crée", "créer", "scénario", "cas de test",
	}},
	{IntentClarification, []string{
		"question", "clarif", "what is", "what if", "what happens", "how do", "how does",
		"how should", "why", "when ", "where",
		"précise", "préciser", "qu'est-ce que", "comment", "pourquoi", "quand",
	}},
	{IntentValidation, []string{
		"validate", "verify", "check", "review", "quality", "correct", "error", "problem",
		"valide", "valider", "vérifie", "vérifier", "contrôle", "qualité", "erreur", "problème",
	}},
}

// Classification is the outcome of Classify.
type Classification struct {
	Intent     Intent
	Confidence float64
	Keywords   []string
}

// Canned reports whether the message should get a canned reply.
func (c Classification) Canned() bool {
	return len(c.Keywords) == 0 && c.Confidence < CannedThreshold
}

// Classify assigns an intent to text using IntentRules.
func Classify(text string) Classification {
	return classifyWith(IntentRules, text)
}

func classifyWith(rules []Rule, text string) Classification {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		var found []string
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				found = append(found, kw)
			}
		}
		if len(found) > 0 {
			return Classification{Intent: rule.Intent, Confidence: keywordConfidence, Keywords: found}
		}
	}

	confidence := smallTalkConfidence
	if strings.Contains(text, "?") || len(strings.Fields(text)) >= 4 {
		confidence = questionConfidence
	}
	return Classification{Intent: IntentGeneral, Confidence: confidence}
}
