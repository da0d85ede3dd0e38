// ABOUTME: Keyword-based categorization of scenario text
// ABOUTME: Rules are evaluated top to bottom and the first match wins

package scenario

import (
	"strings"

	"github.com/2389/trio-gateway/internal/store"
)

// CategoryRule maps a set of substrings to a category.
type CategoryRule struct {
	Category store.ScenarioCategory
	Keywords []string
}

// CategoryRules is the ordered categorization table. Order matters: text
// mentioning both "security" and "limit" is a security scenario.
var CategoryRules = []CategoryRule{
	{Category: store.CategoryError, Keywords: []string{"error", "fail", "invalid", "erreur", "échec", "invalide"}},
	{Category: store.CategoryPerformance, Keywords: []string{"performance", "load", "charge"}},
	{Category: store.CategorySecurity, Keywords: []string{"security", "authentication", "authorization", "sécurité", "authentification", "autorisation"}},
	{Category: store.CategoryAccessibility, Keywords: []string{"accessibility", "accessibilité"}},
	{Category: store.CategoryEdgeCase, Keywords: []string{"limit", "maximum", "minimum", "limite"}},
}

// Categorize returns the category of the first rule with a keyword occurring
// in text, or nominal when none does.
func Categorize(text string) store.ScenarioCategory {
	lower := strings.ToLower(text)
	for _, rule := range CategoryRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Category
			}
		}
	}
	return store.CategoryNominal
}
