// ABOUTME: Tests for scenario parsing, categorization, validation and revisions
// ABOUTME: Includes property tests for categorization precedence

package scenario

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/trio-gateway/internal/store"
)

const twoScenarios = "Here are the scenarios you asked for:\n\n" +
	"```gherkin\n" +
	"Scenario: Successful password reset\n" +
	"  Given a registered user\n" +
	"  When they request a reset link\n" +
	"  Then an email is sent\n" +
	"\n" +
	"Scenario: Reset with invalid email\n" +
	"  Given an unknown address\n" +
	"  When a reset is requested\n" +
	"  Then an error is shown\n" +
	"```\n"

func TestParse_SplitsOnHeaders(t *testing.T) {
	drafts := Parse(twoScenarios)
	require.Len(t, drafts, 2)

	assert.Equal(t, "Successful password reset", drafts[0].Title)
	assert.Equal(t, store.TypeScenario, drafts[0].Type)
	assert.True(t, strings.HasPrefix(drafts[0].Body, "Scenario: Successful password reset"))
	assert.Contains(t, drafts[0].Body, "Then an email is sent")
	assert.NotContains(t, drafts[0].Body, "invalid email")
	assert.NotContains(t, drafts[1].Body, "```")
}

func TestParse_HeaderVariants(t *testing.T) {
	tests := []struct {
		line  string
		typ   store.ScenarioType
		title string
	}{
		{"Scenario: Login", store.TypeScenario, "Login"},
		{"  Scenario Outline: Many logins", store.TypeOutline, "Many logins"},
		{"**Scenario 2:** Logout", store.TypeScenario, "Logout"},
		{"### Scénario: Connexion", store.TypeScenario, "Connexion"},
		{"Background: Logged in", store.TypeBackground, "Logged in"},
		{"Plan du scénario: Plusieurs", store.TypeOutline, "Plusieurs"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			drafts := Parse(tt.line + "\n  Given something")
			require.Len(t, drafts, 1)
			assert.Equal(t, tt.typ, drafts[0].Type)
			assert.Equal(t, tt.title, drafts[0].Title)
		})
	}
}

func TestParse_NoHeaders(t *testing.T) {
	assert.Empty(t, Parse("I could not think of anything useful."))
}

func TestParse_UntitledHeader(t *testing.T) {
	drafts := Parse("Scenario:\n  Given x\nScenario:\n  Given y")
	require.Len(t, drafts, 2)
	assert.Equal(t, "Scenario 1", drafts[0].Title)
	assert.Equal(t, "Scenario 2", drafts[1].Title)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want store.ScenarioCategory
	}{
		{"User logs in with an invalid password", store.CategoryError},
		{"Page under heavy load", store.CategoryPerformance},
		{"Authentication with a token", store.CategorySecurity},
		{"Screen reader accessibility", store.CategoryAccessibility},
		{"Cart at maximum size", store.CategoryEdgeCase},
		{"User buys a book", store.CategoryNominal},
		{"Security check hits the rate limit", store.CategorySecurity},
	}

	for _, tt := range tests {
		if got := Categorize(tt.text); got != tt.want {
			t.Errorf("Categorize(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestCategorize_SecurityBeatsEdgeCase(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	filler := []string{"user", "cart", "book", "the", "page", "opens", "with", "a", "form"}
	security := []string{"security", "Authentication", "authorization"}
	edge := []string{"limit", "maximum", "minimum"}

	properties.Property("security keyword wins over edge-case keyword", prop.ForAll(
		func(words []int, sec, lim int, edgeFirst bool) bool {
			parts := make([]string, 0, len(words)+2)
			for _, w := range words {
				parts = append(parts, filler[w])
			}
			if edgeFirst {
				parts = append(parts, edge[lim], security[sec])
			} else {
				parts = append(parts, security[sec], edge[lim])
			}
			return Categorize(strings.Join(parts, " ")) == store.CategorySecurity
		},
		gen.SliceOf(gen.IntRange(0, len(filler)-1)),
		gen.IntRange(0, len(security)-1),
		gen.IntRange(0, len(edge)-1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestValidate(t *testing.T) {
	good := &store.Scenario{
		Title:   "Successful password reset",
		Content: "Scenario: Reset\n  Given a user\n  When they reset\n  Then it works",
	}
	v := Validate(good)
	assert.True(t, v.SyntaxValid)
	assert.Empty(t, v.Errors)
	assert.Equal(t, 85, v.CompletenessScore)

	bad := &store.Scenario{Title: "x", Content: "Given only a precondition"}
	v = Validate(bad)
	assert.False(t, v.SyntaxValid)
	assert.Len(t, v.Errors, 3)
	assert.Equal(t, 50, v.CompletenessScore)
	assert.NotEmpty(t, v.Suggestions)
}

func TestQuality(t *testing.T) {
	minimal := &store.Scenario{Content: "Scenario: x\nTODO"}
	assert.Equal(t, 0, Quality(minimal))

	rich := &store.Scenario{
		Title:       "A descriptive title",
		Description: "Explains the intent of this scenario",
		Tags:        []string{"smoke"},
		Content: "Scenario Outline: Login\n  Given a user <name>\n  When they log in\n  Then they see the home page\n" +
			"  Examples:\n    | name  |\n    | alice |\n    | bob   |",
	}
	assert.Equal(t, 100, Quality(rich))
}

func TestRevise(t *testing.T) {
	now := time.Now()
	parent := FromDraft("sess-1", Draft{Title: "Login", Body: "Scenario: Login\n  Given a user", Type: store.TypeScenario}, now)
	parent.Tags = []string{"auth"}

	next, err := Revise(parent, "Scenario: Login\n  Given a user\n  When they log in\n  Then it works", "alice", now.Add(time.Minute))
	require.NoError(t, err)

	assert.NotEqual(t, parent.ID, next.ID)
	assert.Equal(t, parent.ID, next.ParentID)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, store.ScenarioDraft, next.Status)
	assert.Equal(t, store.SenderUser, next.AuthorKind)
	assert.Equal(t, "Scenario: Login\n  Given a user", parent.Content, "parent untouched")
	assert.True(t, next.Validation.SyntaxValid)

	next.Tags[0] = "changed"
	assert.Equal(t, "auth", parent.Tags[0])

	_, err = Revise(parent, "   ", "alice", now)
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestLatest(t *testing.T) {
	a := &store.Scenario{ID: "a"}
	b := &store.Scenario{ID: "b", ParentID: "a"}
	c := &store.Scenario{ID: "c"}
	d := &store.Scenario{ID: "d", ParentID: "b"}

	got := Latest([]*store.Scenario{a, b, c, d})
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}
