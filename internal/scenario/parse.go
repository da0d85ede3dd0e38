// ABOUTME: Splits generated text into individual scenario drafts
// ABOUTME: A new draft begins at each recognized scenario header line

package scenario

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/2389/trio-gateway/internal/store"
)

// Draft is one scenario extracted from free text, before persistence.
type Draft struct {
	Title string
	Body  string
	Type  store.ScenarioType
}

var headerPattern = regexp.MustCompile(`(?i)^(scenario outline|scenario template|plan du sc[ée]nario|scenario|sc[ée]nario|background|contexte)(?:\s*\d+)?\s*:\s*(.*)$`)

// header reports whether line opens a new scenario and, if so, its type and title.
func header(line string) (store.ScenarioType, string, bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "#*-> \t")
	trimmed = strings.ReplaceAll(trimmed, "**", "")

	m := headerPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return "", "", false
	}

	keyword := strings.ToLower(m[1])
	title := strings.TrimSpace(strings.Trim(m[2], "*_ "))

	switch {
	case strings.Contains(keyword, "outline"), strings.Contains(keyword, "template"), strings.HasPrefix(keyword, "plan"):
		return store.TypeOutline, title, true
	case keyword == "background", keyword == "contexte":
		return store.TypeBackground, title, true
	default:
		return store.TypeScenario, title, true
	}
}

// Parse splits text into drafts. Lines before the first header are
// preamble and dropped, as are markdown code fences. Untitled headers get a
// positional title.
func Parse(text string) []Draft {
	var (
		drafts  []Draft
		current *Draft
		body    []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Body != "" {
			drafts = append(drafts, *current)
		}
		current = nil
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if typ, title, ok := header(line); ok {
			flush()
			if title == "" {
				title = fmt.Sprintf("Scenario %d", len(drafts)+1)
			}
			current = &Draft{Title: title, Type: typ}
			body = []string{strings.TrimRight(line, " \t\r")}
			continue
		}
		if current != nil {
			body = append(body, strings.TrimRight(line, " \t\r"))
		}
	}
	flush()

	return drafts
}
