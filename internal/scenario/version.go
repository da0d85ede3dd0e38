// ABOUTME: Builds scenario records for new drafts and revisions
// ABOUTME: A revision is a fresh record linked to its parent, never an in-place edit

package scenario

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/trio-gateway/internal/store"
)

// ErrEmptyBody is returned when a scenario would have no body.
var ErrEmptyBody = errors.New("scenario body is empty")

// FromDraft builds a new draft-status scenario authored by the assistant.
func FromDraft(sessionID string, d Draft, now time.Time) *store.Scenario {
	sc := &store.Scenario{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Title:      d.Title,
		Content:    d.Body,
		Type:       d.Type,
		Category:   Categorize(d.Title + "\n" + d.Body),
		Priority:   store.PriorityMedium,
		Status:     store.ScenarioDraft,
		AuthorKind: store.SenderBot,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sc.Validation = Validate(sc)
	return sc
}

// Revise returns the next version of parent carrying content. The parent is
// not modified. The revision starts over as a user-authored draft.
func Revise(parent *store.Scenario, content, authorID string, now time.Time) (*store.Scenario, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyBody
	}

	next := &store.Scenario{
		ID:          uuid.New().String(),
		SessionID:   parent.SessionID,
		Title:       parent.Title,
		Description: parent.Description,
		Content:     content,
		Type:        parent.Type,
		Category:    parent.Category,
		Priority:    parent.Priority,
		Status:      store.ScenarioDraft,
		AuthorID:    authorID,
		AuthorKind:  store.SenderUser,
		Tags:        slices.Clone(parent.Tags),
		Version:     parent.Version + 1,
		ParentID:    parent.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	next.Validation = Validate(next)
	return next, nil
}

// Latest returns the newest version of each chain among scenarios, keeping
// input order. A scenario is superseded when another names it as parent.
func Latest(scenarios []*store.Scenario) []*store.Scenario {
	parents := make(map[string]struct{}, len(scenarios))
	for _, sc := range scenarios {
		if sc.ParentID != "" {
			parents[sc.ParentID] = struct{}{}
		}
	}
	var out []*store.Scenario
	for _, sc := range scenarios {
		if _, superseded := parents[sc.ID]; !superseded {
			out = append(out, sc)
		}
	}
	return out
}
