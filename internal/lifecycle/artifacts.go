// ABOUTME: Participant-gated operations on scenarios and messages
// ABOUTME: Scenario revisions append to the version chain; message deletes are soft

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/trio-gateway/internal/scenario"
	"github.com/2389/trio-gateway/internal/store"
)

// requireParticipant returns the caller's participant record or Forbidden.
func (m *Manager) requireParticipant(ctx context.Context, sessionID, userID string) (*store.Participant, error) {
	p, err := m.findParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, newError(CodeForbidden, "not a participant of this session")
	}
	return p, nil
}

func (m *Manager) getScenario(ctx context.Context, id string) (*store.Scenario, error) {
	sc, err := m.store.GetScenario(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Code: CodeNotFound, Message: "scenario not found", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	return sc, nil
}

// lockScenario takes the owning session's lock and returns the scenario as
// read under it. The caller must call unlock when err is nil.
func (m *Manager) lockScenario(ctx context.Context, id string) (sc *store.Scenario, unlock func(), err error) {
	sc, err = m.getScenario(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock = m.lock(sc.SessionID)
	if sc, err = m.getScenario(ctx, id); err != nil {
		unlock()
		return nil, nil, err
	}
	return sc, unlock, nil
}

// scenarioEditor locks and loads a scenario and checks that userID may edit it.
func (m *Manager) scenarioEditor(ctx context.Context, scenarioID, userID string) (*store.Scenario, func(), error) {
	sc, unlock, err := m.lockScenario(ctx, scenarioID)
	if err != nil {
		return nil, nil, err
	}
	p, err := m.requireParticipant(ctx, sc.SessionID, userID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if !p.Permissions.CanEditScenarios {
		unlock()
		return nil, nil, newError(CodeForbidden, "editing scenarios requires edit permission")
	}
	return sc, unlock, nil
}

// Scenarios lists the newest version of each scenario chain in a session.
func (m *Manager) Scenarios(ctx context.Context, sessionID string) ([]*store.Scenario, error) {
	all, err := m.store.ListScenarios(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}
	return scenario.Latest(all), nil
}

// ApproveScenario marks a scenario approved by userID.
func (m *Manager) ApproveScenario(ctx context.Context, scenarioID, userID string) (*store.Scenario, error) {
	sc, unlock, err := m.scenarioEditor(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if sc.Status == store.ScenarioArchived {
		return nil, newError(CodeConflict, "scenario is archived")
	}

	now := m.now()
	sc.Status = store.ScenarioApproved
	sc.ApprovedBy = userID
	sc.ApprovedAt = &now
	sc.UpdatedAt = now
	if err := m.store.UpdateScenario(ctx, sc); err != nil {
		return nil, fmt.Errorf("approving scenario: %w", err)
	}
	m.logger.Info("scenario approved", "scenario_id", sc.ID, "by", userID)
	return sc, nil
}

// RejectScenario sends a scenario back to draft with the reason recorded as
// a suggestion.
func (m *Manager) RejectScenario(ctx context.Context, scenarioID, userID, reason string) (*store.Scenario, error) {
	sc, unlock, err := m.scenarioEditor(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if sc.Status == store.ScenarioArchived {
		return nil, newError(CodeConflict, "scenario is archived")
	}

	sc.Status = store.ScenarioDraft
	sc.ApprovedBy = ""
	sc.ApprovedAt = nil
	if reason = strings.TrimSpace(reason); reason != "" {
		sc.Validation.Suggestions = append(sc.Validation.Suggestions, "Rejected: "+reason)
	}
	sc.UpdatedAt = m.now()
	if err := m.store.UpdateScenario(ctx, sc); err != nil {
		return nil, fmt.Errorf("rejecting scenario: %w", err)
	}
	m.logger.Info("scenario rejected", "scenario_id", sc.ID, "by", userID)
	return sc, nil
}

// ReviseScenario records a new version of a scenario with content. The
// parent record is left as it was.
func (m *Manager) ReviseScenario(ctx context.Context, scenarioID, userID, content string) (*store.Scenario, error) {
	parent, unlock, err := m.scenarioEditor(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	next, err := scenario.Revise(parent, content, userID, m.now())
	if err != nil {
		return nil, &Error{Code: CodeValidation, Message: "revising scenario", Err: err}
	}
	if err := m.store.CreateScenario(ctx, next); err != nil {
		return nil, fmt.Errorf("saving revision: %w", err)
	}
	m.logger.Info("scenario revised", "scenario_id", next.ID, "parent_id", parent.ID, "version", next.Version)
	return next, nil
}

// ValidateScenario re-runs local validation on a scenario and stores the result.
func (m *Manager) ValidateScenario(ctx context.Context, scenarioID, userID string) (*store.Scenario, error) {
	sc, unlock, err := m.lockScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if _, err := m.requireParticipant(ctx, sc.SessionID, userID); err != nil {
		return nil, err
	}
	sc.Validation = scenario.Validate(sc)
	sc.UpdatedAt = m.now()
	if err := m.store.UpdateScenario(ctx, sc); err != nil {
		return nil, fmt.Errorf("saving validation: %w", err)
	}
	return sc, nil
}

func (m *Manager) getMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Code: CodeNotFound, Message: "message not found", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}
	if msg.Status == store.MessageDeleted {
		return nil, newError(CodeNotFound, "message was deleted")
	}
	return msg, nil
}

// lockMessage takes the owning session's lock and returns the message as
// read under it. The caller must call unlock when err is nil.
func (m *Manager) lockMessage(ctx context.Context, id string) (msg *store.Message, unlock func(), err error) {
	msg, err = m.getMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock = m.lock(msg.SessionID)
	if msg, err = m.getMessage(ctx, id); err != nil {
		unlock()
		return nil, nil, err
	}
	return msg, unlock, nil
}

// EditMessage replaces the content of a message. Only its author may edit it.
func (m *Manager) EditMessage(ctx context.Context, messageID, userID, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, newError(CodeValidation, "message content is required")
	}
	msg, unlock, err := m.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if msg.SenderKind != store.SenderUser || msg.SenderID != userID {
		return nil, newError(CodeForbidden, "only the author can edit a message")
	}

	now := m.now()
	msg.Content = content
	msg.RenderedContent = ""
	msg.Status = store.MessageEdited
	msg.EditedAt = &now
	if err := m.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("editing message: %w", err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message. The author or a moderator may delete.
func (m *Manager) DeleteMessage(ctx context.Context, messageID, userID string) (*store.Message, error) {
	msg, unlock, err := m.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if msg.SenderID != userID || msg.SenderKind != store.SenderUser {
		p, err := m.requireParticipant(ctx, msg.SessionID, userID)
		if err != nil {
			return nil, err
		}
		if !p.Permissions.CanModerate {
			return nil, newError(CodeForbidden, "only the author or a moderator can delete a message")
		}
	}

	now := m.now()
	msg.Status = store.MessageDeleted
	msg.DeletedAt = &now
	if err := m.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("deleting message: %w", err)
	}
	m.logger.Info("message deleted", "message_id", msg.ID, "by", userID)
	return msg, nil
}

// React adds (add=true) or removes a user's reaction. Both directions are
// idempotent.
func (m *Manager) React(ctx context.Context, messageID, userID, reaction string, add bool) (*store.Message, error) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return nil, newError(CodeValidation, "reaction is required")
	}
	msg, unlock, err := m.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if _, err := m.requireParticipant(ctx, msg.SessionID, userID); err != nil {
		return nil, err
	}

	users := msg.Reactions[reaction]
	has := slices.Contains(users, userID)
	switch {
	case add && !has:
		if msg.Reactions == nil {
			msg.Reactions = make(map[string][]string)
		}
		msg.Reactions[reaction] = append(users, userID)
	case !add && has:
		users = slices.DeleteFunc(users, func(u string) bool { return u == userID })
		if len(users) == 0 {
			delete(msg.Reactions, reaction)
		} else {
			msg.Reactions[reaction] = users
		}
	default:
		return msg, nil
	}

	if err := m.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("updating reactions: %w", err)
	}
	return msg, nil
}

// MarkRead marks a sent or delivered message as read.
func (m *Manager) MarkRead(ctx context.Context, messageID, userID string) (*store.Message, error) {
	msg, unlock, err := m.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if _, err := m.requireParticipant(ctx, msg.SessionID, userID); err != nil {
		return nil, err
	}
	if msg.Status != store.MessageSent && msg.Status != store.MessageDelivered {
		return msg, nil
	}
	msg.Status = store.MessageRead
	if err := m.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("marking message read: %w", err)
	}
	return msg, nil
}
