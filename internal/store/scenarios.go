// ABOUTME: SQLite persistence for test scenarios
// ABOUTME: Scenarios form version chains through parent_id and are listed in creation order

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const scenarioColumns = `id, session_id, title, description, content, type, category, priority,
	status, author_id, author_kind, tags_json, validation_json, version, parent_id,
	approved_by, approved_at, created_at, updated_at`

// CreateScenario inserts a scenario record.
func (s *SQLiteStore) CreateScenario(ctx context.Context, sc *Scenario) error {
	if sc.Content == "" {
		return fmt.Errorf("inserting scenario: empty content")
	}
	tags, validation, err := encodeScenario(sc)
	if err != nil {
		return err
	}

	version := sc.Version
	if version == 0 {
		version = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenarios (`+scenarioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sc.ID,
		sc.SessionID,
		sc.Title,
		nullString(sc.Description),
		sc.Content,
		string(sc.Type),
		string(sc.Category),
		string(sc.Priority),
		string(sc.Status),
		nullString(sc.AuthorID),
		string(sc.AuthorKind),
		tags,
		validation,
		version,
		nullString(sc.ParentID),
		nullString(sc.ApprovedBy),
		nullTime(sc.ApprovedAt),
		formatTime(sc.CreatedAt),
		formatTime(sc.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting scenario: %w", err)
	}

	s.logger.Debug("created scenario", "id", sc.ID, "session_id", sc.SessionID, "version", version)
	return nil
}

// GetScenario retrieves a scenario by ID.
func (s *SQLiteStore) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	sc, err := scanScenario(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying scenario: %w", err)
	}
	return sc, nil
}

// UpdateScenario writes review state of a scenario. The body, version and
// parent link are immutable once written; revisions go through CreateScenario.
func (s *SQLiteStore) UpdateScenario(ctx context.Context, sc *Scenario) error {
	tags, validation, err := encodeScenario(sc)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scenarios
		SET title = ?, description = ?, category = ?, priority = ?, status = ?, tags_json = ?,
			validation_json = ?, approved_by = ?, approved_at = ?, updated_at = ?
		WHERE id = ?
	`,
		sc.Title,
		nullString(sc.Description),
		string(sc.Category),
		string(sc.Priority),
		string(sc.Status),
		tags,
		validation,
		nullString(sc.ApprovedBy),
		nullTime(sc.ApprovedAt),
		formatTime(sc.UpdatedAt),
		sc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating scenario: %w", err)
	}
	return requireAffected(result)
}

// ListScenarios returns every scenario of a session in creation order,
// including superseded versions.
func (s *SQLiteStore) ListScenarios(ctx context.Context, sessionID string) ([]*Scenario, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []*Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scenario row: %w", err)
		}
		scenarios = append(scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenario rows: %w", err)
	}
	return scenarios, nil
}

func encodeScenario(sc *Scenario) (tags, validation string, err error) {
	t := sc.Tags
	if t == nil {
		t = []string{}
	}
	if tags, err = encodeJSON(t); err != nil {
		return "", "", fmt.Errorf("encoding tags: %w", err)
	}
	if validation, err = encodeJSON(sc.Validation); err != nil {
		return "", "", fmt.Errorf("encoding validation: %w", err)
	}
	return tags, validation, nil
}

func scanScenario(row rowScanner) (*Scenario, error) {
	var (
		sc                              Scenario
		description, authorID, parentID sql.NullString
		approvedBy, approvedAt          sql.NullString
		typ, category, priority, status string
		authorKind, tags, validation    string
		createdAt, updatedAt            string
	)

	err := row.Scan(
		&sc.ID,
		&sc.SessionID,
		&sc.Title,
		&description,
		&sc.Content,
		&typ,
		&category,
		&priority,
		&status,
		&authorID,
		&authorKind,
		&tags,
		&validation,
		&sc.Version,
		&parentID,
		&approvedBy,
		&approvedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sc.Description = description.String
	sc.AuthorID = authorID.String
	sc.ParentID = parentID.String
	sc.ApprovedBy = approvedBy.String
	sc.Type = ScenarioType(typ)
	sc.Category = ScenarioCategory(category)
	sc.Priority = ScenarioPriority(priority)
	sc.Status = ScenarioStatus(status)
	sc.AuthorKind = SenderKind(authorKind)
	if err := json.Unmarshal([]byte(tags), &sc.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if len(sc.Tags) == 0 {
		sc.Tags = nil
	}
	if err := json.Unmarshal([]byte(validation), &sc.Validation); err != nil {
		return nil, fmt.Errorf("decoding validation: %w", err)
	}
	if sc.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, fmt.Errorf("parsing approved_at: %w", err)
	}
	if sc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sc, nil
}
