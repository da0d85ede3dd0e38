// ABOUTME: SQLite persistence for conversation messages
// ABOUTME: Messages are soft-deleted and listed in creation order

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const messageColumns = `id, session_id, sender_id, sender_kind, kind, content, rendered_content,
	metadata_json, parent_id, status, reactions_json, edited_at, deleted_at, created_at`

// CreateMessage saves a message to the database
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.Content == "" {
		return fmt.Errorf("inserting message: empty content")
	}
	meta, reactions, err := encodeMessage(m)
	if err != nil {
		return err
	}

	status := m.Status
	if status == "" {
		status = MessageSent
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID,
		m.SessionID,
		nullString(m.SenderID),
		string(m.SenderKind),
		string(m.Kind),
		m.Content,
		nullString(m.RenderedContent),
		meta,
		nullString(m.ParentID),
		string(status),
		reactions,
		nullTime(m.EditedAt),
		nullTime(m.DeletedAt),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", m.ID, "session_id", m.SessionID, "kind", m.Kind)
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// UpdateMessage writes content, status, reactions and edit/delete stamps.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, m *Message) error {
	meta, reactions, err := encodeMessage(m)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, rendered_content = ?, metadata_json = ?, status = ?, reactions_json = ?,
			edited_at = ?, deleted_at = ?
		WHERE id = ?
	`,
		m.Content,
		nullString(m.RenderedContent),
		meta,
		string(m.Status),
		reactions,
		nullTime(m.EditedAt),
		nullTime(m.DeletedAt),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return requireAffected(result)
}

// ListMessages retrieves messages for a session, limited to the most recent `limit` messages.
// Messages are returned in chronological order (oldest first).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Take the N most recent, then flip back to ascending order
		query = `
			SELECT ` + messageColumns + ` FROM (
				SELECT rowid AS rid, * FROM messages
				WHERE session_id = ?
				ORDER BY created_at DESC, rowid DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, rid ASC
		`
		args = []any{sessionID, limit}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`
		args = []any{sessionID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func encodeMessage(m *Message) (meta, reactions string, err error) {
	if meta, err = encodeJSON(m.Metadata); err != nil {
		return "", "", fmt.Errorf("encoding metadata: %w", err)
	}
	r := m.Reactions
	if r == nil {
		r = map[string][]string{}
	}
	if reactions, err = encodeJSON(r); err != nil {
		return "", "", fmt.Errorf("encoding reactions: %w", err)
	}
	return meta, reactions, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m                            Message
		senderID, rendered, parentID sql.NullString
		senderKind, kind, status     string
		meta, reactions              string
		editedAt, deletedAt          sql.NullString
		createdAt                    string
	)

	err := row.Scan(
		&m.ID,
		&m.SessionID,
		&senderID,
		&senderKind,
		&kind,
		&m.Content,
		&rendered,
		&meta,
		&parentID,
		&status,
		&reactions,
		&editedAt,
		&deletedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	m.SenderID = senderID.String
	m.RenderedContent = rendered.String
	m.ParentID = parentID.String
	m.SenderKind = SenderKind(senderKind)
	m.Kind = MessageKind(kind)
	m.Status = MessageStatus(status)
	if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
		return nil, fmt.Errorf("decoding reactions: %w", err)
	}
	if len(m.Reactions) == 0 {
		m.Reactions = nil
	}
	if m.EditedAt, err = parseNullTime(editedAt); err != nil {
		return nil, fmt.Errorf("parsing edited_at: %w", err)
	}
	if m.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}
