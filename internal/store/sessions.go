// ABOUTME: SQLite persistence for workshop sessions
// ABOUTME: Create, fetch, update, filtered listing and idle-session queries

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const sessionColumns = `s.id, s.title, s.description, s.business_context, s.status, s.created_by,
	s.estimated_duration, s.actual_duration, s.started_at, s.completed_at, s.settings_json,
	s.created_at, s.updated_at`

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	settings, err := encodeJSON(sess.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, description, business_context, status, created_by,
			estimated_duration, actual_duration, started_at, completed_at, settings_json,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID,
		sess.Title,
		sess.Description,
		string(sess.BusinessContext),
		string(sess.Status),
		sess.CreatedBy,
		sess.EstimatedDuration,
		nullInt(sess.ActualDuration),
		nullTime(sess.StartedAt),
		nullTime(sess.CompletedAt),
		settings,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// UpdateSession writes every mutable field of the session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *Session) error {
	settings, err := encodeJSON(sess.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET title = ?, description = ?, business_context = ?, status = ?, estimated_duration = ?,
			actual_duration = ?, started_at = ?, completed_at = ?, settings_json = ?, updated_at = ?
		WHERE id = ?
	`,
		sess.Title,
		sess.Description,
		string(sess.BusinessContext),
		string(sess.Status),
		sess.EstimatedDuration,
		nullInt(sess.ActualDuration),
		nullTime(sess.StartedAt),
		nullTime(sess.CompletedAt),
		settings,
		formatTime(sess.UpdatedAt),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return requireAffected(result)
}

// ListSessions returns sessions matching the filter, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	var (
		query strings.Builder
		where []string
		args  []any
	)

	query.WriteString(`SELECT ` + sessionColumns + ` FROM sessions s`)
	if filter.UserID != "" {
		query.WriteString(` JOIN participants p ON p.session_id = s.id AND p.user_id = ?`)
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "s.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Query != "" {
		where = append(where, "(s.title LIKE ? OR s.description LIKE ?)")
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}
	if len(where) > 0 {
		query.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY s.created_at DESC, s.rowid DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListIdleSessions returns active sessions with no participant activity since cutoff.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		LEFT JOIN participants p ON p.session_id = s.id
		WHERE s.status = ?
		GROUP BY s.id
		HAVING COALESCE(MAX(p.last_activity), s.updated_at) < ?
		ORDER BY s.created_at ASC
	`, string(SessionActive), formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying idle sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                   Session
		bizContext, status     string
		actualDuration         sql.NullInt64
		startedAt, completedAt sql.NullString
		settings               string
		createdAt, updatedAt   string
	)

	err := row.Scan(
		&sess.ID,
		&sess.Title,
		&sess.Description,
		&bizContext,
		&status,
		&sess.CreatedBy,
		&sess.EstimatedDuration,
		&actualDuration,
		&startedAt,
		&completedAt,
		&settings,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.BusinessContext = BusinessContext(bizContext)
	sess.Status = SessionStatus(status)
	if actualDuration.Valid {
		d := int(actualDuration.Int64)
		sess.ActualDuration = &d
	}
	if sess.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if sess.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &sess.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// requireAffected maps an UPDATE that touched no rows to ErrNotFound.
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
