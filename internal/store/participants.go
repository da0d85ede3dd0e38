// ABOUTME: SQLite persistence for session participants
// ABOUTME: Unique (session, user) inserts, lookups and live-participant counts

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const participantColumns = `id, session_id, user_id, display_name, email, role, status,
	permissions_json, connection_json, joined_at, last_activity, created_at`

// CreateParticipant inserts a participant. The unique index on
// (session_id, user_id) makes the check-and-insert atomic; a second
// record for the same pair returns ErrDuplicate.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, p *Participant) error {
	perms, conn, err := encodeParticipant(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.SessionID,
		p.UserID,
		p.DisplayName,
		nullString(p.Email),
		string(p.Role),
		string(p.Status),
		perms,
		conn,
		nullTime(p.JoinedAt),
		formatTime(p.LastActivity),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting participant: %w", err)
	}

	s.logger.Debug("created participant", "session_id", p.SessionID, "user_id", p.UserID, "status", p.Status)
	return nil
}

// GetParticipant retrieves the participant record of userID in sessionID.
func (s *SQLiteStore) GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND user_id = ?`,
		sessionID, userID)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying participant: %w", err)
	}
	return p, nil
}

// UpdateParticipant writes the mutable fields of a participant.
func (s *SQLiteStore) UpdateParticipant(ctx context.Context, p *Participant) error {
	perms, conn, err := encodeParticipant(p)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE participants
		SET display_name = ?, email = ?, role = ?, status = ?, permissions_json = ?,
			connection_json = ?, joined_at = ?, last_activity = ?
		WHERE session_id = ? AND user_id = ?
	`,
		p.DisplayName,
		nullString(p.Email),
		string(p.Role),
		string(p.Status),
		perms,
		conn,
		nullTime(p.JoinedAt),
		formatTime(p.LastActivity),
		p.SessionID,
		p.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating participant: %w", err)
	}
	return requireAffected(result)
}

// ListParticipants returns every participant of a session in creation order.
func (s *SQLiteStore) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participant rows: %w", err)
	}
	return participants, nil
}

// CountLiveParticipants counts participants with status joined or active.
func (s *SQLiteStore) CountLiveParticipants(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = ? AND status IN (?, ?)`,
		sessionID, string(ParticipantJoined), string(ParticipantActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting participants: %w", err)
	}
	return n, nil
}

func encodeParticipant(p *Participant) (perms, conn string, err error) {
	if perms, err = encodeJSON(p.Permissions); err != nil {
		return "", "", fmt.Errorf("encoding permissions: %w", err)
	}
	if conn, err = encodeJSON(p.Connection); err != nil {
		return "", "", fmt.Errorf("encoding connection: %w", err)
	}
	return perms, conn, nil
}

func scanParticipant(row rowScanner) (*Participant, error) {
	var (
		p                       Participant
		email, joinedAt         sql.NullString
		role, status            string
		perms, conn             string
		lastActivity, createdAt string
	)

	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.UserID,
		&p.DisplayName,
		&email,
		&role,
		&status,
		&perms,
		&conn,
		&joinedAt,
		&lastActivity,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	p.Email = email.String
	p.Role = ParticipantRole(role)
	p.Status = ParticipantStatus(status)
	if err := json.Unmarshal([]byte(perms), &p.Permissions); err != nil {
		return nil, fmt.Errorf("decoding permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(conn), &p.Connection); err != nil {
		return nil, fmt.Errorf("decoding connection: %w", err)
	}
	if p.JoinedAt, err = parseNullTime(joinedAt); err != nil {
		return nil, fmt.Errorf("parsing joined_at: %w", err)
	}
	if p.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}
