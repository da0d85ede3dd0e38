// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema and holds shared encode helpers

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// connPragmas is applied by the driver to each new pooled connection.
const connPragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. The special path ":memory:"
// opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?"+connPragmas)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would otherwise see its own database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id                 TEXT PRIMARY KEY,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL,
			business_context   TEXT NOT NULL,
			status             TEXT NOT NULL,
			created_by         TEXT NOT NULL,
			estimated_duration INTEGER NOT NULL,
			actual_duration    INTEGER,
			started_at         TEXT,
			completed_at       TEXT,
			settings_json      TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL,

			CHECK (status IN ('waiting', 'active', 'paused', 'completed', 'archived'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_created_by ON sessions(created_by);

		CREATE TABLE IF NOT EXISTS participants (
			id               TEXT PRIMARY KEY,
			session_id       TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			display_name     TEXT NOT NULL,
			email            TEXT,
			role             TEXT NOT NULL,
			status           TEXT NOT NULL,
			permissions_json TEXT NOT NULL,
			connection_json  TEXT NOT NULL,
			joined_at        TEXT,
			last_activity    TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id),

			CHECK (status IN ('invited', 'joined', 'active', 'inactive', 'left'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_session_user
			ON participants(session_id, user_id);

		CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			sender_id     TEXT,
			sender_kind   TEXT NOT NULL,
			kind          TEXT NOT NULL,
			content       TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			parent_id     TEXT,
			status        TEXT NOT NULL,
			reactions_json TEXT NOT NULL,
			edited_at     TEXT,
			deleted_at    TEXT,
			created_at    TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS scenarios (
			id              TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			title           TEXT NOT NULL,
			description     TEXT,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL,
			category        TEXT NOT NULL,
			priority        TEXT NOT NULL,
			status          TEXT NOT NULL,
			author_id       TEXT,
			author_kind     TEXT NOT NULL,
			tags_json       TEXT NOT NULL,
			validation_json TEXT NOT NULL,
			version         INTEGER NOT NULL DEFAULT 1,
			parent_id       TEXT,
			approved_by     TEXT,
			approved_at     TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id),
			FOREIGN KEY (parent_id) REFERENCES scenarios(id)
		);

		CREATE INDEX IF NOT EXISTS idx_scenarios_session_created
			ON scenarios(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_scenarios_parent ON scenarios(parent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "rendered_content",
			apply:  `ALTER TABLE messages ADD COLUMN rendered_content TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		if err := s.db.QueryRow(check, m.column).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullTime returns nil for a nil pointer, otherwise the formatted time
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
