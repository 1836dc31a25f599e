package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"neonhub/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	generation INTEGER NOT NULL DEFAULT 0,
	turns      INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	generation INTEGER NOT NULL,
	id         TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, generation, seq);
`

// SQLiteStore persists sessions in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repository: create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("repository: set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session domain.Session) error {
	if session.ID == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, title, generation, turns, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			session.ID, session.Title, session.Generation, session.Turns,
			formatTime(session.CreatedAt), formatTime(session.UpdatedAt),
		)
		if err != nil {
			return err
		}
		for _, m := range session.Messages {
			if err := insertMessage(ctx, tx, session.ID, session.Generation, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := getSessionRow(ctx, s.db, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, status, created_at FROM messages
		 WHERE session_id = ? AND generation = ? ORDER BY seq ASC`,
		sessionID, session.Generation,
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m                   domain.Message
			role, status, stamp string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &status, &stamp); err != nil {
			return domain.Session{}, fmt.Errorf("repository: GetSession scan: %w", err)
		}
		m.Role = domain.Role(role)
		m.Status = domain.MessageStatus(status)
		if m.Timestamp, err = parseTime(stamp); err != nil {
			return domain.Session{}, fmt.Errorf("repository: GetSession scan: %w", err)
		}
		session.Messages = append(session.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession rows: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := getSessionRow(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, sessionID, session.Generation, turn.User); err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, sessionID, session.Generation, turn.Reply); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET title = ?, turns = turns + 1, updated_at = ? WHERE id = ?`,
			turn.Title, formatTime(s.now()), sessionID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetSession(ctx context.Context, sessionID string, greeting domain.Message) (domain.Session, error) {
	var session domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		session, err = getSessionRow(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		session.Generation++
		session.Title = ""
		session.Turns = 0
		session.UpdatedAt = s.now().UTC()

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET generation = ?, title = '', turns = 0, updated_at = ? WHERE id = ?`,
			session.Generation, formatTime(session.UpdatedAt), sessionID,
		); err != nil {
			return err
		}
		// Earlier generations are never read again.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ? AND generation < ?`,
			sessionID, session.Generation,
		); err != nil {
			return err
		}
		return insertMessage(ctx, tx, sessionID, session.Generation, greeting)
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: ResetSession: %w", err)
	}
	session.Messages = []domain.Message{greeting}
	return session, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSessionRow(ctx context.Context, q rowQuerier, sessionID string) (domain.Session, error) {
	var (
		session          domain.Session
		created, updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, title, generation, turns, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.Title, &session.Generation, &session.Turns, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	if session.CreatedAt, err = parseTime(created); err != nil {
		return domain.Session{}, err
	}
	if session.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, generation int, m domain.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, generation, id, role, content, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, generation, m.ID, string(m.Role), m.Content, string(m.Status), formatTime(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
