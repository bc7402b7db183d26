// Package store persists chat transcripts in SQLite so earlier sessions can
// be listed and replayed.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"chatwidget/internal/logging"
	"chatwidget/internal/transcript"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Session is a stored conversation.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Turns     int
}

// Turn is one stored question and its reply.
type Turn struct {
	Number    int
	Question  string
	Answer    string
	Failed    bool
	CreatedAt time.Time
}

// HistoryStore is a SQLite-backed transcript history.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS turns (
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	turn_number INTEGER NOT NULL,
	question    TEXT NOT NULL,
	answer      TEXT NOT NULL,
	failed      INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, turn_number)
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`

// Open opens (creating if needed) the history database at path.
// ":memory:" gives a private in-memory database.
func Open(path string) (*HistoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening history store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("Failed to apply %q: %v", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &HistoryStore{db: db, dbPath: path}, nil
}

// Path returns the database path.
func (s *HistoryStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// StartSession creates a session and returns its ID.
func (s *HistoryStore) StartSession(title string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if _, err := s.db.Exec(
		`INSERT INTO sessions (id, title, created_at) VALUES (?, ?, ?)`,
		id, title, time.Now().UTC(),
	); err != nil {
		logging.StoreError("Failed to start session: %v", err)
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	logging.Store("Session started: %s", id)
	return id, nil
}

// StoreTurn records a turn. Storing the same turn number twice is a no-op.
func (s *HistoryStore) StoreTurn(sessionID string, turn int, question, answer string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Storing turn: session=%s turn=%d question_len=%d answer_len=%d failed=%v",
		sessionID, turn, len(question), len(answer), failed)

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO turns (session_id, turn_number, question, answer, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, turn, question, answer, failed, time.Now().UTC(),
	)
	if err != nil {
		logging.StoreError("Failed to store turn: session=%s turn=%d: %v", sessionID, turn, err)
		return fmt.Errorf("failed to store turn: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first.
func (s *HistoryStore) ListSessions(limit int) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT s.id, s.title, s.created_at, COUNT(t.turn_number)
		 FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.created_at DESC, s.rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Turns returns a session's turns in order.
func (s *HistoryStore) Turns(sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	rows, err := s.db.Query(
		`SELECT turn_number, question, answer, failed, created_at
		 FROM turns WHERE session_id = ? ORDER BY turn_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Number, &t.Question, &t.Answer, &t.Failed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its turns.
func (s *HistoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	logging.Store("Session deleted: %s", sessionID)
	return nil
}

// Recorder returns a turn hook that numbers and stores each completed turn
// of one session. Store failures are logged, not surfaced to the chat.
func (s *HistoryStore) Recorder(sessionID string) func(question, reply transcript.Message) {
	var mu sync.Mutex
	turn := 0
	return func(question, reply transcript.Message) {
		mu.Lock()
		turn++
		n := turn
		mu.Unlock()
		failed := reply.Kind == transcript.KindError
		if err := s.StoreTurn(sessionID, n, question.Text, reply.Text, failed); err != nil {
			logging.StoreError("Recorder dropped turn %d: %v", n, err)
		}
	}
}
