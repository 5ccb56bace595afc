// Package session persists chat transcripts per session so a restarted
// server (or a later CLI invocation) can resume a conversation with its
// prior context.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/predixlabs/predix-agent/internal/model"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Entry is one persisted transcript row: the message plus the structured
// payload that accompanied it, if any.
type Entry struct {
	Role    string
	Content string
	Data    map[string]any
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session lock directory: %w", err)
	}

	// busy_timeout rides on the DSN so every pooled connection waits out a
	// concurrent writer instead of failing with SQLITE_BUSY.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session sqlite: %w", err)
	}

	store := &Store{db: db, lock: flock.New(lockPath)}
	// Schema init is a write that races with other processes opening the
	// same file; serialize it through the same lock Append takes.
	err = store.withLock(func() error {
		queries := []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				data TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL
			);`,
			"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);",
		}
		for _, q := range queries {
			if _, err := db.Exec(q); err != nil {
				return fmt.Errorf("init session schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one message at the end of a session transcript.
func (s *Store) Append(sessionID string, msg model.Message) error {
	return s.AppendWithData(sessionID, msg, nil)
}

// AppendWithData records one message together with its structured payload,
// such as the command result or transaction status attached to an
// assistant reply.
func (s *Store) AppendWithData(sessionID string, msg model.Message, data map[string]any) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("append message: missing session id")
	}
	encoded := ""
	if data != nil {
		buf, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode message data: %w", err)
		}
		encoded = string(buf)
	}
	return s.withLock(func() error {
		_, err := s.db.Exec(
			"INSERT INTO messages (session_id, role, content, data, created_at) VALUES (?, ?, ?, ?, ?)",
			sessionID, msg.Role, msg.Content, encoded, time.Now().UTC().Unix(),
		)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		return nil
	})
}

// History returns a session transcript in insertion order. A limit of 0
// returns the whole transcript; a positive limit returns the most recent
// messages only.
func (s *Store) History(sessionID string, limit int) ([]model.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(`
			SELECT role, content FROM (
				SELECT id, role, content FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
			) ORDER BY id ASC`, sessionID, limit)
	} else {
		rows, err = s.db.Query("SELECT role, content FROM messages WHERE session_id = ? ORDER BY id ASC", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// Entries returns the full transcript including stored data payloads.
func (s *Store) Entries(sessionID string) ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT role, content, data FROM messages WHERE session_id = ? ORDER BY id ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		var encoded string
		if err := rows.Scan(&entry.Role, &entry.Content, &encoded); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		if encoded != "" {
			if err := json.Unmarshal([]byte(encoded), &entry.Data); err != nil {
				return nil, fmt.Errorf("decode entry data: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}
	return entries, nil
}

// Sessions lists distinct session ids ordered by most recent activity.
func (s *Store) Sessions(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT session_id FROM messages GROUP BY session_id ORDER BY MAX(id) DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return ids, nil
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock session store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock session store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
