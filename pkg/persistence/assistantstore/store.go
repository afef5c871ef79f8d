package assistantstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store is the sqlite-backed persistence set for assistant sessions: chat
// turns, the apply ledger, templates, artifacts and per-session context
// blobs. One Store serves all of them so apply requests can run in a single
// transaction.
type Store struct {
	db *sql.DB
}

// Open opens the database at dsn and runs migrations.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("assistant store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile returns the sqlite dsn for a database file path, WAL mode with a
// busy timeout.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("assistant store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("assistant store: db is nil")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			data_mart_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			template_id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL,
			created_by_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			sql_candidate TEXT NOT NULL DEFAULT '',
			proposed_actions_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS apply_actions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			created_by_id TEXT NOT NULL,
			response_json TEXT NOT NULL DEFAULT '{}',
			modified_at_ms INTEGER NOT NULL,
			UNIQUE (session_id, request_id, created_by_id)
		);`,
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			data_mart_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			sources_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			data_mart_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			sql_text TEXT NOT NULL DEFAULT '',
			validation_status TEXT NOT NULL DEFAULT 'pending',
			validation_error TEXT NOT NULL DEFAULT '',
			created_by_id TEXT NOT NULL DEFAULT '',
			modified_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_contexts (
			session_id TEXT PRIMARY KEY,
			conversation_snapshot_json TEXT NOT NULL DEFAULT '',
			state_snapshot_json TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chat_turns_by_session ON chat_turns(session_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS apply_actions_by_session ON apply_actions(session_id, created_by_id, modified_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "assistant store: migrate")
		}
	}
	return nil
}
