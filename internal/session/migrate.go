package session

import (
	"context"
	"fmt"
	"time"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
)

type migration struct {
	name  string
	stmts []string
}

// migrations[i] moves the schema from version i to i+1. Append only.
var migrations = []migration{
	{"conversations and messages", []string{
		`CREATE TABLE conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			attachments BLOB,
			suggestions BLOB,
			image_analyses BLOB,
			model TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE INDEX idx_conversations_updated ON conversations(updated_at)`,
	}},
	{"message trace ids", []string{
		`ALTER TABLE messages ADD COLUMN trace_id TEXT`,
		`CREATE INDEX idx_messages_trace ON messages(trace_id)`,
	}},
}

var currentSchemaVersion = len(migrations)

// Migrate brings the schema up to date. Each step and its version row are
// committed together, so an interrupted run resumes where it stopped.
func (s *SQLiteStore) Migrate() error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		L_debug("sqlite: schema up to date", "version", version)
		return nil
	}
	L_info("sqlite: migrating schema", "from", version, "to", currentSchemaVersion)

	for v := version; v < currentSchemaVersion; v++ {
		m := migrations[v]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d (%s): %w", v+1, m.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", v+1, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", v+1, err)
		}
		L_debug("sqlite: applied migration", "version", v+1, "name", m.name)
	}
	return nil
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
