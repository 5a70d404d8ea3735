// Package session stores conversations in SQLite and serves them back as
// prompt history.
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
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// SQLiteStore persists conversations and their messages.
type SQLiteStore struct {
	db *sql.DB
}

// Conversation is a conversation summary.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a stored turn including reply metadata.
type Message struct {
	ID            string                `json:"id"`
	Role          types.Role            `json:"role"`
	Text          string                `json:"text"`
	Attachments   []types.Attachment    `json:"attachments,omitempty"`
	Suggestions   []string              `json:"suggestions,omitempty"`
	ImageAnalyses []types.ImageAnalysis `json:"imageAnalyses,omitempty"`
	Model         string                `json:"model,omitempty"`
	TraceID       string                `json:"traceId,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

const titleLimit = 60

// Open opens or creates the database at path and migrates it.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("sqlite: store opened", "path", path)
	return store, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// History returns the conversation's turns in chronological order. An
// unknown conversation has no history.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]types.HistoryTurn, error) {
	msgs, err := s.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	turns := make([]types.HistoryTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, types.HistoryTurn{
			Role:        m.Role,
			Text:        m.Text,
			Attachments: m.Attachments,
			CreatedAt:   m.CreatedAt,
		})
	}
	return turns, nil
}

// Persist stores one exchange atomically, creating the conversation on first use.
func (s *SQLiteStore) Persist(ctx context.Context, rec types.ExchangeRecord) error {
	if rec.ConversationID == "" {
		return fmt.Errorf("persist: conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	userAt := rec.UserTurn.CreatedAt
	if userAt.IsZero() {
		userAt = now
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, rec.ConversationID, makeTitle(rec.UserTurn.Text), userAt.UnixMilli(), now.UnixMilli()); err != nil {
		return fmt.Errorf("upsert conversation failed: %w", err)
	}

	user := Message{
		Role:        types.RoleUser,
		Text:        rec.UserTurn.Text,
		Attachments: storedAttachments(rec.UserTurn.Attachments),
		TraceID:     rec.TraceID,
		CreatedAt:   userAt,
	}
	assistant := Message{
		Role:          types.RoleAssistant,
		Text:          rec.Reply.Message,
		Suggestions:   rec.Reply.Suggestions,
		ImageAnalyses: rec.Reply.ImageAnalyses,
		Model:         rec.Model,
		TraceID:       rec.TraceID,
		CreatedAt:     now,
	}
	for _, m := range []Message{user, assistant} {
		if err := insertMessage(ctx, tx, rec.ConversationID, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	L_trace("sqlite: exchange persisted", "conversation", rec.ConversationID, "trace", rec.TraceID)
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, m Message) error {
	attachments, err := marshalOptional(m.Attachments)
	if err != nil {
		return err
	}
	suggestions, err := marshalOptional(m.Suggestions)
	if err != nil {
		return err
	}
	analyses, err := marshalOptional(m.ImageAnalyses)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, attachments,
		                      suggestions, image_analyses, model, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), conversationID, string(m.Role), m.Text, attachments,
		suggestions, analyses, nullString(m.Model), nullString(m.TraceID), m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message failed: %w", err)
	}
	return nil
}

// Messages returns every stored message of a conversation, oldest first.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, attachments, suggestions, image_analyses,
		       model, trace_id, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		var attachments, suggestions, analyses []byte
		var model, traceID sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &role, &m.Text, &attachments, &suggestions, &analyses, &model, &traceID, &ts); err != nil {
			return nil, err
		}
		m.Role = types.Role(role)
		m.Model = model.String
		m.TraceID = traceID.String
		m.CreatedAt = time.UnixMilli(ts)
		if err := unmarshalOptional(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("message %s attachments: %w", m.ID, err)
		}
		if err := unmarshalOptional(suggestions, &m.Suggestions); err != nil {
			return nil, fmt.Errorf("message %s suggestions: %w", m.ID, err)
		}
		if err := unmarshalOptional(analyses, &m.ImageAnalyses); err != nil {
			return nil, fmt.Errorf("message %s image analyses: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Conversations lists conversations, most recently updated first.
func (s *SQLiteStore) Conversations(ctx context.Context, limit int) ([]Conversation, error) {
	query := `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated, &c.Messages); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages. It reports
// whether anything was deleted.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

// storedAttachments drops inline bytes; only attachments saved to disk can
// be reloaded later.
func storedAttachments(atts []types.Attachment) []types.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]types.Attachment, len(atts))
	for i, a := range atts {
		a.Data = nil
		out[i] = a
	}
	return out
}

func makeTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) > titleLimit {
		title = string([]rune(title)[:titleLimit]) + "…"
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}

// Helper functions

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalOptional[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshalOptional[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
