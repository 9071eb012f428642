// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/runstream/internal/events"
)

// DefaultChainLimit bounds how many ancestors GetMessageChain walks.
const DefaultChainLimit = 200

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
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
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			principal_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_principal
			ON conversations(principal_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			parent_message_id TEXT,
			sender TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			content_json TEXT,
			is_created_by_user INTEGER NOT NULL DEFAULT 0,
			error INTEGER NOT NULL DEFAULT 0,
			unfinished INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS message_usage (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			message_id TEXT,
			principal_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			reasoning_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_message_usage_run
			ON message_usage(run_id);
		CREATE INDEX IF NOT EXISTS idx_message_usage_principal
			ON message_usage(principal_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the initial schema.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{"messages", "model", `ALTER TABLE messages ADD COLUMN model TEXT NOT NULL DEFAULT ''`},
		{"messages", "token_count", `ALTER TABLE messages ADD COLUMN token_count INTEGER NOT NULL DEFAULT 0`},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertConversation creates a conversation or refreshes its title and
// updated_at. Agent and principal are fixed at creation.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, agent_id, principal_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AgentID,
		conv.PrincipalID,
		conv.Title,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	s.logger.Debug("upserted conversation", "id", conv.ID, "agent_id", conv.AgentID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, agent_id, principal_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.AgentID,
		&conv.PrincipalID,
		&conv.Title,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

const messageColumns = `id, conversation_id, parent_message_id, sender, text, content_json,
	is_created_by_user, error, unfinished, model, token_count, created_at`

// SaveMessage inserts a message, replacing any earlier version with the same ID.
// An ID already used in another conversation returns ErrConflict.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	var contentJSON any
	if len(msg.Content) > 0 {
		b, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message content: %w", err)
		}
		contentJSON = string(b)
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			content_json = excluded.content_json,
			error = excluded.error,
			unfinished = excluded.unfinished,
			model = excluded.model,
			token_count = excluded.token_count
		WHERE messages.conversation_id = excluded.conversation_id
	`

	res, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		nullString(msg.ParentMessageID),
		msg.Sender,
		msg.Text,
		contentJSON,
		msg.IsCreatedByUser,
		msg.Error,
		msg.Unfinished,
		msg.Model,
		msg.TokenCount,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, ErrConflict)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetConversationMessages returns all messages of a conversation in
// chronological order.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// GetMessageChain walks parent links from leafID and returns the chain
// ordered root first. At most limit messages are returned; a limit of 0
// or less uses DefaultChainLimit.
func (s *SQLiteStore) GetMessageChain(ctx context.Context, leafID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultChainLimit
	}

	var chain []*Message
	seen := make(map[string]bool)
	id := leafID
	for id != "" && len(chain) < limit {
		if seen[id] {
			s.logger.Warn("message chain has a cycle", "message_id", id)
			break
		}
		seen[id] = true

		msg, err := s.GetMessage(ctx, id)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking message chain: %w", err)
		}
		chain = append(chain, msg)
		id = msg.ParentMessageID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var parentID, contentJSON sql.NullString
	var createdAtStr string

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&parentID,
		&msg.Sender,
		&msg.Text,
		&contentJSON,
		&msg.IsCreatedByUser,
		&msg.Error,
		&msg.Unfinished,
		&msg.Model,
		&msg.TokenCount,
		&createdAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	msg.ParentMessageID = parentID.String
	if contentJSON.Valid && contentJSON.String != "" {
		var parts []events.ContentPart
		if err := json.Unmarshal([]byte(contentJSON.String), &parts); err != nil {
			return nil, fmt.Errorf("decoding message content: %w", err)
		}
		msg.Content = parts
	}

	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	return &msg, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
