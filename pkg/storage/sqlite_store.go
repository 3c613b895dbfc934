package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polisai/polis-companion/pkg/domain"
)

// SQLiteConversationStore implements ConversationStore on a SQLite database.
type SQLiteConversationStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewSQLiteConversationStore opens or creates the database at path and
// applies the schema.
func NewSQLiteConversationStore(path string, logger *slog.Logger) (*SQLiteConversationStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("storage: sqlite path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteConversationStore{db: db, now: time.Now, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("Opened conversation store", "driver", "sqlite", "path", path)
	return s, nil
}

func (s *SQLiteConversationStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		content         TEXT NOT NULL,
		is_user         INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetConversation loads a conversation row.
func (s *SQLiteConversationStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM conversations WHERE id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation %d: %w", id, err)
	}

	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &domain.Conversation{ID: id, CreatedAt: ts}, nil
}

// AppendExchange writes the conversation (when new) and both messages in one
// transaction.
func (s *SQLiteConversationStore) AppendExchange(ctx context.Context, conversationID int64, userText, assistantText string) (int64, error) {
	if userText == "" {
		return 0, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("Rollback failed", "error", err)
		}
	}()

	now := s.now().UTC().Format(time.RFC3339Nano)

	if conversationID == 0 {
		res, err := tx.ExecContext(ctx, `INSERT INTO conversations (created_at) VALUES (?)`, now)
		if err != nil {
			return 0, fmt.Errorf("insert conversation: %w", err)
		}
		conversationID, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("conversation id: %w", err)
		}
	} else {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("select conversation %d: %w", conversationID, err)
		}
	}

	const insertMessage = `INSERT INTO messages (conversation_id, content, is_user, created_at) VALUES (?, ?, ?, ?)`
	for _, m := range []domain.Message{
		{Author: domain.AuthorUser, Content: userText},
		{Author: domain.AuthorAssistant, Content: assistantText},
	} {
		if _, err := tx.ExecContext(ctx, insertMessage, conversationID, m.Content, m.IsUser(), now); err != nil {
			return 0, fmt.Errorf("insert %s message: %w", m.Author, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return conversationID, nil
}

// ListMessages returns the conversation's messages ordered by id.
func (s *SQLiteConversationStore) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, is_user, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m         domain.Message
			isUser    bool
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Content, &isUser, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.ConversationID = conversationID
		m.Author = domain.AuthorAssistant
		if isUser {
			m.Author = domain.AuthorUser
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return messages, nil
}

// Close closes the underlying database.
func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

func parseTime(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return ts, nil
}
