package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Davezu/chatbot/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the default store
// for development and tests; production deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatbot.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatbot.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, which serializes the assign/close compare-and-set paths.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	// Every pooled connection to :memory: would get its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		email TEXT DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('client', 'admin')),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		client_id INTEGER NOT NULL REFERENCES users(id),
		admin_id INTEGER REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'bot'
			CHECK (status IN ('bot', 'human_requested', 'human_assigned', 'closed')),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_type TEXT NOT NULL CHECK (sender_type IN ('bot', 'client', 'admin')),
		content TEXT NOT NULL,
		sent_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateConversation creates a new conversation in the initial bot status.
func (s *SQLiteStore) CreateConversation(ctx context.Context, clientID int64) (*models.Conversation, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, client_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), clientID, models.StatusBot, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	return &models.Conversation{
		ID:        id,
		ClientID:  clientID,
		Status:    models.StatusBot,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return getConversationTx(ctx, s.db, id)
}

// queryer covers both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getConversationTx(ctx context.Context, q queryer, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr string
	var status string
	err := q.QueryRowContext(ctx, `
		SELECT id, client_id, admin_id, status, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id.String()).Scan(
		&idStr,
		&conv.ClientID,
		&conv.AdminID,
		&status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.ID = uuid.MustParse(idStr)
	conv.Status = models.Status(status)
	return conv, nil
}

// ListConversations retrieves conversations, newest activity first.
// A non-nil status restricts the result (the admin queue passes
// human_requested).
func (s *SQLiteStore) ListConversations(ctx context.Context, status *models.Status) ([]models.Conversation, error) {
	query := `
		SELECT id, client_id, admin_id, status, created_at, updated_at
		FROM conversations
	`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var idStr, st string
		if err := rows.Scan(&idStr, &conv.ClientID, &conv.AdminID, &st, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conv.ID = uuid.MustParse(idStr)
		conv.Status = models.Status(st)
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AppendMessage inserts a message and returns it with its assigned id.
// The status check and the insert happen in one transaction so an append
// can never slip in after the closing write.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, sender models.SenderType, content string) (*models.Message, error) {
	if !sender.Valid() {
		return nil, ErrInvalidSender
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	conv, err := getConversationTx(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, ErrAlreadyClosed
	}

	msg, err := insertMessageTx(ctx, tx, conversationID, sender, content)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertMessageTx(ctx context.Context, e execer, conversationID uuid.UUID, sender models.SenderType, content string) (*models.Message, error) {
	now := time.Now().UTC()
	res, err := e.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_type, content, sent_at)
		VALUES (?, ?, ?, ?)
	`, conversationID.String(), string(sender), content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		SentAt:         now,
	}, nil
}

// ListMessagesSince returns messages with id > afterID in ascending order.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, conversationID uuid.UUID, afterID int64, clientOnly bool) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_type, content, sent_at
		FROM messages
		WHERE conversation_id = ? AND id > ?
	`
	args := []interface{}{conversationID.String(), afterID}
	if clientOnly {
		query += ` AND sender_type = ?`
		args = append(args, string(models.SenderClient))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var convStr, sender string
		if err := rows.Scan(&msg.ID, &convStr, &sender, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		msg.ConversationID = uuid.MustParse(convStr)
		msg.Sender = models.SenderType(sender)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AssignAdmin atomically sets admin_id if it is unset, moves the
// conversation to human_assigned, and appends the joined system message.
func (s *SQLiteStore) AssignAdmin(ctx context.Context, conversationID uuid.UUID, adminID int64, joinedMessage string) (bool, *models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("assign admin: %w", err)
	}
	defer tx.Rollback()

	conv, err := getConversationTx(ctx, tx, conversationID)
	if err != nil {
		return false, nil, err
	}
	if conv.Status.Terminal() {
		return false, nil, ErrAlreadyClosed
	}
	if conv.AdminID != nil {
		if *conv.AdminID == adminID {
			// Idempotent re-assign by the winner.
			return false, nil, nil
		}
		return false, nil, ErrAlreadyAssigned
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET admin_id = ?, status = ?, updated_at = ? WHERE id = ?
	`, adminID, models.StatusHumanAssigned, now, conversationID.String()); err != nil {
		return false, nil, fmt.Errorf("assign admin: %w", err)
	}

	msg, err := insertMessageTx(ctx, tx, conversationID, models.SenderBot, joinedMessage)
	if err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("assign admin: %w", err)
	}
	return true, msg, nil
}

// RequestHuman moves bot -> human_requested.
func (s *SQLiteStore) RequestHuman(ctx context.Context, conversationID uuid.UUID) (bool, models.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("request human: %w", err)
	}
	defer tx.Rollback()

	conv, err := getConversationTx(ctx, tx, conversationID)
	if err != nil {
		return false, "", err
	}
	switch conv.Status {
	case models.StatusClosed:
		return false, conv.Status, ErrAlreadyClosed
	case models.StatusHumanRequested, models.StatusHumanAssigned:
		return false, conv.Status, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?
	`, models.StatusHumanRequested, now, conversationID.String()); err != nil {
		return false, "", fmt.Errorf("request human: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("request human: %w", err)
	}
	return true, models.StatusHumanRequested, nil
}

// CloseConversation moves the conversation to closed and appends the
// closing bot message in the same transaction.
func (s *SQLiteStore) CloseConversation(ctx context.Context, conversationID uuid.UUID, closingMessage string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}
	defer tx.Rollback()

	conv, err := getConversationTx(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, ErrAlreadyClosed
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?
	`, models.StatusClosed, now, conversationID.String()); err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}

	msg, err := insertMessageTx(ctx, tx, conversationID, models.SenderBot, closingMessage)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}
	return msg, nil
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash, email string, role models.Role) (*models.User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, username, passwordHash, email, string(role), now)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		Role:         role,
		CreatedAt:    now,
	}, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, email, role, created_at FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, email, role, created_at FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// EnsureSeedUsers guarantees the default guest client and admin accounts
// exist so the widget can open a conversation without a signup flow.
func (s *SQLiteStore) EnsureSeedUsers(ctx context.Context) (int64, error) {
	return ensureSeedUsers(ctx, s)
}
