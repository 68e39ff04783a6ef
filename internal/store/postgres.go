package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Davezu/chatbot/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		email TEXT DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('client', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES users(id),
		admin_id BIGINT REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'bot'
			CHECK (status IN ('bot', 'human_requested', 'human_assigned', 'closed')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		sender_type TEXT NOT NULL CHECK (sender_type IN ('bot', 'client', 'admin')),
		content TEXT NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateConversation creates a new conversation in the initial bot status.
func (s *PostgresStore) CreateConversation(ctx context.Context, clientID int64) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, client_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, client_id, admin_id, status, created_at, updated_at
	`, uuid.New(), clientID, models.StatusBot).Scan(
		&conv.ID,
		&conv.ClientID,
		&conv.AdminID,
		&conv.Status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, client_id, admin_id, status, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&conv.ID,
		&conv.ClientID,
		&conv.AdminID,
		&conv.Status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// lockConversation loads a conversation row FOR UPDATE inside tx, making
// the caller the only writer of its status/admin_id until commit.
func lockConversation(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := tx.QueryRow(ctx, `
		SELECT id, client_id, admin_id, status, created_at, updated_at
		FROM conversations WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&conv.ID,
		&conv.ClientID,
		&conv.AdminID,
		&conv.Status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	return conv, nil
}

// ListConversations retrieves conversations, newest activity first.
func (s *PostgresStore) ListConversations(ctx context.Context, status *models.Status) ([]models.Conversation, error) {
	query := `
		SELECT id, client_id, admin_id, status, created_at, updated_at
		FROM conversations
	`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.ClientID, &conv.AdminID, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AppendMessage inserts a message and returns it with its assigned id.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, sender models.SenderType, content string) (*models.Message, error) {
	if !sender.Valid() {
		return nil, ErrInvalidSender
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, ErrAlreadyClosed
	}

	msg, err := insertMessagePg(ctx, tx, conversationID, sender, content)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func insertMessagePg(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, sender models.SenderType, content string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_type, content)
		VALUES ($1, $2, $3)
		RETURNING id, sent_at
	`, conversationID, string(sender), content).Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListMessagesSince returns messages with id > afterID in ascending order.
func (s *PostgresStore) ListMessagesSince(ctx context.Context, conversationID uuid.UUID, afterID int64, clientOnly bool) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_type, content, sent_at
		FROM messages
		WHERE conversation_id = $1 AND id > $2
	`
	args := []interface{}{conversationID, afterID}
	if clientOnly {
		query += ` AND sender_type = $3`
		args = append(args, string(models.SenderClient))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AssignAdmin atomically sets admin_id if it is unset, moves the
// conversation to human_assigned, and appends the joined system message.
func (s *PostgresStore) AssignAdmin(ctx context.Context, conversationID uuid.UUID, adminID int64, joinedMessage string) (bool, *models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("assign admin: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, conversationID)
	if err != nil {
		return false, nil, err
	}
	if conv.Status.Terminal() {
		return false, nil, ErrAlreadyClosed
	}
	if conv.AdminID != nil {
		if *conv.AdminID == adminID {
			return false, nil, nil
		}
		return false, nil, ErrAlreadyAssigned
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET admin_id = $1, status = $2, updated_at = NOW() WHERE id = $3
	`, adminID, models.StatusHumanAssigned, conversationID); err != nil {
		return false, nil, fmt.Errorf("assign admin: %w", err)
	}

	msg, err := insertMessagePg(ctx, tx, conversationID, models.SenderBot, joinedMessage)
	if err != nil {
		return false, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("assign admin: %w", err)
	}
	return true, msg, nil
}

// RequestHuman moves bot -> human_requested.
func (s *PostgresStore) RequestHuman(ctx context.Context, conversationID uuid.UUID) (bool, models.Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, "", fmt.Errorf("request human: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, conversationID)
	if err != nil {
		return false, "", err
	}
	switch conv.Status {
	case models.StatusClosed:
		return false, conv.Status, ErrAlreadyClosed
	case models.StatusHumanRequested, models.StatusHumanAssigned:
		return false, conv.Status, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET status = $1, updated_at = NOW() WHERE id = $2
	`, models.StatusHumanRequested, conversationID); err != nil {
		return false, "", fmt.Errorf("request human: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, "", fmt.Errorf("request human: %w", err)
	}
	return true, models.StatusHumanRequested, nil
}

// CloseConversation moves the conversation to closed and appends the
// closing bot message in the same transaction.
func (s *PostgresStore) CloseConversation(ctx context.Context, conversationID uuid.UUID, closingMessage string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, ErrAlreadyClosed
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET status = $1, updated_at = NOW() WHERE id = $2
	`, models.StatusClosed, conversationID); err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}

	msg, err := insertMessagePg(ctx, tx, conversationID, models.SenderBot, closingMessage)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}
	return msg, nil
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash, email string, role models.Role) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, email, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, password_hash, email, role, created_at
	`, username, passwordHash, email, string(role)).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, email, role, created_at FROM users WHERE id = $1`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, email, role, created_at FROM users WHERE username = $1`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// EnsureSeedUsers guarantees the default guest client and admin accounts
// exist so the widget can open a conversation without a signup flow.
func (s *PostgresStore) EnsureSeedUsers(ctx context.Context) (int64, error) {
	return ensureSeedUsers(ctx, s)
}
