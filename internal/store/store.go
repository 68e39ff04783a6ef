package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Davezu/chatbot/internal/models"
)

// Sentinel errors returned by DataStore implementations. Anything else
// coming out of a store call is an underlying persistence failure and is
// wrapped with context by the implementation.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	// ErrAlreadyAssigned means a different admin already owns the
	// conversation. Re-assignment by the same admin is a silent no-op,
	// not an error.
	ErrAlreadyAssigned = errors.New("conversation already assigned to another admin")
	// ErrAlreadyClosed means the conversation is terminal: no transition
	// or client/admin append is accepted anymore.
	ErrAlreadyClosed = errors.New("conversation already closed")
	ErrInvalidSender = errors.New("invalid sender type")
)

// DataStore is the persistence contract for conversations, their
// append-only message logs, and user accounts. Both PostgresStore and
// SQLiteStore implement this interface.
//
// A status transition and the system message that accompanies it are one
// atomic unit: AssignAdmin and CloseConversation apply both writes or
// neither, and a concurrent poller can never observe the pair half-done.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Conversation operations
	CreateConversation(ctx context.Context, clientID int64) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, status *models.Status) ([]models.Conversation, error)

	// AppendMessage assigns a strictly increasing id and rejects any
	// append on a closed conversation; the closing message itself is
	// written inside CloseConversation's transaction instead.
	AppendMessage(ctx context.Context, conversationID uuid.UUID, sender models.SenderType, content string) (*models.Message, error)

	// ListMessagesSince returns messages with id > afterID in ascending id
	// order. afterID 0 means from the beginning. clientOnly restricts the
	// result to sender_type=client (admin console watchdog).
	ListMessagesSince(ctx context.Context, conversationID uuid.UUID, afterID int64, clientOnly bool) ([]models.Message, error)

	// AssignAdmin is a compare-and-set on admin_id. Exactly one caller
	// ever gets assigned=true for a conversation; that call also moves the
	// status to human_assigned and appends joinedMessage in the same
	// transaction, returning the appended message. A repeat call by the
	// winning admin returns (false, nil, nil).
	AssignAdmin(ctx context.Context, conversationID uuid.UUID, adminID int64, joinedMessage string) (assigned bool, msg *models.Message, err error)

	// RequestHuman moves bot -> human_requested. Calling it again while
	// already human_requested is a no-op (changed=false). It never
	// downgrades a human_assigned conversation. The returned status is
	// the status after the call.
	RequestHuman(ctx context.Context, conversationID uuid.UUID) (changed bool, status models.Status, err error)

	// CloseConversation moves any non-terminal status to closed and
	// appends the closing bot message atomically, returning it.
	CloseConversation(ctx context.Context, conversationID uuid.UUID, closingMessage string) (*models.Message, error)

	// User operations
	CreateUser(ctx context.Context, username, passwordHash, email string, role models.Role) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// EnsureSeedUsers makes sure a default guest client and a default
	// admin account exist, returning the guest's id. Idempotent.
	EnsureSeedUsers(ctx context.Context) (guestID int64, err error)
}
