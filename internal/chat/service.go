// Package chat implements the conversation state machine and escalation
// rules: who may write to a conversation, how it moves between bot-handled
// and human-handled states, and which system messages accompany each
// transition. All writers go through this service; nothing mutates a
// conversation's status directly.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Davezu/chatbot/internal/bot"
	"github.com/Davezu/chatbot/internal/metrics"
	"github.com/Davezu/chatbot/internal/models"
	"github.com/Davezu/chatbot/internal/store"
)

// ErrNotYourConversation means an admin tried to post to or close a
// conversation that is assigned to a different admin. This is an access
// check, not a silent no-op.
var ErrNotYourConversation = errors.New("conversation is assigned to another admin")

// Service coordinates the message store, the state machine and the bot
// responder.
type Service struct {
	store     store.DataStore
	responder bot.Responder
	logger    zerolog.Logger
}

// NewService creates a chat service.
func NewService(ds store.DataStore, responder bot.Responder, logger zerolog.Logger) *Service {
	return &Service{
		store:     ds,
		responder: responder,
		logger:    logger.With().Str("component", "chat").Logger(),
	}
}

// StartConversation opens a fresh conversation for a client and appends
// the welcome message. The returned conversation id is the handle the
// widget holds for its whole lifetime.
func (s *Service) StartConversation(ctx context.Context, clientID int64) (*models.Conversation, []models.Message, error) {
	conv, err := s.store.CreateConversation(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	welcome, err := s.store.AppendMessage(ctx, conv.ID, models.SenderBot, WelcomeText)
	if err != nil {
		return nil, nil, err
	}
	metrics.ConversationsStarted.Inc()
	s.logger.Debug().Str("conversation_id", conv.ID.String()).Msg("conversation started")
	return conv, []models.Message{*welcome}, nil
}

// Conversation returns conversation metadata.
func (s *Service) Conversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// ListConversations returns conversations for the admin console, newest
// activity first, optionally restricted to one status.
func (s *Service) ListConversations(ctx context.Context, status *models.Status) ([]models.Conversation, error) {
	return s.store.ListConversations(ctx, status)
}

// SendClientMessage appends the client's message and, unless a human
// agent owns the conversation, runs the bot over it. A confident bot
// reply is appended directly; otherwise the escalation-offer fallback is.
// Bot output surfaces to the widget through the next poll, so only the
// client message is returned.
func (s *Service) SendClientMessage(ctx context.Context, conversationID uuid.UUID, text string) (*models.Message, error) {
	msg, err := s.store.AppendMessage(ctx, conversationID, models.SenderClient, html.EscapeString(text))
	if err != nil {
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues(string(models.SenderClient)).Inc()

	// Re-read status: an admin may have been assigned between the widget
	// loading and this send.
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.StatusHumanAssigned {
		// The agent answers; the bot stays out of it.
		return msg, nil
	}

	reply, ok := s.responder.Respond(text)
	if !ok {
		reply = fallbackText
		metrics.BotFallbacks.Inc()
	}
	if _, err := s.store.AppendMessage(ctx, conversationID, models.SenderBot, reply); err != nil {
		// The client message is already durable; losing the bot reply is
		// worth surfacing to the write path.
		return nil, fmt.Errorf("append bot reply: %w", err)
	}
	metrics.MessagesAppended.WithLabelValues(string(models.SenderBot)).Inc()
	return msg, nil
}

// SendAdminMessage appends an admin's message. If the conversation has no
// admin yet, the sender becomes its owner first (first-responder-wins) and
// the agent-joined system message is appended atomically with the
// assignment; that system message is returned alongside the admin message
// so the console can render it without waiting for the next poll.
func (s *Service) SendAdminMessage(ctx context.Context, conversationID uuid.UUID, adminID int64, text string) (*models.Message, *models.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv.Status.Terminal() {
		return nil, nil, store.ErrAlreadyClosed
	}

	var systemMsg *models.Message
	if conv.AdminID == nil {
		systemMsg, err = s.assign(ctx, conversationID, adminID)
		if err != nil {
			return nil, nil, err
		}
	} else if *conv.AdminID != adminID {
		return nil, nil, ErrNotYourConversation
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, models.SenderAdmin, html.EscapeString(text))
	if err != nil {
		return nil, nil, err
	}
	metrics.MessagesAppended.WithLabelValues(string(models.SenderAdmin)).Inc()
	return msg, systemMsg, nil
}

// assign runs the store-level compare-and-set and absorbs the losing side
// of a race: if another admin won in the meantime the caller gets
// ErrNotYourConversation, and if this admin already won it is a no-op.
func (s *Service) assign(ctx context.Context, conversationID uuid.UUID, adminID int64) (*models.Message, error) {
	admin, err := s.store.GetUserByID(ctx, adminID)
	if err != nil {
		return nil, err
	}

	assigned, systemMsg, err := s.store.AssignAdmin(ctx, conversationID, adminID, JoinedText(admin.Username))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyAssigned) {
			return nil, ErrNotYourConversation
		}
		return nil, err
	}
	if assigned {
		metrics.AdminAssignments.Inc()
		s.logger.Info().
			Str("conversation_id", conversationID.String()).
			Int64("admin_id", adminID).
			Msg("admin assigned")
	}
	return systemMsg, nil
}

// Assign is the explicit self-assign action from the admin queue. It
// returns whether this call performed the assignment; a repeat call by
// the same admin is a no-op so idempotent console navigation stays cheap.
// A different admin already owning the conversation is ErrAlreadyAssigned.
func (s *Service) Assign(ctx context.Context, conversationID uuid.UUID, adminID int64) (bool, error) {
	admin, err := s.store.GetUserByID(ctx, adminID)
	if err != nil {
		return false, err
	}

	assigned, _, err := s.store.AssignAdmin(ctx, conversationID, adminID, JoinedText(admin.Username))
	if err != nil {
		return false, err
	}
	if assigned {
		metrics.AdminAssignments.Inc()
		s.logger.Info().
			Str("conversation_id", conversationID.String()).
			Int64("admin_id", adminID).
			Msg("admin assigned")
	}
	return assigned, nil
}

// RequestHuman escalates the conversation: the optional problem text is
// recorded as a client message, the status moves to human_requested
// (idempotently), and the "connecting you to an agent" notice is appended.
// Once an agent is already assigned the call leaves everything untouched.
func (s *Service) RequestHuman(ctx context.Context, conversationID uuid.UUID, problemText string) (models.Status, error) {
	if problemText != "" {
		if _, err := s.store.AppendMessage(ctx, conversationID, models.SenderClient, html.EscapeString(problemText)); err != nil {
			return "", err
		}
		metrics.MessagesAppended.WithLabelValues(string(models.SenderClient)).Inc()
	}

	changed, status, err := s.store.RequestHuman(ctx, conversationID)
	if err != nil {
		return status, err
	}
	if status == models.StatusHumanAssigned {
		return status, nil
	}

	if _, err := s.store.AppendMessage(ctx, conversationID, models.SenderBot, connectingText); err != nil {
		return status, err
	}
	metrics.MessagesAppended.WithLabelValues(string(models.SenderBot)).Inc()
	if changed {
		metrics.EscalationsRequested.Inc()
		s.logger.Info().Str("conversation_id", conversationID.String()).Msg("human assistance requested")
	}
	return status, nil
}

// Close terminates the conversation with a closing message (the default
// wording when text is empty). When an agent owns the conversation only
// that agent may close it; an unassigned conversation may be closed by
// any admin.
func (s *Service) Close(ctx context.Context, conversationID uuid.UUID, adminID int64, closingText string) (*models.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.StatusHumanAssigned && conv.AdminID != nil && *conv.AdminID != adminID {
		return nil, ErrNotYourConversation
	}

	if closingText == "" {
		closingText = DefaultClosingText
	}
	msg, err := s.store.CloseConversation(ctx, conversationID, closingText)
	if err != nil {
		return nil, err
	}
	metrics.ConversationsClosed.Inc()
	s.logger.Info().
		Str("conversation_id", conversationID.String()).
		Int64("admin_id", adminID).
		Msg("conversation closed")
	return msg, nil
}

// MessagesSince returns the message delta after the caller's watermark.
func (s *Service) MessagesSince(ctx context.Context, conversationID uuid.UUID, afterID int64, clientOnly bool) ([]models.Message, error) {
	return s.store.ListMessagesSince(ctx, conversationID, afterID, clientOnly)
}

// VisibleToClient applies the customer-widget display filter: once a
// human agent is assigned, historical bot chatter is hidden except for
// agent-joined notices. This is purely a view concern; nothing is removed
// from the store and the admin console always sees the full log.
func VisibleToClient(status models.Status, msgs []models.Message) []models.Message {
	if status != models.StatusHumanAssigned {
		return msgs
	}
	filtered := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Sender == models.SenderBot && !IsJoinNotice(m.Content) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}
