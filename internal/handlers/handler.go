package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Davezu/chatbot/internal/chat"
	"github.com/Davezu/chatbot/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat   *chat.Service
	ds     store.DataStore
	redis  *store.RedisStore // nil when rate limiting is disabled
	guest  int64             // seeded guest client id, owner of widget conversations
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(chatSvc *chat.Service, ds store.DataStore, redis *store.RedisStore, guestID int64, logger zerolog.Logger) *Handler {
	return &Handler{
		chat:   chatSvc,
		ds:     ds,
		redis:  redis,
		guest:  guestID,
		logger: logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends the protocol failure envelope with the given status code.
// Callers treat any non-success as transient: the message is
// human-readable, there are no structured error codes.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]interface{}{"success": false, "message": message})
}

// fail maps domain errors onto the failure envelope. Internal diagnostics
// stay in the log; the caller only gets a generic reason.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		h.Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrUserNotFound):
		h.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, store.ErrAlreadyClosed):
		h.Error(w, http.StatusConflict, "this conversation is closed")
	case errors.Is(err, store.ErrAlreadyAssigned), errors.Is(err, chat.ErrNotYourConversation):
		h.Error(w, http.StatusForbidden, "conversation is handled by another agent")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

// conversationID parses the {id} URL parameter.
func conversationID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}
