package handlers

import (
	"net/http"
	"strconv"

	"github.com/Davezu/chatbot/internal/chat"
	"github.com/Davezu/chatbot/internal/models"
)

// StartConversation handles POST /conversations. It opens a conversation
// for the widget and returns the welcome message so the first render
// needs no extra poll.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	conv, msgs, err := h.chat.StartConversation(r.Context(), h.guest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]interface{}{
		"success":         true,
		"conversation_id": conv.ID,
		"status":          conv.Status,
		"messages":        msgs,
	})
}

// ListConversations handles GET /conversations (admin). The optional
// status filter drives the queue view, e.g. ?status=human_requested.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	var status *models.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.Status(raw)
		if !s.Valid() {
			h.Error(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		status = &s
	}

	convs, err := h.chat.ListConversations(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"conversations": convs,
	})
}

// GetMessages handles GET /conversations/{id}/messages. Query parameters:
//
//	after_id    watermark; only messages with a larger id are returned.
//	            Omitted or 0 means the full log (deep refresh).
//	client_only restrict to client messages (admin watchdog poll).
//	view=client apply the customer-widget suppression filter.
//
// The conversation status rides along so pollers track state transitions
// without a second request.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, err := conversationID(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var afterID int64
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		afterID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || afterID < 0 {
			h.Error(w, http.StatusBadRequest, "invalid after_id")
			return
		}
	}
	clientOnly := r.URL.Query().Get("client_only") == "1" || r.URL.Query().Get("client_only") == "true"

	conv, err := h.chat.Conversation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs, err := h.chat.MessagesSince(r.Context(), id, afterID, clientOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if r.URL.Query().Get("view") == "client" {
		msgs = chat.VisibleToClient(conv.Status, msgs)
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"status":   conv.Status,
		"messages": msgs,
	})
}
