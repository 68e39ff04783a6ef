package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Davezu/chatbot/internal/api/middleware"
)

// SendAdminMessage handles POST /conversations/{id}/admin-messages. The
// first admin to write to an unassigned conversation becomes its owner;
// the agent-joined system message produced by that assignment is returned
// so the console renders it immediately.
func (h *Handler) SendAdminMessage(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	id, err := conversationID(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		h.Error(w, http.StatusBadRequest, "message content is required")
		return
	}

	msg, systemMsg, err := h.chat.SendAdminMessage(r.Context(), id, admin.ID, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"success":    true,
		"message_id": msg.ID,
	}
	if systemMsg != nil {
		resp["system_message"] = systemMsg
	}
	h.JSON(w, http.StatusCreated, resp)
}

// AssignConversation handles POST /conversations/{id}/assign, the explicit
// pick-up action from the admin queue. assigned=false with success=true
// means this admin already owned the conversation.
func (h *Handler) AssignConversation(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	id, err := conversationID(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	assigned, err := h.chat.Assign(r.Context(), id, admin.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	conv, err := h.chat.Conversation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"assigned": assigned,
		"status":   conv.Status,
	})
}

type closeRequest struct {
	Message string `json:"message"`
}

// CloseConversation handles POST /conversations/{id}/close. An empty
// message falls back to the default closing wording.
func (h *Handler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	id, err := conversationID(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req closeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	msg, err := h.chat.Close(r.Context(), id, admin.ID, strings.TrimSpace(req.Message))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"closing_message": msg,
	})
}
