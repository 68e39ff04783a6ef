package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage handles POST /conversations/{id}/messages, the client send
// path. The append and the bot's reply happen server-side; the widget
// picks the reply up on its next poll, so only the client message id is
// returned here.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
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

	msg, err := h.chat.SendClientMessage(r.Context(), id, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	conv, err := h.chat.Conversation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"message_id": msg.ID,
		"status":     conv.Status,
	})
}

type requestHumanRequest struct {
	Content string `json:"content"`
}

// RequestHuman handles POST /conversations/{id}/request-human. The
// optional content is the client's problem description, recorded before
// the escalation so the picking agent sees it. Safe to repeat.
func (h *Handler) RequestHuman(w http.ResponseWriter, r *http.Request) {
	id, err := conversationID(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req requestHumanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	status, err := h.chat.RequestHuman(r.Context(), id, strings.TrimSpace(req.Content))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "a customer service representative will be with you shortly",
		"status":  status,
	})
}
