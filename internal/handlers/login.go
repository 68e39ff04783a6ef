package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/Davezu/chatbot/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /login. On success the caller gets its user record;
// admins then pass their id in the X-Chat-Admin header on console calls.
// Wrong username and wrong password are indistinguishable on purpose.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.ds.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.fail(w, r, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.logger.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("login")
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}
