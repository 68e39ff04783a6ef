package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Davezu/chatbot/internal/models"
	"github.com/Davezu/chatbot/internal/store"
)

type contextKey string

const adminContextKey contextKey = "admin"

// AuthMiddleware resolves the X-Chat-Admin header into an admin account
// for console endpoints. The header carries the admin's user id obtained
// from POST /login.
type AuthMiddleware struct {
	ds store.DataStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(ds store.DataStore) *AuthMiddleware {
	return &AuthMiddleware{ds: ds}
}

// RequireAdmin rejects requests that do not identify a known admin user.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Chat-Admin")
		if raw == "" {
			jsonError(w, http.StatusUnauthorized, "missing X-Chat-Admin header")
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid admin id")
			return
		}

		user, err := m.ds.GetUserByID(r.Context(), id)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "unknown admin")
			return
		}
		if !user.IsAdmin() {
			jsonError(w, http.StatusForbidden, "admin role required")
			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": message})
}

// AdminFromContext retrieves the authenticated admin from the request
// context. ok is false outside RequireAdmin-wrapped handlers.
func AdminFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(adminContextKey).(*models.User)
	return user, ok
}
