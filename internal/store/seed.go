package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Davezu/chatbot/internal/models"
)

// Default accounts. The widget has no signup flow: anonymous visitors all
// act as the guest client, and the seeded admin exists so the console is
// usable on a fresh database. Deployments are expected to change the
// admin password out of band.
const (
	seedGuestUsername = "guest"
	seedGuestPassword = "guest"
	seedAdminUsername = "admin"
	seedAdminPassword = "admin"
)

// userSeeder is the slice of DataStore that seeding needs.
type userSeeder interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, username, passwordHash, email string, role models.Role) (*models.User, error)
}

func ensureSeedUsers(ctx context.Context, s userSeeder) (int64, error) {
	guest, err := ensureUser(ctx, s, seedGuestUsername, seedGuestPassword, "guest@example.com", models.RoleClient)
	if err != nil {
		return 0, err
	}
	if _, err := ensureUser(ctx, s, seedAdminUsername, seedAdminPassword, "admin@example.com", models.RoleAdmin); err != nil {
		return 0, err
	}
	return guest.ID, nil
}

func ensureUser(ctx context.Context, s userSeeder, username, password, email string, role models.Role) (*models.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	user, err = s.CreateUser(ctx, username, string(hash), email, role)
	if err != nil {
		// Another instance may have seeded concurrently.
		if existing, lookupErr := s.GetUserByUsername(ctx, username); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return user, nil
}
