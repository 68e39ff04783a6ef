package models

import "time"

// Role distinguishes end users of the widget from support staff.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// User is a registered account. Clients are created implicitly when the
// widget opens; admins are seeded or provisioned out of band.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user may act on the admin console endpoints.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
