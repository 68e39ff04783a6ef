package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	// StatusBot is the initial state: the rule-based bot answers the client.
	StatusBot Status = "bot"
	// StatusHumanRequested means the client asked for a human agent and is
	// waiting for one to pick the conversation up.
	StatusHumanRequested Status = "human_requested"
	// StatusHumanAssigned means an admin owns the conversation.
	StatusHumanAssigned Status = "human_assigned"
	// StatusClosed is terminal. The record persists for history.
	StatusClosed Status = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusBot, StatusHumanRequested, StatusHumanAssigned, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusClosed
}

// Conversation is a single support chat between one client and (at most)
// one admin. admin_id is set exactly once and never cleared, even after
// the conversation closes.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	ClientID  int64     `json:"client_id"`
	AdminID   *int64    `json:"admin_id,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
