package models

import (
	"time"

	"github.com/google/uuid"
)

// SenderType identifies who authored a message. It is a closed set, not an
// open string: the store rejects anything else.
type SenderType string

const (
	SenderBot    SenderType = "bot"
	SenderClient SenderType = "client"
	SenderAdmin  SenderType = "admin"
)

// Valid reports whether t is one of the known sender types.
func (t SenderType) Valid() bool {
	switch t {
	case SenderBot, SenderClient, SenderAdmin:
		return true
	}
	return false
}

// Message is one entry in a conversation's append-only log.
//
// ID is assigned by the store at insertion time and is strictly increasing
// across the whole store. Pollers use it as their watermark, so gaps are
// fine but reordering is not. Messages are immutable once written.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Sender         SenderType `json:"sender_type"`
	Content        string     `json:"content"`
	SentAt         time.Time  `json:"sent_at"`
}
