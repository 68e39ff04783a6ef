package chat

import (
	"fmt"
	"strings"
)

// Canned protocol texts. These are part of the delivery protocol, not the
// responder's rule set: the fallback offer and its action affordances must
// look the same no matter which responder is plugged in.
const (
	// WelcomeText opens every new conversation.
	WelcomeText = "Welcome to our Bus Rental service! How can I assist you today? " +
		"You can use the quick question buttons above or type your own question."

	// fallbackText is appended when the bot cannot answer. The embedded
	// anchors are the two affordances the widget renders as buttons:
	// connect to an agent, or dismiss.
	fallbackText = "I'm sorry, but I don't have enough information to answer your question properly. " +
		"Would you like to talk to a customer service representative who can help you better? " +
		`<div class="chat-actions"><a href="#" data-action="request-human">Yes, connect me with an agent</a> ` +
		`<a href="#" data-action="dismiss">No, I'll ask something else</a></div>`

	// connectingText is appended after a human is requested.
	connectingText = "Thank you for your patience. I'm connecting you with one of our customer service " +
		"representatives who will be able to help you better. Please wait a moment while I transfer your " +
		"conversation to an available agent. They'll join the chat as soon as possible."

	// DefaultClosingText is used when the closing admin provides none.
	DefaultClosingText = "This conversation has been closed by the customer service agent. " +
		"If you have additional questions, you can start a new conversation."

	// joinMarker tags agent-joined notices. The client view suppresses
	// all historical bot messages after assignment except ones carrying
	// this marker.
	joinMarker = "has joined the conversation"
)

// JoinedText builds the system message announcing that an agent took over.
func JoinedText(adminName string) string {
	return fmt.Sprintf("Customer service representative %s %s and will assist you shortly.", adminName, joinMarker)
}

// IsJoinNotice reports whether a bot message announces an agent joining.
func IsJoinNotice(content string) bool {
	return strings.Contains(content, joinMarker)
}
