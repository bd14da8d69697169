// Package conversation holds the chat message model and its SQLite history.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable entry of a conversation.
type Message struct {
	ID        uuid.UUID
	Role      string
	Content   string
	Timestamp time.Time
}

// NewUserMessage returns a user message stamped with a fresh id.
func NewUserMessage(content string, at time.Time) Message {
	return Message{ID: uuid.New(), Role: RoleUser, Content: content, Timestamp: at}
}

// NewAssistantMessage returns an assistant message stamped with a fresh id.
func NewAssistantMessage(content string, at time.Time) Message {
	return Message{ID: uuid.New(), Role: RoleAssistant, Content: content, Timestamp: at}
}
