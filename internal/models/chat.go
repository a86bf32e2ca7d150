package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// UnmarshalJSON rejects roles outside the known set so stored history
// never silently turns into an unknown author.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role := Role(s)
	if !role.Valid() {
		return fmt.Errorf("unknown message role %q", s)
	}
	*r = role
	return nil
}

// DefaultSessionTitle is the title of a session that has no messages yet
const DefaultSessionTitle = "New Chat"

// Message is one turn in a conversation
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one ordered conversation thread
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// ModelAPIKey is a user supplied credential for one model
type ModelAPIKey struct {
	ModelID string `json:"modelId"`
	APIKey  string `json:"apiKey"`
}

// ModelDescriptor describes an entry of the model catalog
type ModelDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Provider    string `json:"provider"`
	IsFree      bool   `json:"isFree"`
}

// ChatMessage is the role+content pair sent to a completion API
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewID returns a time-ordered identifier
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewMessage creates a message stamped with the current time
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Content:   content,
		Role:      role,
		Timestamp: time.Now(),
	}
}

// NewSession creates an empty session
func NewSession() Session {
	return Session{
		ID:        NewID(),
		Title:     DefaultSessionTitle,
		Messages:  []Message{},
		CreatedAt: time.Now(),
	}
}

// History returns the session messages stripped to role and content
func (s *Session) History() []ChatMessage {
	out := make([]ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
