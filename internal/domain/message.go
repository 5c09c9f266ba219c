package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one a caller may supply.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single transcript entry owned by a conversation store.
// Messages are immutable once created; ordering is insertion order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is the wire form of a message: role and content only.
// IDs and timestamps never cross the relay boundary.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Wire converts a transcript message to its wire form.
func (m Message) Wire() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// ChatRequest is the body of POST /api/chat: the full ordered history.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse is the relay's reply envelope. Exactly one of Message or
// Error is populated depending on Success.
type ChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	OK                   bool    `json:"ok"`
	Timestamp            string  `json:"timestamp"`
	UptimeSeconds        float64 `json:"uptime"`
	CredentialConfigured bool    `json:"credentialConfigured"`
	Environment          string  `json:"environment,omitempty"`
	Version              string  `json:"version,omitempty"`
}
