package chat

import "time"

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Thread struct {
	ID             string    `json:"id"`
	HomeID         string    `json:"homeId"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	UserID    string    `json:"userId,omitempty"` // empty for assistant rows
	CreatedAt time.Time `json:"createdAt"`
}

// ---------------------------------------------
// Internal turn model
// ---------------------------------------------

// TurnState tracks one user message and its assistant reply.
type TurnState string

const (
	TurnPending   TurnState = "pending"
	TurnStreaming TurnState = "streaming"
	TurnComplete  TurnState = "complete"
	TurnFailed    TurnState = "failed"
)

// Turn is the in-memory accumulator for a reply. Only the goroutine running
// the turn touches it.
type Turn struct {
	ThreadID    string
	HomeID      string
	UserID      string
	Content     string
	AssistantID string
	Text        string
	UI          UI
	Tools       []ToolResult
	State       TurnState
	StartedAt   time.Time
}
