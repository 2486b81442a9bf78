package chat

import (
	"context"
	"iter"
)

// IntentUnknown is stored when classification fails.
const IntentUnknown = "unknown"

// Agent produces an assistant reply as a stream of chunks. The sequence
// yields a non-nil error at most once and then stops. Implementations must
// honour ctx cancellation.
type Agent interface {
	Reply(ctx context.Context, req ReplyRequest) iter.Seq2[ReplyChunk, error]
}

// Classifier labels a piece of text with an intent. Failures are tolerated.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

type ReplyRequest struct {
	HomeID   string
	UserID   string
	ThreadID string
	ListID   string
	// History is oldest first and ends with the user's message.
	History []Message
	Home    *HomeContext
}

// ReplyChunk is either a text delta or a completed tool call.
type ReplyChunk struct {
	Text string
	Tool *ToolResult
}

type ToolResult struct {
	Name   string
	Result any
	UI     UI
}

// TextChunk and ToolChunk build chunks for agent implementations.
func TextChunk(s string) ReplyChunk { return ReplyChunk{Text: s} }

func ToolChunk(name string, result any, ui UI) ReplyChunk {
	return ReplyChunk{Tool: &ToolResult{Name: name, Result: result, UI: ui}}
}
