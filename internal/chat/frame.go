package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"pantry/internal/inventory"
)

// Frame types on the wire.
const (
	FrameMessage         = "message"
	FramePing            = "ping"
	FramePong            = "pong"
	FrameStatus          = "status"
	FrameUIMessage       = "ui_message"
	FrameInventoryUpdate = "inventory_update"
	FrameListUpdate      = "list_update"
	FrameError           = "error"
)

// Status values carried by status frames.
const (
	StatusConnected = "connected"
	StatusTyping    = "typing"
	StatusIdle      = "idle"
)

// Frame is an outbound frame.
type Frame struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// RawFrame is a frame whose payload has not been decoded yet.
type RawFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode serializes the frame once for every recipient.
func (f Frame) Encode() ([]byte, error) {
	if f.Payload == nil {
		f.Payload = struct{}{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// ParseFrame decodes one inbound websocket message.
func ParseFrame(data []byte) (RawFrame, error) {
	var f RawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return RawFrame{}, err
	}
	if f.Type == "" {
		return RawFrame{}, fmt.Errorf("frame has no type")
	}
	return f, nil
}

// MessageIn is the payload of an inbound "message" frame.
type MessageIn struct {
	ThreadID string `json:"threadId"`
	Content  string `json:"content"`
	ListID   string `json:"listId,omitempty"`
}

type StatusPayload struct {
	Status       string `json:"status"`
	ThreadID     string `json:"threadId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
}

type UIMessagePayload struct {
	ThreadID    string      `json:"threadId"`
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	MessageID   string      `json:"messageId"`
	IsStreaming bool        `json:"isStreaming"`
	UI          *UIEnvelope `json:"ui,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func newFrame(typ string, payload any) Frame {
	return Frame{Type: typ, Payload: payload, Timestamp: time.Now().UTC()}
}

func statusFrame(p StatusPayload) Frame {
	return newFrame(FrameStatus, p)
}

func messageFrame(m *Message) Frame {
	return newFrame(FrameMessage, m)
}

func uiMessageFrame(t *Turn, streaming bool) Frame {
	p := UIMessagePayload{
		ThreadID:    t.ThreadID,
		Role:        RoleAssistant,
		Content:     t.Text,
		MessageID:   t.AssistantID,
		IsStreaming: streaming,
	}
	if !streaming && t.UI != nil {
		p.UI = Envelope(t.UI)
	}
	return newFrame(FrameUIMessage, p)
}

func inventoryFrame(ev inventory.ItemEvent) Frame {
	return newFrame(FrameInventoryUpdate, ev)
}

func listFrame(ev inventory.ListEvent) Frame {
	return newFrame(FrameListUpdate, ev)
}

func errorFrame(msg string) Frame {
	return newFrame(FrameError, ErrorPayload{Error: msg})
}

func pongFrame() Frame {
	return newFrame(FramePong, struct{}{})
}

// NewClientFrame builds an inbound-style frame for clients to send.
func NewClientFrame(typ string, payload any) Frame {
	return newFrame(typ, payload)
}
