package domain

import "time"

// EventType discriminates server-to-client frames.
type EventType string

const (
	EventConnectionStatus EventType = "connection_status"
	EventAck              EventType = "ack"
	EventProcessingStart  EventType = "processing_start"
	EventAgentThinking    EventType = "agent_thinking"
	EventAgentUpdate      EventType = "agent_update"
	EventToolExecution    EventType = "tool_execution"
	EventToolResult       EventType = "tool_result"
	EventAgentResponse    EventType = "agent_response"
	EventError            EventType = "error"
)

// Event is a server-to-client frame. Timestamp is epoch milliseconds.
type Event struct {
	Type        EventType      `json:"type"`
	Timestamp   int64          `json:"timestamp"`
	RequestID   string         `json:"requestId,omitempty"`
	Agent       string         `json:"agent,omitempty"`
	Message     string         `json:"message,omitempty"`
	Status      string         `json:"status,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Final       bool           `json:"final,omitempty"`
}

// NewEvent stamps an event of the given type with the current time.
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now().UnixMilli()}
}

// ClientMessage is a client-to-server frame.
type ClientMessage struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Emitter delivers events to live connections. Send reports whether the
// connection was present; a missing connection is not an error.
type Emitter interface {
	Send(connectionID string, ev Event) bool
	Broadcast(ev Event) int
}
