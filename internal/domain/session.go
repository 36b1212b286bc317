// Package domain contains core domain types for the agentdesk server.
package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/ashureev/agentdesk/internal/llm"
)

// Transcript senders.
const (
	SenderUser   = "User"
	SenderAI     = "AI"
	SenderSystem = "System"
)

// ValidSender reports whether s is one of the transcript senders.
func ValidSender(s string) bool {
	switch s {
	case SenderUser, SenderAI, SenderSystem:
		return true
	}
	return false
}

// ChatMessage is one transcript entry.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a logical conversation scoped to a (user, session) pair.
type Session struct {
	UserID         string                   `json:"user_id"`
	SessionID      string                   `json:"session_id"`
	Transcript     []ChatMessage            `json:"transcript"`
	AgentHistories map[string][]llm.Message `json:"agent_histories"`

	WebsiteURL      string `json:"website_url,omitempty"`
	WebsiteProvided bool   `json:"website_provided"`
	ScreenshotPath  string `json:"screenshot_path,omitempty"`
	FaviconPath     string `json:"favicon_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns an empty session for the pair.
func NewSession(userID, sessionID string) *Session {
	now := time.Now()
	return &Session{
		UserID:         userID,
		SessionID:      sessionID,
		AgentHistories: make(map[string][]llm.Message),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsNew reports whether nothing has been said in the session yet.
func (s *Session) IsNew() bool {
	return len(s.Transcript) == 0
}

// Append records a transcript entry and bumps UpdatedAt.
func (s *Session) Append(sender, agent, message string) ChatMessage {
	msg := ChatMessage{
		Sender:    sender,
		Message:   message,
		Agent:     agent,
		Timestamp: time.Now(),
	}
	s.Transcript = append(s.Transcript, msg)
	s.UpdatedAt = msg.Timestamp
	return msg
}

// History returns the stored memory for an agent.
func (s *Session) History(agent string) []llm.Message {
	return s.AgentHistories[agent]
}

// SetHistory replaces the stored memory for an agent.
func (s *Session) SetHistory(agent string, msgs []llm.Message) {
	if s.AgentHistories == nil {
		s.AgentHistories = make(map[string][]llm.Message)
	}
	s.AgentHistories[agent] = msgs
}

// Clone returns a copy that shares no slices or maps with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Transcript = slices.Clone(s.Transcript)
	c.AgentHistories = make(map[string][]llm.Message, len(s.AgentHistories))
	for name, msgs := range s.AgentHistories {
		c.AgentHistories[name] = slices.Clone(msgs)
	}
	return &c
}

// AgentNames returns the agents with stored memory, sorted.
func (s *Session) AgentNames() []string {
	return slices.Sorted(maps.Keys(s.AgentHistories))
}
