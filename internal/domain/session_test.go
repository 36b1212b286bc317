package domain

import (
	"testing"

	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAppendAndClone(t *testing.T) {
	s := NewSession("u1", "s1")
	require.True(t, s.IsNew())

	s.Append(SenderAI, "Coordinator", "hello")
	s.SetHistory("Coordinator", []llm.Message{{Role: llm.RoleAssistant, Text: "hello"}})
	assert.False(t, s.IsNew())

	c := s.Clone()
	c.Append(SenderUser, "", "hi")
	c.SetHistory("Coordinator", nil)

	assert.Len(t, s.Transcript, 1)
	assert.Len(t, s.History("Coordinator"), 1)
	assert.Len(t, c.Transcript, 2)
}

func TestValidSender(t *testing.T) {
	for _, s := range []string{SenderUser, SenderAI, SenderSystem} {
		assert.True(t, ValidSender(s), s)
	}
	assert.False(t, ValidSender("assistant"))
}

func TestRequestStatusTerminal(t *testing.T) {
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusDisconnected.Terminal(), "disconnected requests are still running")
	for _, s := range []RequestStatus{StatusCompleted, StatusError, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestAgentNamesSorted(t *testing.T) {
	s := NewSession("u", "s")
	s.SetHistory("b", nil)
	s.SetHistory("a", nil)
	assert.Equal(t, []string{"a", "b"}, s.AgentNames())
}

func TestNewEventStampsTime(t *testing.T) {
	ev := NewEvent(EventAck)
	assert.Equal(t, EventAck, ev.Type)
	assert.Positive(t, ev.Timestamp)
}
