package ws

import (
	"strconv"
	"sync"
	"testing"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/coder/websocket"
)

func TestManager_Register(t *testing.T) {
	m := NewManager()
	conn := &websocket.Conn{}

	m.Register("u1_s1", conn)

	if got := m.Get("u1_s1"); got != conn {
		t.Errorf("Expected connection %v, got %v", conn, got)
	}
	if m.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", m.Count())
	}
}

func TestManager_Unregister(t *testing.T) {
	m := NewManager()
	conn := &websocket.Conn{}

	m.Register("u1_s1", conn)
	if !m.Unregister("u1_s1", conn) {
		t.Fatal("Expected unregister to remove the connection")
	}
	if got := m.Get("u1_s1"); got != nil {
		t.Errorf("Expected nil connection, got %v", got)
	}
}

func TestManager_UnregisterReplaced(t *testing.T) {
	m := NewManager()
	old := &websocket.Conn{}
	fresh := &websocket.Conn{}

	m.Register("u1_s1", old)
	m.Register("u1_s1", fresh)

	// The replaced socket's cleanup must not remove its successor.
	if m.Unregister("u1_s1", old) {
		t.Fatal("Expected stale unregister to be ignored")
	}
	if got := m.Get("u1_s1"); got != fresh {
		t.Errorf("Expected connection %v, got %v", fresh, got)
	}
}

func TestManager_SendToMissingConnection(t *testing.T) {
	m := NewManager()
	if m.Send("nobody", domain.NewEvent(domain.EventAck)) {
		t.Error("Expected send to a missing connection to report false")
	}
	if n := m.Broadcast(domain.NewEvent(domain.EventAgentUpdate)); n != 0 {
		t.Errorf("Expected broadcast to reach 0 connections, got %d", n)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Register("u_"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Get("u_" + strconv.Itoa(i))
			m.Count()
		}
	}()
	wg.Wait()

	if m.Count() != 1000 {
		t.Errorf("Expected 1000 connections, got %d", m.Count())
	}
}
