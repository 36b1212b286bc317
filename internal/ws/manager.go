// Package ws serves the chat WebSocket endpoint and delivers events to
// open connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/coder/websocket"
)

const defaultWriteTimeout = 10 * time.Second

var _ domain.Emitter = (*Manager)(nil)

// Manager tracks one WebSocket connection per connection key.
type Manager struct {
	mu           sync.RWMutex
	active       map[string]*websocket.Conn
	writeTimeout time.Duration
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		active:       make(map[string]*websocket.Conn),
		writeTimeout: defaultWriteTimeout,
	}
}

// Get returns the connection registered under key.
func (m *Manager) Get(key string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[key]
}

// Register makes conn the connection for key. A previous connection is
// replaced but left open; its reader notices when the client goes away.
func (m *Manager) Register(key string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.active[key]; ok && existing != conn {
		slog.Info("WebSocket connection replaced", "connection_id", key)
	}
	m.active[key] = conn
	slog.Info("WebSocket connection registered", "connection_id", key)
}

// Unregister removes conn if it is still the connection for key, and
// reports whether it was.
func (m *Manager) Unregister(key string, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[key]; ok && current == conn {
		delete(m.active, key)
		slog.Info("WebSocket connection unregistered", "connection_id", key)
		return true
	}
	return false
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Send writes ev to the connection for key. A missing connection or a
// failed write is not an error; Send reports whether ev was written.
func (m *Manager) Send(key string, ev domain.Event) bool {
	conn := m.Get(key)
	if conn == nil {
		return false
	}
	return m.write(key, conn, ev)
}

// Broadcast writes ev to every open connection and returns how many
// accepted it.
func (m *Manager) Broadcast(ev domain.Event) int {
	m.mu.RLock()
	snapshot := make(map[string]*websocket.Conn, len(m.active))
	for k, c := range m.active {
		snapshot[k] = c
	}
	m.mu.RUnlock()

	var n int
	for key, conn := range snapshot {
		if m.write(key, conn, ev) {
			n++
		}
	}
	return n
}

func (m *Manager) write(key string, conn *websocket.Conn, ev domain.Event) bool {
	if err := writeEvent(conn, ev, m.writeTimeout); err != nil {
		slog.Debug("WebSocket write failed", "connection_id", key, "type", ev.Type, "error", err)
		return false
	}
	return true
}

func writeEvent(conn *websocket.Conn, ev domain.Event, timeout time.Duration) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
