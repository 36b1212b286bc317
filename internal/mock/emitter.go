package mock

import (
	"sync"

	"github.com/ashureev/agentdesk/internal/domain"
)

var _ domain.Emitter = (*Emitter)(nil)

// Emitter records every event it is asked to send. Connections listed in
// Gone are treated as disconnected.
type Emitter struct {
	mu     sync.Mutex
	events []Sent
	Gone   map[string]bool
}

// Sent is one recorded event.
type Sent struct {
	ConnectionID string
	Event        domain.Event
}

// Send records ev unless the connection is gone.
func (e *Emitter) Send(connectionID string, ev domain.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Gone[connectionID] {
		return false
	}
	e.events = append(e.events, Sent{ConnectionID: connectionID, Event: ev})
	return true
}

// Broadcast records ev under the empty connection ID.
func (e *Emitter) Broadcast(ev domain.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Sent{Event: ev})
	return 1
}

// Events returns a copy of what was sent.
func (e *Emitter) Events() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Event, len(e.events))
	for i, s := range e.events {
		out[i] = s.Event
	}
	return out
}

// Types returns the types of sent events in order.
func (e *Emitter) Types() []domain.EventType {
	evs := e.Events()
	out := make([]domain.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// Disconnect marks a connection as gone.
func (e *Emitter) Disconnect(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Gone == nil {
		e.Gone = make(map[string]bool)
	}
	e.Gone[connectionID] = true
}
