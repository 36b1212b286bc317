package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// Tracker records the lifecycle of chat requests so they can be polled and
// cancelled. Finished entries expire through Prune.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackedRequest
	now     func() time.Time
}

type trackedRequest struct {
	state  domain.ChatRequestState
	cancel context.CancelFunc
	// running stays true until Finish, even after Cancel.
	running bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*trackedRequest),
		now:     time.Now,
	}
}

// Start records requestID as processing. A finished entry under the same ID
// is replaced; one that is still running is rejected with
// domain.ErrDuplicateRequest.
func (t *Tracker) Start(requestID, connectionID string, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[requestID]; ok && e.running {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, requestID)
	}
	now := t.now()
	t.entries[requestID] = &trackedRequest{
		state: domain.ChatRequestState{
			RequestID:    requestID,
			ConnectionID: connectionID,
			Status:       domain.StatusProcessing,
			StartedAt:    now,
			UpdatedAt:    now,
		},
		cancel:  cancel,
		running: true,
	}
	return nil
}

// Finish moves a processing or disconnected request to status. Requests
// already in a terminal state keep it, so a cancelled request stays
// cancelled.
func (t *Tracker) Finish(requestID string, status domain.RequestStatus, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[requestID]
	if !ok || !e.running {
		return false
	}
	e.cancel = nil
	e.running = false
	if e.state.Status.Terminal() {
		return false
	}
	e.state.Status = status
	e.state.Error = errMsg
	e.state.UpdatedAt = t.now()
	return true
}

// Get returns the state of requestID.
func (t *Tracker) Get(requestID string) (domain.ChatRequestState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[requestID]
	if !ok {
		return domain.ChatRequestState{}, false
	}
	return e.state, true
}

// Cancel marks a running request cancelled and cancels its context. A
// disconnected request is still running and can be cancelled too.
// It returns the resulting state and whether the request was known.
func (t *Tracker) Cancel(requestID string) (domain.ChatRequestState, bool) {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if !ok {
		t.mu.Unlock()
		return domain.ChatRequestState{}, false
	}
	var cancel context.CancelFunc
	if e.cancel != nil {
		e.state.Status = domain.StatusCancelled
		e.state.UpdatedAt = t.now()
		cancel, e.cancel = e.cancel, nil
	}
	state := e.state
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return state, true
}

// MarkDisconnected flips the processing requests of a connection to
// disconnected and returns how many changed. The requests keep running.
func (t *Tracker) MarkDisconnected(connectionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	now := t.now()
	for _, e := range t.entries {
		if e.state.ConnectionID == connectionID && e.state.Status == domain.StatusProcessing {
			e.state.Status = domain.StatusDisconnected
			e.state.UpdatedAt = now
			n++
		}
	}
	return n
}

// Prune removes finished entries not updated within ttl. Running entries,
// disconnected ones included, are never pruned.
func (t *Tracker) Prune(_ context.Context, ttl time.Duration) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-ttl)
	var removed int64
	for id, e := range t.entries {
		if !e.running && e.state.UpdatedAt.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
