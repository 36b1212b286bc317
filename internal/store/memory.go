package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// Memory is a process-local SessionRegistry with TTL expiry and LRU eviction.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	key     string
	session *domain.Session
	touched time.Time
}

// MemoryOption configures a Memory registry.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an in-memory registry. ttl <= 0 disables expiry and
// maxEntries <= 0 disables eviction.
func NewMemory(ttl time.Duration, maxEntries int, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns a copy of the session for key.
func (m *Memory) Get(_ context.Context, key string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	entry := el.Value.(*memoryEntry)
	if m.expired(entry) {
		m.removeElement(el)
		return nil, nil
	}
	entry.touched = m.now()
	m.order.MoveToFront(el)
	return entry.session.Clone(), nil
}

// Put stores a copy of session under key.
func (m *Memory) Put(_ context.Context, key string, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.session = session.Clone()
		entry.touched = now
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{key: key, session: session.Clone(), touched: now})
	m.entries[key] = el

	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		m.removeElement(m.order.Back())
	}
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
	return nil
}

// Prune deletes entries untouched for longer than ttl.
func (m *Memory) Prune(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	var removed int64
	// Least recently used entries sit at the back.
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memoryEntry).touched.Before(cutoff) {
			m.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len(), nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close drops all sessions.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

func (m *Memory) expired(e *memoryEntry) bool {
	return m.ttl > 0 && m.now().Sub(e.touched) > m.ttl
}

func (m *Memory) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.order.Remove(el)
}

// Ensure Memory implements SessionRegistry.
var _ SessionRegistry = (*Memory)(nil)
