// Package store provides the session registry and its implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// SessionRegistry persists sessions keyed by identity.ConnectionKey.
// Implementations hand out copies; mutating a returned session has no effect
// until it is Put back.
type SessionRegistry interface {
	// Get returns the session for key, or (nil, nil) when absent or expired.
	Get(ctx context.Context, key string) (*domain.Session, error)

	// Put creates or replaces the session stored under key.
	Put(ctx context.Context, key string, session *domain.Session) error

	// Remove deletes the session stored under key. Missing keys are not an error.
	Remove(ctx context.Context, key string) error

	// Prune deletes sessions not updated within ttl and returns how many went.
	Prune(ctx context.Context, ttl time.Duration) (int64, error)

	// Len returns the number of stored sessions.
	Len(ctx context.Context) (int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
