package domain

import "errors"

var (
	// ErrNotFound indicates a missing session or request.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest indicates a malformed client payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRateLimited indicates the caller exceeded its message budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUnknownAgent indicates speaker selection named an agent outside the roster.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrDuplicateRequest indicates a request ID that is still running.
	ErrDuplicateRequest = errors.New("request already in progress")
	// ErrToolNotFound indicates the model asked for an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
)
