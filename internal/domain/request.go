package domain

import "time"

// RequestStatus is the lifecycle state of a chat request.
type RequestStatus string

const (
	StatusProcessing   RequestStatus = "processing"
	StatusCompleted    RequestStatus = "completed"
	StatusError        RequestStatus = "error"
	StatusDisconnected RequestStatus = "disconnected"
	StatusCancelled    RequestStatus = "cancelled"
)

// Terminal reports whether the status can no longer change. A disconnected
// request is still running and will move on to its outcome.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// ChatRequestState is the tracked view of one chat request.
type ChatRequestState struct {
	RequestID    string        `json:"request_id"`
	ConnectionID string        `json:"connection_id"`
	Status       RequestStatus `json:"status"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
