package queue

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a queued request.
type RequestStatus string

const (
	StatusQueued    RequestStatus = "queued"
	StatusRunning   RequestStatus = "running"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
	StatusTimeout   RequestStatus = "timeout"
)

// QueuedRequest is the in-memory record of one pass through the
// execution queue. It exists for live monitoring only and is never
// persisted; correctness does not depend on it.
type QueuedRequest struct {
	RequestID     string        `json:"request_id"`
	Description   string        `json:"description"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Error         string        `json:"error,omitempty"`
}

func newQueuedRequest(description, correlationID string) *QueuedRequest {
	return &QueuedRequest{
		RequestID:     uuid.New().String(),
		Description:   description,
		CorrelationID: correlationID,
		Status:        StatusQueued,
		CreatedAt:     time.Now(),
	}
}

// WaitDuration is the time spent waiting for the permit. Zero until
// the request starts.
func (r *QueuedRequest) WaitDuration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	return r.StartedAt.Sub(r.CreatedAt)
}

// ExecDuration is the time spent holding the permit. Zero until the
// request reaches a terminal status.
func (r *QueuedRequest) ExecDuration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}
