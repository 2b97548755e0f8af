// Package pipeline drives image generation end to end: the
// orchestrator runs one render through the execution queue, and the
// batch runner moves files through the pipeline directories while
// recording outcomes in the execution log.
package pipeline

import (
	"time"
)

// RecordStatus is the persisted state of an execution log row.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// ExecutionLogRecord is one row of the image_logs table. A record is
// created at submission (pending) and mutated exactly once when the
// job reaches a terminal state; transitions never go backward.
type ExecutionLogRecord struct {
	ID              int64
	ExecutionID     string
	Prompt          string
	Persona         string
	ImageRefPath    string
	ResultImagePath string
	Status          RecordStatus
	CreatedAt       time.Time
}
