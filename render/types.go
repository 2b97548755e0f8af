// Package render implements the HTTP client for the image render
// backend: workflow submission, status polling, output download, and
// reference-image upload, with retry and error classification.
package render

import (
	"encoding/json"
	"fmt"

	"github.com/glowworks/atelier/errors"
)

// SeedStrategy controls how the sampler seed is chosen per request.
type SeedStrategy string

const (
	// SeedRandom generates a fresh seed for every submission.
	SeedRandom SeedStrategy = "random"
	// SeedFixed reuses Request.Seed verbatim, for reproducible renders.
	SeedFixed SeedStrategy = "fixed"
)

// Request describes one image generation to submit to the backend.
type Request struct {
	Prompt         string
	NegativePrompt string
	Persona        string
	Workflow       string
	SeedStrategy   SeedStrategy
	Seed           int64
	Width          int
	Height         int
	// RefImage is the backend-side name of an uploaded reference
	// image, empty when the workflow is text-only.
	RefImage string
}

// ExecutionStatus is the backend-reported state of a submitted job.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status will not change again.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OutputRef locates one produced image on the backend.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// JobResult is the polled state of an execution.
type JobResult struct {
	ExecutionID string
	Status      ExecutionStatus
	Outputs     []OutputRef
	// Detail carries the backend's failure message when Status is
	// StatusFailed.
	Detail string
}

// ValidationError is a non-transient backend rejection (4xx other
// than 429). It is never retried; the backend's response body is
// preserved for diagnosis, with the structured detail decoded when
// the body follows the backend's error shape.
type ValidationError struct {
	StatusCode int
	Body       string
	Op         string

	// Decoded from {"error":{"type","message"},"node_errors":{...}}.
	// Empty when the body is not in that shape.
	Type       string
	Message    string
	NodeErrors map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		msg := e.Message
		if e.Type != "" {
			msg = e.Type + ": " + msg
		}
		if len(e.NodeErrors) > 0 {
			msg = fmt.Sprintf("%s (%d node error(s))", msg, len(e.NodeErrors))
		}
		return fmt.Sprintf("%s rejected by backend (status %d): %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s rejected by backend (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// backendErrorBody is the structured rejection shape the backend uses.
type backendErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

func newValidationError(op string, statusCode int, body string) error {
	ve := &ValidationError{
		StatusCode: statusCode,
		Body:       body,
		Op:         op,
	}

	var decoded backendErrorBody
	if err := json.Unmarshal([]byte(body), &decoded); err == nil {
		ve.Type = decoded.Error.Type
		ve.Message = decoded.Error.Message
		if len(decoded.NodeErrors) > 0 {
			ve.NodeErrors = make(map[string]string, len(decoded.NodeErrors))
			for node, detail := range decoded.NodeErrors {
				ve.NodeErrors[node] = string(detail)
			}
		}
	}

	return errors.Mark(ve, errors.ErrValidation)
}
