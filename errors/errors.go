// Package errors provides error handling for atelier.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrPollTimeout) {
//	    // caller may resubmit
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the render pipeline.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrBackendUnavailable indicates the rendering backend kept failing
	// transiently after the retry budget was exhausted.
	ErrBackendUnavailable = New("rendering backend unavailable")

	// ErrValidation indicates the backend rejected the request as malformed
	// (4xx other than 429). Never retried.
	ErrValidation = New("request rejected by backend")

	// ErrBackendProtocol indicates a 2xx response that violates the backend
	// contract (e.g. no extractable execution identifier).
	ErrBackendProtocol = New("backend protocol violation")

	// ErrJobFailed indicates the backend explicitly reported a failed job.
	// Resubmission is a caller decision, never automatic.
	ErrJobFailed = New("render job failed")

	// ErrPollTimeout indicates the wall-clock polling ceiling elapsed while
	// the job remained non-terminal. Callers may resubmit.
	ErrPollTimeout = New("polling ceiling exceeded")

	// ErrQueueTimeout indicates a caller-imposed timeout elapsed while
	// waiting for or holding the execution permit.
	ErrQueueTimeout = New("execution queue timeout")

	// ErrDownload indicates an artifact download returned no usable bytes.
	ErrDownload = New("artifact download failed")
)

// IsBackendUnavailable checks if an error is or wraps ErrBackendUnavailable
func IsBackendUnavailable(err error) bool {
	return err != nil && Is(err, ErrBackendUnavailable)
}

// IsValidation checks if an error is or wraps ErrValidation
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsJobFailed checks if an error is or wraps ErrJobFailed
func IsJobFailed(err error) bool {
	return err != nil && Is(err, ErrJobFailed)
}

// IsPollTimeout checks if an error is or wraps ErrPollTimeout
func IsPollTimeout(err error) bool {
	return err != nil && Is(err, ErrPollTimeout)
}

// IsQueueTimeout checks if an error is or wraps ErrQueueTimeout
func IsQueueTimeout(err error) bool {
	return err != nil && Is(err, ErrQueueTimeout)
}
