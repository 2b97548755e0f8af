package logger

// Standard field names for consistent structured logging across atelier.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldExecutionID = "execution_id"
	FieldRequestID   = "request_id"
	FieldPersona     = "persona"
	FieldWorkflow    = "workflow"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldURL       = "url"
	FieldStatus    = "status"
	FieldAttempt   = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldWaitMS     = "wait_ms"

	// Errors
	FieldError = "error"

	// Files
	FieldFile  = "file"
	FieldBytes = "bytes"
)
