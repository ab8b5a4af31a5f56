package logger

// Standard field names for consistent structured logging across Granary.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID  = "job_id"
	FieldRunID  = "run_id"
	FieldItemID = "item_id"
	FieldSource = "source"

	// Components
	FieldComponent = "component"
	FieldJobType   = "job_type"
	FieldItemType  = "item_type"

	// Operations
	FieldOperation = "operation"
	FieldPhase     = "phase"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDelayMS    = "delay_ms"

	// Errors
	FieldError     = "error"
	FieldErrorType = "error_type"
	FieldAttempt   = "attempt"

	// Counts and sizes
	FieldCount      = "count"
	FieldBatchSize  = "batch_size"
	FieldTokens     = "tokens"
	FieldBytes      = "bytes"
	FieldChunkIndex = "chunk_index"

	// Status
	FieldStatus = "status"
)
