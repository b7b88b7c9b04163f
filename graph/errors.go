package graph

import "errors"

// Error codes attached to EngineError. The facade maps these onto response
// shapes; everything except CodeResumeDenied is fatal for the turn.
const (
	// CodeNoRoute indicates a missing edge or an unknown selector key.
	CodeNoRoute = "NO_ROUTE"

	// CodeStoreError indicates a checkpoint write or read failed.
	CodeStoreError = "STORE_ERROR"

	// CodeMaxSteps indicates the MaxSteps limit was exceeded.
	CodeMaxSteps = "MAX_STEPS_EXCEEDED"

	// CodeNodeNotFound indicates routing reached an unregistered node.
	CodeNodeNotFound = "NODE_NOT_FOUND"

	// CodeResumeDenied indicates the resume guard refused to continue
	// (for the banking graph: no approved decision in the restored state).
	CodeResumeDenied = "RESUME_DENIED"

	// CodeBadState indicates a checkpointed state could not be decoded.
	CodeBadState = "BAD_STATE"

	// CodeConfig indicates the engine was misconfigured (missing reducer,
	// store, or start node; duplicate or reserved node IDs).
	CodeConfig = "CONFIG"
)

// EngineError represents an error from Engine operations.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Code extracts the engine error code from err, or "" if err is not an
// EngineError.
func Code(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
