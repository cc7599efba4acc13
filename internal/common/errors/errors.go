// Package errors provides standardized error handling for the reminder
// delivery and escalation services.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Channel/delivery errors
	ErrCodeAdapterFailure    ErrorCode = "ADAPTER_FAILURE"
	ErrCodeAllMethodsFailed  ErrorCode = "ALL_METHODS_FAILED"
	ErrCodeUnsupportedMethod ErrorCode = "UNSUPPORTED_METHOD"
	ErrCodeResponseTimeout   ErrorCode = "RESPONSE_TIMEOUT"

	// Escalation errors
	ErrCodeEscalationActionFailed ErrorCode = "ESCALATION_ACTION_FAILED"
	ErrCodeEscalationSuppressed   ErrorCode = "ESCALATION_SUPPRESSED"
	ErrCodeUnsupportedPriority    ErrorCode = "UNSUPPORTED_PRIORITY"

	// Wiring/configuration errors
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeConfigurationError ErrorCode = "CONFIGURATION_ERROR"

	// Infrastructure errors
	ErrCodeStorageFailure   ErrorCode = "STORAGE_FAILURE"
	ErrCodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	ErrCodeDirectoryFailure ErrorCode = "DIRECTORY_FAILURE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. Error Constructors
// ==========================

// NewAdapterFailureError creates a retryable channel send error. A nil err
// is allowed; adapters report some failures through the result payload only.
func NewAdapterFailureError(method string, err error) *StandardError {
	detail := "unspecified"
	if err != nil {
		detail = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeAdapterFailure,
		Message:   "Channel adapter send failed",
		Details:   fmt.Sprintf("method: %s, error: %s", method, detail),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewAllMethodsFailedError marks a request whose every configured method
// failed. Terminal for the request; triggers escalation only at critical
// priority.
func NewAllMethodsFailedError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAllMethodsFailed,
		Message:   "All delivery methods failed",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsupportedMethodError creates a non-retryable configuration error for
// a requested method with no registered adapter.
func NewUnsupportedMethodError(method string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedMethod,
		Message:   "No adapter registered for delivery method",
		Details:   fmt.Sprintf("method: %s", method),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseTimeoutError marks an expired confirmation wait. Callers treat
// it as "no response", not as a crash.
func NewResponseTimeoutError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResponseTimeout,
		Message:   "User response wait expired",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEscalationActionFailedError creates an error recorded on the
// escalation record; it never aborts the rule's remaining actions.
func NewEscalationActionFailedError(actionType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEscalationActionFailed,
		Message:   "Escalation action execution failed",
		Details:   fmt.Sprintf("action: %s, error: %s", actionType, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewEscalationSuppressedError marks a trigger suppressed by an active
// record inside the cooldown window.
func NewEscalationSuppressedError(patientID, medicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEscalationSuppressed,
		Message:   "Active escalation exists within cooldown window",
		Details:   fmt.Sprintf("patientId: %s, medicationId: %s", patientID, medicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsupportedPriorityError creates a non-retryable error for a priority
// with no configured tier.
func NewUnsupportedPriorityError(priority string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedPriority,
		Message:   "No priority tier configured for level",
		Details:   fmt.Sprintf("priority: %s", priority),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotInitializedError marks a service invoked before its collaborators
// were wired.
func NewNotInitializedError(component string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotInitialized,
		Message:   "Service dependency not initialized",
		Details:   fmt.Sprintf("component: %s", component),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigurationError creates a fatal configuration error surfaced to the
// caller.
func NewConfigurationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigurationError,
		Message:   "Invalid configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageFailureError creates a retryable persistence error.
func NewStorageFailureError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageFailure,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewRecordNotFoundError creates a non-retryable lookup error.
func NewRecordNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecordNotFound,
		Message:   "Record not found",
		Details:   fmt.Sprintf("kind: %s, id: %s", kind, id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDirectoryFailureError creates a retryable contact directory error.
func NewDirectoryFailureError(patientID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDirectoryFailure,
		Message:   "Contact directory lookup failed",
		Details:   fmt.Sprintf("patientId: %s, error: %s", patientID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf extracts the ErrorCode of err, or "" if err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}
