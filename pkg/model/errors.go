package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrForbidden  ErrorCode = "FORBIDDEN"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// ErrorKind classifies failures surfaced by the scheduling core. Kinds are
// carried on job records and API error payloads.
type ErrorKind string

const (
	KindInvalidDAG              ErrorKind = "INVALID_DAG"
	KindUnknownWorkflow         ErrorKind = "UNKNOWN_WORKFLOW"
	KindUnknownJob              ErrorKind = "UNKNOWN_JOB"
	KindInvalidTransition       ErrorKind = "INVALID_TRANSITION"
	KindRunnerCrash             ErrorKind = "RUNNER_CRASH"
	KindSkippedDuePredecessor   ErrorKind = "SKIPPED_DUE_TO_PREDECESSOR"
	KindCancelledByRequest      ErrorKind = "CANCELLED_BY_REQUEST"
	KindTenantRejected          ErrorKind = "TENANT_REJECTED"
)

// APIError is a structured error returned by the slideflow API. Kind, when
// set, carries the core error classification alongside the HTTP-facing code.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Kind    ErrorKind    `json:"kind,omitempty"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewDAGError creates a VALIDATION_ERROR APIError of kind INVALID_DAG.
func NewDAGError(details ...FieldError) *APIError {
	return &APIError{
		Code:    ErrValidation,
		Kind:    KindInvalidDAG,
		Message: "workflow dag is invalid",
		Details: details,
	}
}

// NewForbiddenError creates a FORBIDDEN APIError.
func NewForbiddenError(msg string) *APIError {
	return &APIError{Code: ErrForbidden, Message: msg}
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
