// Package errors provides the unified error taxonomy for the rule engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a category of engine error.
type Code string

const (
	CodeNotFound           Code = "RULE_NOT_FOUND"
	CodeDuplicateName      Code = "RULE_DUPLICATE_NAME"
	CodeAccessDenied       Code = "RULE_ACCESS_DENIED"
	CodeInvariantViolation Code = "RULE_INVARIANT_VIOLATION"
	CodeLockConflict       Code = "RULE_LOCK_CONFLICT"
	CodeBackendError       Code = "RULE_BACKEND_ERROR"
	CodeValidationFailed   Code = "RULE_VALIDATION_FAILED"
	CodeExecutionFailed    Code = "RULE_EXECUTION_FAILED"
	CodeInvalidInput       Code = "RULE_INVALID_INPUT"
)

// BRMError is a structured error carrying a stable code, an HTTP status for
// the operations API, and optional structured details for operator tooling.
type BRMError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	RuleID     int64                  `json:"rule_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *BRMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *BRMError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail key/value pair.
func (e *BRMError) WithDetails(key string, value interface{}) *BRMError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRule attaches the rule id the error pertains to.
func (e *BRMError) WithRule(ruleID int64) *BRMError {
	e.RuleID = ruleID
	return e
}

// New creates a BRMError.
func New(code Code, message string, httpStatus int) *BRMError {
	return &BRMError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a BRMError.
func Wrap(code Code, message string, httpStatus int, err error) *BRMError {
	return &BRMError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// NotFound reports that a referenced rule/schedule/approval does not exist.
func NotFound(resource string, id interface{}) *BRMError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// DuplicateName reports an (owner_group, rule_name) collision.
func DuplicateName(ownerGroup, name string) *BRMError {
	return New(CodeDuplicateName, "a rule with this name already exists in the owner group", http.StatusConflict).
		WithDetails("owner_group", ownerGroup).
		WithDetails("name", name)
}

// AccessDenied reports a non-Admin actor attempting a gated mutation.
func AccessDenied(reason string) *BRMError {
	return New(CodeAccessDenied, reason, http.StatusForbidden)
}

// InvariantViolation reports an attempt to violate a data-model invariant.
func InvariantViolation(ruleID int64, reason string) *BRMError {
	return New(CodeInvariantViolation, reason, http.StatusConflict).WithRule(ruleID)
}

// LockConflict reports that the rule is locked by another user.
func LockConflict(ruleID int64, heldBy string, expiresAt interface{}) *BRMError {
	return New(CodeLockConflict, fmt.Sprintf("rule %d is locked by %s", ruleID, heldBy), http.StatusConflict).
		WithRule(ruleID).
		WithDetails("held_by", heldBy).
		WithDetails("expires_at", expiresAt)
}

// BackendError wraps a database failure.
func BackendError(operation string, err error) *BRMError {
	return Wrap(CodeBackendError, "backend operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// ValidationFailed reports that one or more data validations failed.
func ValidationFailed(ruleID int64, message string) *BRMError {
	return New(CodeValidationFailed, message, http.StatusUnprocessableEntity).WithRule(ruleID)
}

// ExecutionFailed reports that a rule's SQL returned a non-pass result or raised.
func ExecutionFailed(ruleID int64, message string) *BRMError {
	return New(CodeExecutionFailed, message, http.StatusUnprocessableEntity).WithRule(ruleID)
}

// InvalidInput reports a structural validation failure on a mutation input.
func InvalidInput(field, reason string) *BRMError {
	return New(CodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// IsBRMError reports whether err is (or wraps) a *BRMError.
func IsBRMError(err error) bool {
	var e *BRMError
	return errors.As(err, &e)
}

// As extracts a *BRMError from an error chain.
func As(err error) *BRMError {
	var e *BRMError
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HTTPStatus returns the HTTP status code for an error, defaulting to 500.
func HTTPStatus(err error) int {
	if e := As(err); e != nil {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
