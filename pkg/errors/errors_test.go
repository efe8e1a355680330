package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestBRMError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *BRMError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(CodeNotFound, "rule not found", http.StatusNotFound),
			want: "[RULE_NOT_FOUND] rule not found",
		},
		{
			name: "error with underlying error",
			err:  Wrap(CodeBackendError, "backend operation failed", http.StatusInternalServerError, errors.New("connection refused")),
			want: "[RULE_BACKEND_ERROR] backend operation failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBRMError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeBackendError, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestBRMError_WithDetailsAndRule(t *testing.T) {
	err := New(CodeInvalidInput, "test", http.StatusBadRequest)
	err.WithDetails("field", "sql_text").WithDetails("reason", "empty").WithRule(42)

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "sql_text" {
		t.Errorf("Details[field] = %v, want sql_text", err.Details["field"])
	}
	if err.RuleID != 42 {
		t.Errorf("RuleID = %d, want 42", err.RuleID)
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("rule", int64(10))

	if err.Code != CodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, CodeNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["resource"] != "rule" {
		t.Errorf("Details[resource] = %v, want rule", err.Details["resource"])
	}
}

func TestDuplicateName(t *testing.T) {
	err := DuplicateName("BG1", "R1")

	if err.Code != CodeDuplicateName {
		t.Errorf("Code = %v, want %v", err.Code, CodeDuplicateName)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestAccessDenied(t *testing.T) {
	err := AccessDenied("global rules require Admin")

	if err.Code != CodeAccessDenied {
		t.Errorf("Code = %v, want %v", err.Code, CodeAccessDenied)
	}
	if err.HTTPStatus != http.StatusForbidden {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusForbidden)
	}
}

func TestInvariantViolation(t *testing.T) {
	err := InvariantViolation(10, "cannot delete rule with active children")

	if err.Code != CodeInvariantViolation {
		t.Errorf("Code = %v, want %v", err.Code, CodeInvariantViolation)
	}
	if err.RuleID != 10 {
		t.Errorf("RuleID = %d, want 10", err.RuleID)
	}
}

func TestLockConflict(t *testing.T) {
	err := LockConflict(50, "alice", "2026-07-30T12:00:00Z")

	if err.Code != CodeLockConflict {
		t.Errorf("Code = %v, want %v", err.Code, CodeLockConflict)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
	if err.Details["held_by"] != "alice" {
		t.Errorf("Details[held_by] = %v, want alice", err.Details["held_by"])
	}
}

func TestBackendError(t *testing.T) {
	underlying := errors.New("connection timeout")
	err := BackendError("insert_rule", underlying)

	if err.Code != CodeBackendError {
		t.Errorf("Code = %v, want %v", err.Code, CodeBackendError)
	}
	if err.Details["operation"] != "insert_rule" {
		t.Errorf("Details[operation] = %v, want insert_rule", err.Details["operation"])
	}
}

func TestValidationFailed(t *testing.T) {
	err := ValidationFailed(7, "NOT NULL check failed on orders.customer_id")

	if err.Code != CodeValidationFailed {
		t.Errorf("Code = %v, want %v", err.Code, CodeValidationFailed)
	}
	if err.RuleID != 7 {
		t.Errorf("RuleID = %d, want 7", err.RuleID)
	}
}

func TestExecutionFailed(t *testing.T) {
	err := ExecutionFailed(7, "relation \"orders\" does not exist")

	if err.Code != CodeExecutionFailed {
		t.Errorf("Code = %v, want %v", err.Code, CodeExecutionFailed)
	}
}

func TestInvalidInput(t *testing.T) {
	err := InvalidInput("sql_text", "must not be empty")

	if err.Code != CodeInvalidInput {
		t.Errorf("Code = %v, want %v", err.Code, CodeInvalidInput)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
	if err.Details["field"] != "sql_text" {
		t.Errorf("Details[field] = %v, want sql_text", err.Details["field"])
	}
}

func TestIsBRMError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "brm error", err: New(CodeBackendError, "test", http.StatusInternalServerError), want: true},
		{name: "standard error", err: errors.New("standard error"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBRMError(tt.err); got != tt.want {
				t.Errorf("IsBRMError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	brmErr := New(CodeBackendError, "test", http.StatusInternalServerError)
	standardErr := errors.New("standard error")

	if got := As(brmErr); got != brmErr {
		t.Errorf("As() = %v, want %v", got, brmErr)
	}
	if got := As(standardErr); got != nil {
		t.Errorf("As() = %v, want nil", got)
	}
	if got := As(nil); got != nil {
		t.Errorf("As() = %v, want nil", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "brm error", err: New(CodeAccessDenied, "test", http.StatusForbidden), want: http.StatusForbidden},
		{name: "standard error", err: errors.New("standard error"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
