package errors_test

import (
	stderrors "errors"
	"testing"

	. "judgecore/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "success"},
		{SubmissionNotFound, "submission not found"},
		{CompilationError, "compilation error"},
		{SandboxPoolExhausted, "sandbox pool exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_UnknownMessage(t *testing.T) {
	if got := ErrorCode(999999).Message(); got != "unknown error" {
		t.Errorf("Message() = %v, want %v", got, "unknown error")
	}
}

func TestNew(t *testing.T) {
	err := New(SubmissionNotFound)

	if err.Code != SubmissionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, SubmissionNotFound)
	}
	if err.Error() != SubmissionNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), SubmissionNotFound.Message())
	}
}

func TestNewf(t *testing.T) {
	err := Newf(LanguageNotSupported, "unknown language %q", "brainfuck")

	want := `unknown language "brainfuck"`
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := stderrors.New("connection refused")
	wrappedErr := Wrap(originalErr, CacheError)

	if wrappedErr.Code != CacheError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, CacheError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
}

func TestWrap_AlreadyCustomError_UpdatesCode(t *testing.T) {
	inner := New(CacheError)
	wrapped := Wrap(inner, LockFailed)

	if wrapped != inner {
		t.Error("Wrap should return the same *Error when re-wrapping")
	}
	if wrapped.Code != LockFailed {
		t.Errorf("Code = %v, want %v", wrapped.Code, LockFailed)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CacheError) != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ValidationFailed).
		WithDetail("field", "lang").
		WithDetail("reason", "not in catalog")

	if err.Details["field"] != "lang" {
		t.Error("field detail not set correctly")
	}
	if err.Details["reason"] != "not in catalog" {
		t.Error("reason detail not set correctly")
	}
}

func TestError_WithMessage(t *testing.T) {
	err := New(InternalServerError).WithMessage("custom error message")
	if err.Error() != "custom error message" {
		t.Errorf("Error() = %v, want %v", err.Error(), "custom error message")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil error", nil, Success},
		{"custom error", New(SandboxHandleInvalid), SandboxHandleInvalid},
		{"standard error", stderrors.New("boom"), InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(TimeLimitExceeded)

	if !Is(err, TimeLimitExceeded) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, MemoryLimitExceeded) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, TimeLimitExceeded) {
		t.Error("Is() should return false for nil error")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("email", "invalid format")
	if err.Code != ValidationFailed {
		t.Error("ValidationError should use ValidationFailed code")
	}
	if err.Details["field"] != "email" {
		t.Error("field detail not set")
	}
}
