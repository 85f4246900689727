package errors

import (
	stderrors "errors"
	"testing"
	"time"
)

func TestDebugError_ErrorIncludesHint(t *testing.T) {
	err := InvalidArgument("line", 0, "a positive integer")
	want := "invalid value for 'line': 0 | Hint: expected a positive integer"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestDebugError_WithoutHintOmitsSeparator(t *testing.T) {
	err := Lifecycle("session is terminal", nil)
	if got := err.Error(); got != "session is terminal" {
		t.Fatalf("Error() = %q, want %q", got, "session is terminal")
	}
}

func TestDebugError_UnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Transport("dial failed", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestFromError_PassesThroughExistingDebugError(t *testing.T) {
	original := SessionNotFound("abc")
	recovered := FromError(original)
	if recovered != original {
		t.Fatal("expected FromError to return the same *DebugError instance")
	}
}

func TestFromError_WrapsPlainError(t *testing.T) {
	recovered := FromError(stderrors.New("plain failure"))
	if recovered.Code != CodeProtocol {
		t.Fatalf("expected CodeProtocol for a plain error, got %s", recovered.Code)
	}
}

func TestWithDetails_Accumulates(t *testing.T) {
	err := Timeout("continue", 5*time.Second).WithDetails("sessionId", "abc")
	if err.Details["sessionId"] != "abc" {
		t.Fatalf("expected sessionId detail to be set, got %+v", err.Details)
	}
	if err.Details["operation"] != "continue" {
		t.Fatalf("expected the constructor's own details to survive, got %+v", err.Details)
	}
}

func TestSessionLimitReached_CarriesMaxInDetails(t *testing.T) {
	err := SessionLimitReached(16)
	if err.Code != CodeResourceUnavailable {
		t.Fatalf("expected CodeResourceUnavailable, got %s", err.Code)
	}
	if err.Details["maxSessions"] != 16 {
		t.Fatalf("expected maxSessions=16 in details, got %+v", err.Details)
	}
}
