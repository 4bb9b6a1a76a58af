package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeNotFound, "block not found")
	other := New(CodeNotFound, "different message")

	if !stdErrors.Is(other, sentinel) {
		t.Fatalf("errors with the same code should match")
	}
	if stdErrors.Is(New(CodeConflict, ""), sentinel) {
		t.Fatalf("errors with different codes should not match")
	}
	wrapped := fmt.Errorf("load: %w", other)
	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("wrapped error should still match by code")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "append block")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause should be reachable through Unwrap")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures are retryable by default")
	}
	if got := err.Error(); got != "[STORAGE_FAILURE] append block: connection refused" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := New(CodeAlreadyExists, "")
	outer := Wrap(CodeStorageFailure, inner, "create")

	if CodeOf(outer) != CodeStorageFailure {
		t.Fatalf("CodeOf should report the outermost code")
	}
	if !HasCode(outer, CodeAlreadyExists) {
		t.Fatalf("HasCode should find the inner code")
	}
	if HasCode(outer, CodeNotFound) {
		t.Fatalf("HasCode should not invent codes")
	}
}

func TestRegisterAndHTTPStatus(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, HTTPStatus: http.StatusTeapot})

	err := New(code, "")
	if err.Message() != "registered" {
		t.Fatalf("default message should come from registry, got %q", err.Message())
	}
	if HTTPStatusOf(err) != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", HTTPStatusOf(err))
	}
	if HTTPStatusOf(stdErrors.New("plain")) != http.StatusInternalServerError {
		t.Fatalf("plain errors map to 500")
	}
	if SeverityOf(err) != SeverityWarning {
		t.Fatalf("unexpected severity: %s", SeverityOf(err))
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeStorageFailure, "", WithRetryable(false), WithSeverity(SeverityInfo), WithMetadata("ledger", "l1"))
	if err.Retryable() {
		t.Fatalf("retryable override ignored")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("severity override ignored")
	}
	meta := err.Metadata()
	meta["ledger"] = "mutated"
	if err.Metadata()["ledger"] != "l1" {
		t.Fatalf("metadata should be returned as a copy")
	}
}
