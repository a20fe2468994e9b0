package marfserr

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	a := New(NotFound, "reference path missing")
	b := New(NotFound, "different message, same code")
	if !errors.Is(a, b) {
		t.Fatalf("expected errors.Is to match on code")
	}

	c := New(InvalidArgument, "bad fileno")
	if errors.Is(a, c) {
		t.Fatalf("did not expect errors.Is to match across codes")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("xattr read failed")
	wrapped := Wrap(DatastreamBreak, cause, "fgetxattr")
	if errors.Unwrap(wrapped) != cause {
		t.Fatalf("expected Unwrap to return cause")
	}
	if CodeOf(wrapped) != DatastreamBreak {
		t.Fatalf("expected CodeOf to recover DatastreamBreak, got %s", CodeOf(wrapped))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(errors.New("boom")) != InternalError {
		t.Fatalf("expected plain errors to map to InternalError")
	}
}

func TestRetryableDefaults(t *testing.T) {
	if !New(QuotaExceeded, "").Retryable {
		t.Fatalf("expected QuotaExceeded to default retryable")
	}
	if New(InvalidArgument, "").Retryable {
		t.Fatalf("did not expect InvalidArgument to default retryable")
	}
}
