package marfshealth

import (
	"context"
	"errors"
	"testing"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

func testConfig() Config {
	return Config{DegradedThreshold: 2, UnavailableThreshold: 4}
}

func TestNewComponentStartsHealthy(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")

	if got := tr.State("dal-0"); got != StateHealthy {
		t.Fatalf("expected StateHealthy, got %v", got)
	}
	if !tr.CanWrite("dal-0") {
		t.Fatalf("expected healthy component to accept writes")
	}
}

func TestRetryableErrorsDegradeThenRecover(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")

	retryableErr := marfserr.New(marfserr.InternalError, "transient")
	retryableErr.Retryable = true
	tr.RecordError("dal-0", retryableErr)
	tr.RecordError("dal-0", retryableErr)

	if got := tr.State("dal-0"); got != StateDegraded {
		t.Fatalf("expected StateDegraded after 2 retryable errors, got %v", got)
	}
	if !tr.CanWrite("dal-0") {
		t.Fatalf("degraded component should still accept writes")
	}

	tr.RecordSuccess("dal-0")
	tr.RecordSuccess("dal-0")
	if got := tr.State("dal-0"); got != StateHealthy {
		t.Fatalf("expected recovery to StateHealthy, got %v", got)
	}
}

func TestNonRetryableErrorsGoReadOnly(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")

	permErr := marfserr.New(marfserr.PermissionDenied, "denied")
	tr.RecordError("dal-0", permErr)
	tr.RecordError("dal-0", permErr)

	if got := tr.State("dal-0"); got != StateReadOnly {
		t.Fatalf("expected StateReadOnly for non-retryable errors, got %v", got)
	}
	if tr.CanWrite("dal-0") {
		t.Fatalf("read-only component must not accept writes")
	}
}

func TestUnavailableThresholdTrips(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")

	err := errors.New("boom")
	for i := 0; i < 4; i++ {
		tr.RecordError("dal-0", err)
	}
	if got := tr.State("dal-0"); got != StateUnavailable {
		t.Fatalf("expected StateUnavailable after 4 errors, got %v", got)
	}
	if tr.CanWrite("dal-0") {
		t.Fatalf("unavailable component must not accept writes")
	}
}

func TestOverallReflectsWorstComponent(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")
	tr.Register("dal-1")

	permErr := marfserr.New(marfserr.PermissionDenied, "denied")
	tr.RecordError("dal-1", permErr)
	tr.RecordError("dal-1", permErr)

	if got := tr.Overall(); got != StateReadOnly {
		t.Fatalf("expected overall state to reflect worst component, got %v", got)
	}
}

func TestStateChangeCallbackFires(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")

	var transitions []State
	tr.OnStateChange(func(component string, from, to State, err error) {
		transitions = append(transitions, to)
	})

	retryableErr := marfserr.New(marfserr.InternalError, "transient")
	retryableErr.Retryable = true
	tr.RecordError("dal-0", retryableErr)
	tr.RecordError("dal-0", retryableErr)

	if len(transitions) != 1 || transitions[0] != StateDegraded {
		t.Fatalf("expected exactly one transition to StateDegraded, got %v", transitions)
	}
}

func TestRunProbesRecordsPerComponentOutcome(t *testing.T) {
	tr := NewTracker(testConfig())
	tr.Register("dal-0")
	tr.Register("dal-1")

	tr.RunProbes(context.Background(), func(ctx context.Context, location string) error {
		if location == "dal-1" {
			err := marfserr.New(marfserr.InternalError, "down")
			err.Retryable = true
			return err
		}
		return nil
	})

	if got := tr.State("dal-0"); got != StateHealthy {
		t.Fatalf("expected dal-0 healthy, got %v", got)
	}
	if _, ok := tr.Snapshot("dal-1"); !ok {
		t.Fatalf("expected a snapshot for dal-1")
	}
}
