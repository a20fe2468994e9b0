package marfsretry

import (
	"context"
	"testing"
	"time"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

func TestDoRetriesRetryableThenSucceeds(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return marfserr.New(marfserr.QuotaExceeded, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	r := New(DefaultConfig())
	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return marfserr.New(marfserr.InvalidArgument, "bad fileno")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRebuildOnceRetriesExactlyOnce(t *testing.T) {
	calls := 0
	ok, err := RebuildOnce(func() (bool, error) {
		calls++
		return false, nil // residual damage every time
	})
	if err != nil || ok {
		t.Fatalf("expected ok=false, err=nil after exhausting the single retry")
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls (initial + one retry), got %d", calls)
	}
}

func TestRebuildOnceSucceedsFirstTry(t *testing.T) {
	calls := 0
	ok, err := RebuildOnce(func() (bool, error) {
		calls++
		return true, nil
	})
	if err != nil || !ok {
		t.Fatalf("expected success")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}
