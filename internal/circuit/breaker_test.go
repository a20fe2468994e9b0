package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("loc-a", Config{})
	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected breaker to stay closed, got %v", b.State())
	}
}

func TestBreakerTripsOnRepeatedRetryableFailures(t *testing.T) {
	b := New("loc-b", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	})
	failure := marfserr.New(marfserr.QuotaExceeded, "transient") // retryable by default
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return failure })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected breaker to trip open after 3 consecutive failures, got %v", b.State())
	}
	if err := b.Execute(context.Background(), func(context.Context) error { return nil }); err != ErrOpen {
		t.Fatalf("expected ErrOpen while breaker is open, got %v", err)
	}
}

func TestBreakerIgnoresNonRetryableErrors(t *testing.T) {
	b := New("loc-c", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	nonRetryable := marfserr.New(marfserr.InvalidArgument, "bad path")
	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return nonRetryable })
	}
	if b.State() != StateClosed {
		t.Fatalf("expected a non-retryable error to never trip the breaker, got %v", b.State())
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b := New("loc-d", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     10 * time.Millisecond,
	})
	failure := marfserr.New(marfserr.QuotaExceeded, "transient")
	_ = b.Execute(context.Background(), func(context.Context) error { return failure })
	if b.State() != StateOpen {
		t.Fatalf("expected breaker to be open, got %v", b.State())
	}
	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected breaker to be half-open after its timeout elapsed, got %v", b.State())
	}
}

func TestManagerGetCreatesPerLocationBreakers(t *testing.T) {
	m := NewManager(Config{})
	a := m.Get("loc-a")
	b := m.Get("loc-a")
	c := m.Get("loc-b")
	if a != b {
		t.Fatalf("expected the same breaker instance on repeated Get for the same location")
	}
	if a == c {
		t.Fatalf("expected distinct breaker instances for distinct locations")
	}
}

func TestManagerHealthCheckReportsOpenLocations(t *testing.T) {
	m := NewManager(Config{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	failure := marfserr.New(marfserr.QuotaExceeded, "transient")
	_ = m.Get("loc-a").Execute(context.Background(), func(context.Context) error { return failure })
	if err := m.HealthCheck(); err == nil {
		t.Fatalf("expected HealthCheck to report the open loc-a breaker")
	}
}
