package workqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDrainProcessesEverySubmittedItem(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		for i := 0; i < 20; i++ {
			if err := q.Submit(ctx, Item{Type: ItemStreamRoot, RefPath: "ref"}); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}
		q.Close()
	}()

	var seen int64
	stats := q.Drain(ctx, 4, func(ctx context.Context, item Item) error {
		atomic.AddInt64(&seen, 1)
		return nil
	})
	producer.Wait()

	if seen != 20 {
		t.Fatalf("expected 20 items processed, got %d", seen)
	}
	if stats.Processed != 20 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDrainCountsHandlerFailures(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	go func() {
		_ = q.Submit(ctx, Item{Type: ItemRebuildCandidate, RefPath: "a"})
		_ = q.Submit(ctx, Item{Type: ItemStreamRoot, RefPath: "b"})
		q.Close()
	}()

	stats := q.Drain(ctx, 2, func(ctx context.Context, item Item) error {
		if item.Type == ItemRebuildCandidate {
			return context.DeadlineExceeded
		}
		return nil
	})

	if stats.Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", stats.Failed)
	}
	if stats.Processed != 2 {
		t.Fatalf("expected 2 processed (failures still count as processed), got %d", stats.Processed)
	}
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := q.Submit(ctx, Item{RefPath: "fills-the-buffer"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancel()
	if err := q.Submit(ctx, Item{RefPath: "blocked"}); err == nil {
		t.Fatalf("expected Submit to return an error once ctx is cancelled and the buffer is full")
	}
}

func TestDrainStopsOnContextCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Stats, 1)
	go func() {
		done <- q.Drain(ctx, 1, func(ctx context.Context, item Item) error {
			return nil
		})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Drain to return promptly after context cancellation")
	}
}
