// Package workqueue is the bounded producer/consumer queue of
// resource-manager work items that decouples reference-directory
// scanning from stream walking (SPEC_FULL.md component 15).
package workqueue

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/marfs-core/marfs/internal/tagging"
)

// ItemType identifies what kind of reference-tree entry a work item
// names, mirroring spec.md §4.7 item 4's work-item shape.
type ItemType int

const (
	// ItemStreamRoot names a reference-path that is the first file of a
	// stream, to be handed to a streamwalker.
	ItemStreamRoot ItemType = iota
	// ItemRebuildCandidate names a reference-path whose RTAG already
	// flagged it unhealthy, bypassing the normal walk.
	ItemRebuildCandidate
)

// Item is one unit of resource-manager work: a reference-path plus
// whatever tag the producer already had to read off disk to classify
// it, so the consumer does not re-stat/re-read it.
type Item struct {
	Type    ItemType
	RefPath string
	FTAG    *tagging.FTAG
	RTAG    *tagging.RTAG
}

// Stats tracks queue throughput for status reporting.
type Stats struct {
	Submitted int64
	Processed int64
	Failed    int64
}

// Queue is a bounded channel of Items shared by N producers and
// consumed by a fixed-size worker pool.
type Queue struct {
	items chan Item

	submitted, processed, failed int64
}

// New returns a Queue buffering up to capacity unconsumed items before
// Submit blocks.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{items: make(chan Item, capacity)}
}

// Submit enqueues item, blocking until there is room or ctx is done.
// Call from a producer goroutine; pair with Close when the
// producer has no more items.
func (q *Queue) Submit(ctx context.Context, item Item) error {
	select {
	case q.items <- item:
		atomic.AddInt64(&q.submitted, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals that no more items will be submitted. A caller running
// several producer goroutines should wait for all of them to return
// before calling Close.
func (q *Queue) Close() {
	close(q.items)
}

// HandlerFunc processes one work item. A non-nil error is counted as a
// failure but does not stop the pool from draining the remaining items.
type HandlerFunc func(ctx context.Context, item Item) error

// Drain runs handler over every item the queue yields, using up to
// concurrency worker goroutines, until the queue is closed and
// drained or ctx is done. It returns once all consumers have finished.
func (q *Queue) Drain(ctx context.Context, concurrency int, handler HandlerFunc) Stats {
	if concurrency <= 0 {
		concurrency = 1
	}
	p := pool.New().WithMaxGoroutines(concurrency)

	for {
		select {
		case item, ok := <-q.items:
			if !ok {
				p.Wait()
				return q.snapshot()
			}
			p.Go(func() {
				if err := handler(ctx, item); err != nil {
					atomic.AddInt64(&q.failed, 1)
				}
				atomic.AddInt64(&q.processed, 1)
			})
		case <-ctx.Done():
			p.Wait()
			return q.snapshot()
		}
	}
}

func (q *Queue) snapshot() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&q.submitted),
		Processed: atomic.LoadInt64(&q.processed),
		Failed:    atomic.LoadInt64(&q.failed),
	}
}

// Stats returns a point-in-time snapshot of queue throughput.
func (q *Queue) Stats() Stats {
	return q.snapshot()
}
