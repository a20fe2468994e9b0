package marfsrecovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marfs-core/marfs/internal/resourcelog"
)

func TestReplayOnMissingLogReturnsEmpty(t *testing.T) {
	ops, err := Replay(filepath.Join(t.TempDir(), "does-not-exist.log"))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected no incomplete ops for a missing log, got %d", len(ops))
	}
}

func TestReplaySurfacesOpsWithNoCompletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsrc.log")
	l, err := resourcelog.Open(path, resourcelog.ModeModify)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := l.StartOp(resourcelog.Op{Type: resourcelog.OpRepack, FileNo: 7})
	if err != nil {
		t.Fatalf("StartOp: %v", err)
	}
	if _, err := l.StartOp(resourcelog.Op{Type: resourcelog.OpDeleteObj, ObjNo: 3}); err != nil {
		t.Fatalf("StartOp: %v", err)
	}
	if _, err := l.ProcessOp(resourcelog.Op{ID: id, Type: resourcelog.OpRepack, FileNo: 7}, ""); err != nil {
		t.Fatalf("ProcessOp: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	incomplete, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].Type != resourcelog.OpDeleteObj {
		t.Fatalf("expected exactly the unfinished DELETE-OBJ op, got %+v", incomplete)
	}
	_ = os.Remove(path)
}

func TestRecoverRunsCleanupThenRequeueInOrder(t *testing.T) {
	incomplete := []resourcelog.Op{
		{ID: 1, Type: resourcelog.OpDeleteObj, ObjNo: 1},
		{ID: 2, Type: resourcelog.OpRepack, FileNo: 2},
	}

	var events []string
	cleanup := func(ctx context.Context, op resourcelog.Op) error {
		events = append(events, "cleanup:"+op.Type.String())
		return nil
	}
	requeue := func(ctx context.Context, op resourcelog.Op) error {
		events = append(events, "requeue:"+op.Type.String())
		return nil
	}

	if err := Recover(context.Background(), nil, incomplete, cleanup, requeue); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	want := []string{"cleanup:DELETE-OBJ", "requeue:DELETE-OBJ", "cleanup:REPACK", "requeue:REPACK"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestRecoverStopsAtFirstCleanupFailure(t *testing.T) {
	incomplete := []resourcelog.Op{
		{ID: 1, Type: resourcelog.OpDeleteRef, FileNo: 1},
		{ID: 2, Type: resourcelog.OpRebuild, ObjNo: 2},
	}
	cleanupCalls := 0
	cleanup := func(ctx context.Context, op resourcelog.Op) error {
		cleanupCalls++
		return context.DeadlineExceeded
	}
	requeueCalls := 0
	requeue := func(ctx context.Context, op resourcelog.Op) error {
		requeueCalls++
		return nil
	}

	if err := Recover(context.Background(), nil, incomplete, cleanup, requeue); err == nil {
		t.Fatalf("expected Recover to return the cleanup error")
	}
	if cleanupCalls != 1 || requeueCalls != 0 {
		t.Fatalf("expected to stop after the first failed cleanup, got cleanupCalls=%d requeueCalls=%d", cleanupCalls, requeueCalls)
	}
}
