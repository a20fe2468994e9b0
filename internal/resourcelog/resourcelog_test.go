package resourcelog

import (
	"path/filepath"
	"testing"
)

func TestStartAndCompleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlog")
	l, err := Open(path, ModeModify)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	op := Op{Type: OpDeleteObj, ClientTag: "client-a", StreamID: "s1", ObjNo: 4, Count: 1}
	id, err := l.StartOp(op)
	if err != nil {
		t.Fatalf("StartOp: %v", err)
	}
	op.ID = id

	progress, err := l.ProcessOp(op, "")
	if err != nil {
		t.Fatalf("ProcessOp: %v", err)
	}
	if progress <= 0 {
		t.Fatalf("expected positive progress on clean completion, got %d", progress)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ops, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 records (start+completion), got %d", len(ops))
	}
	if incomplete := Incomplete(ops); len(incomplete) != 0 {
		t.Fatalf("expected no incomplete ops after a clean completion, got %v", incomplete)
	}
}

func TestProcessOpReturnsNegativeProgressOnError(t *testing.T) {
	l := NewInMemory()
	op := Op{Type: OpRebuild, ObjNo: 9}
	id, err := l.StartOp(op)
	if err != nil {
		t.Fatalf("StartOp: %v", err)
	}
	op.ID = id

	progress, err := l.ProcessOp(op, "E_REBUILD_FAILED")
	if err != nil {
		t.Fatalf("ProcessOp: %v", err)
	}
	if progress >= 0 {
		t.Fatalf("expected negative progress on a failed completion, got %d", progress)
	}
}

func TestIncompleteSurvivesCrashBeforeCompletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlog")
	l, err := Open(path, ModeModify)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.StartOp(Op{Type: OpDeleteRef, ObjNo: 1}); err != nil {
		t.Fatalf("StartOp 1: %v", err)
	}
	id2, err := l.StartOp(Op{Type: OpDeleteRef, ObjNo: 2})
	if err != nil {
		t.Fatalf("StartOp 2: %v", err)
	}
	completed := Op{ID: id2, Type: OpDeleteRef, ObjNo: 2}
	if _, err := l.ProcessOp(completed, ""); err != nil {
		t.Fatalf("ProcessOp: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ops, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	incomplete := Incomplete(ops)
	if len(incomplete) != 1 {
		t.Fatalf("expected exactly 1 incomplete (crashed) op, got %d", len(incomplete))
	}
	if incomplete[0].ObjNo != 1 {
		t.Fatalf("expected the incomplete op to be objno=1, got %d", incomplete[0].ObjNo)
	}
}

func TestReadAllOnMissingFileIsEmptyNotError(t *testing.T) {
	ops, err := ReadAll(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("ReadAll on a missing log should not error, got %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected no ops from a missing log, got %d", len(ops))
	}
}

func TestModeRecordRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlog")
	l, err := Open(path, ModeModify)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.StartOp(Op{Type: OpDeleteObj}); err != nil {
		t.Fatalf("StartOp: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rl, err := Open(path, ModeRecord)
	if err != nil {
		t.Fatalf("Open record mode: %v", err)
	}
	defer rl.Close()
	if _, err := rl.StartOp(Op{Type: OpDeleteObj}); err == nil {
		t.Fatalf("expected StartOp to fail on a read-only record log")
	}
}
