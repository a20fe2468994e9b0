package streamwalker

import (
	"context"
	"testing"
	"time"

	"github.com/marfs-core/marfs/internal/datastream"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/tagging"
)

const (
	clientTag = "client-a"
	streamID  = "stream-1"
)

var refTree = tagging.RefTreeShape{Breadth: 4, Depth: 1, Digits: 2}

func testRepo() datastream.RepoConfig {
	return datastream.RepoConfig{
		ObjSize:  1 << 20,
		ObjFiles: 8,
		Erasure:  tagging.Erasure{N: 10, E: 2, O: 0, PartSize: 65536},
		RefTree:  refTree,
	}
}

// putFile writes a reference file with the given FTAG and link count.
func putFile(t *testing.T, ctx context.Context, md mdal.MDAL, mc mdal.Ctxt, ftag *tagging.FTAG, nlink int) {
	t.Helper()
	refPath := tagging.RefTreeJoin(refTree, clientTag, streamID, ftag.FileNo, ftag.MetaPath())
	f, err := md.OpenRef(ctx, mc, refPath, mdal.OCreate|mdal.OReadWrite, 0644)
	if err != nil {
		t.Fatalf("OpenRef %s: %v", refPath, err)
	}
	if err := f.Fsetxattr(ctx, tagging.FTAGName, []byte(ftag.ToStr())); err != nil {
		t.Fatalf("Fsetxattr: %v", err)
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i := 1; i < nlink; i++ {
		if err := md.Link(ctx, mc, refPath, refPath+"-userlink"); err != nil {
			t.Fatalf("Link: %v", err)
		}
	}
}

func baseFTAG(fileno, objno int64, bytes int64, eos bool) *tagging.FTAG {
	return &tagging.FTAG{
		MajorVersion: tagging.FTAGCurrentMajorVersion,
		MinorVersion: tagging.FTAGCurrentMinorVersion,
		ClientTag:    clientTag,
		StreamID:     streamID,
		ObjFiles:     8,
		ObjSize:      1 << 20,
		RefTree:      refTree,
		FileNo:       fileno,
		ObjNo:        objno,
		EndOfStream:  eos,
		Protection:   tagging.Erasure{N: 10, E: 2, O: 0, PartSize: 65536},
		Bytes:        bytes,
		AvailBytes:   bytes,
		State:        tagging.StateComp,
		Access:       tagging.AccessFlags{Readable: true},
	}
}

func TestActiveFileBlocksObjectDeletion(t *testing.T) {
	ctx := context.Background()
	md := mdal.NewMemDriver()
	mc, err := md.NewCtxt(ctx, "ns-a")
	if err != nil {
		t.Fatalf("NewCtxt: %v", err)
	}

	putFile(t, ctx, md, mc, baseFTAG(0, 0, 1024, false), 2) // still linked
	putFile(t, ctx, md, mc, baseFTAG(1, 0, 1024, true), 1)  // unlinked, EOS

	w := New(md, mc, testRepo(), nil, clientTag, streamID, Thresholds{GC: time.Now().Add(time.Hour).Unix()})

	var allGC []string
	for !w.Done() {
		gcOps, _, _, done, err := w.Iterate(ctx)
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		for _, op := range gcOps {
			allGC = append(allGC, op.Type.String())
		}
		if done {
			break
		}
	}

	for _, kind := range allGC {
		if kind == "DELETE-OBJ" {
			t.Fatalf("object 0 has an active file, should never be queued for deletion; got ops %v", allGC)
		}
	}
	counts := w.Counts()
	if counts.DelFiles != 1 {
		t.Fatalf("expected exactly 1 DELETE-REF (fileno 1), got %d", counts.DelFiles)
	}
}

func TestFullyUnlinkedObjectIsQueuedForDeletion(t *testing.T) {
	ctx := context.Background()
	md := mdal.NewMemDriver()
	mc, err := md.NewCtxt(ctx, "ns-a")
	if err != nil {
		t.Fatalf("NewCtxt: %v", err)
	}

	putFile(t, ctx, md, mc, baseFTAG(0, 0, 1024, false), 1) // unlinked, object 0
	putFile(t, ctx, md, mc, baseFTAG(1, 1, 1024, true), 1)  // unlinked, object 1, EOS

	w := New(md, mc, testRepo(), nil, clientTag, streamID, Thresholds{GC: time.Now().Add(time.Hour).Unix()})

	var delObjs, delRefs int
	for !w.Done() {
		gcOps, _, _, done, err := w.Iterate(ctx)
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		for _, op := range gcOps {
			switch op.Type.String() {
			case "DELETE-OBJ":
				delObjs++
			case "DELETE-REF":
				delRefs++
			}
		}
		if done {
			break
		}
	}
	if delObjs != 2 {
		t.Fatalf("expected both object 0 and object 1 to be queued for deletion, got %d", delObjs)
	}
	if delRefs != 2 {
		t.Fatalf("expected both reference files to be queued for deletion, got %d", delRefs)
	}
}

func TestVolatileFileIsNotCollected(t *testing.T) {
	ctx := context.Background()
	md := mdal.NewMemDriver()
	mc, err := md.NewCtxt(ctx, "ns-a")
	if err != nil {
		t.Fatalf("NewCtxt: %v", err)
	}

	putFile(t, ctx, md, mc, baseFTAG(0, 0, 1024, true), 1)

	// Threshold in the past: this file's ctime (just now) is >= the
	// threshold, so it is volatile and must not be collected.
	w := New(md, mc, testRepo(), nil, clientTag, streamID, Thresholds{GC: time.Now().Add(-time.Hour).Unix()})

	for !w.Done() {
		_, _, _, done, err := w.Iterate(ctx)
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		if done {
			break
		}
	}
	counts := w.Counts()
	if counts.DelFiles != 0 {
		t.Fatalf("expected no deletions of a volatile file, got %d", counts.DelFiles)
	}
	if counts.VolFiles != 1 {
		t.Fatalf("expected 1 volatile file counted, got %d", counts.VolFiles)
	}
}

func TestZeroThresholdDisablesGC(t *testing.T) {
	ctx := context.Background()
	md := mdal.NewMemDriver()
	mc, err := md.NewCtxt(ctx, "ns-a")
	if err != nil {
		t.Fatalf("NewCtxt: %v", err)
	}
	putFile(t, ctx, md, mc, baseFTAG(0, 0, 1024, true), 1)

	w := New(md, mc, testRepo(), nil, clientTag, streamID, Thresholds{})
	for !w.Done() {
		gcOps, _, _, done, err := w.Iterate(ctx)
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		if len(gcOps) != 0 {
			t.Fatalf("expected no GC ops with GC threshold disabled, got %v", gcOps)
		}
		if done {
			break
		}
	}
}
