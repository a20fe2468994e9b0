package datastream

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marfs-core/marfs/internal/dal"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/tagging"
)

// readAll drains a READ handle with a small buffer, the way a real caller
// reading an unknown-length file would, rather than relying on one big Read.
func readAll(ctx context.Context, t *testing.T, h *Handle) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 16)
	for {
		n, err := h.Read(ctx, buf)
		out = append(out, buf[:n]...)
		if err != nil && err != io.EOF {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			return out
		}
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	md := mdal.NewMemDriver()
	mc, err := md.NewCtxt(ctx, "ns-a")
	if err != nil {
		t.Fatalf("NewCtxt: %v", err)
	}
	da := dal.NewMemDriver()
	dc, err := da.NewCtxt(ctx, 12, dal.Location{})
	if err != nil {
		t.Fatalf("NewCtxt: %v", err)
	}
	repo := RepoConfig{
		ObjSize:  1 << 20,
		ObjFiles: 1024,
		Erasure:  tagging.Erasure{N: 10, E: 2, O: 0, PartSize: 65536},
		RefTree:  tagging.RefTreeShape{Breadth: 16, Depth: 2, Digits: 2},
	}
	return NewEngine(md, mc, da, dc, repo, nil)
}

func TestCreateWriteCloseReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	h, err := eng.Create(ctx, nil, "f1", "client-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := []byte("hello, marfs")
	if _, err := h.Write(ctx, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rh, err := eng.Open(ctx, nil, KindRead, "f1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := readAll(ctx, t, rh)
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestCreatePacksSmallFilesIntoSameObject(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	f1Data := bytes.Repeat([]byte{0xAA}, 2048)
	h1, err := eng.Create(ctx, nil, "f1", "client-a")
	if err != nil {
		t.Fatalf("Create f1: %v", err)
	}
	stream := h1.stream
	if _, err := h1.Write(ctx, f1Data); err != nil {
		t.Fatalf("Write f1: %v", err)
	}
	if err := h1.Close(ctx); err != nil {
		t.Fatalf("Close f1: %v", err)
	}

	f2Data := bytes.Repeat([]byte{0xBB}, 110)
	h2, err := eng.Create(ctx, stream, "f2", "client-a")
	if err != nil {
		t.Fatalf("Create f2: %v", err)
	}
	if h2.ftag.ObjNo != h1.ftag.ObjNo {
		t.Fatalf("expected f2 to pack into the same object as f1: f1.objno=%d f2.objno=%d", h1.ftag.ObjNo, h2.ftag.ObjNo)
	}
	if _, err := h2.Write(ctx, f2Data); err != nil {
		t.Fatalf("Write f2: %v", err)
	}
	if err := h2.Close(ctx); err != nil {
		t.Fatalf("Close f2: %v", err)
	}

	// Closing f2 re-seeds and re-commits the shared object; f1's own bytes
	// must still read back exactly, undisturbed by f2 packing in afterward.
	rh1, err := eng.Open(ctx, nil, KindRead, "f1")
	if err != nil {
		t.Fatalf("Open f1: %v", err)
	}
	got1 := readAll(ctx, t, rh1)
	if !bytes.Equal(got1, f1Data) {
		t.Fatalf("f1 packed round trip mismatch: got %d bytes, want %d bytes of 0xAA", len(got1), len(f1Data))
	}

	rh2, err := eng.Open(ctx, nil, KindRead, "f2")
	if err != nil {
		t.Fatalf("Open f2: %v", err)
	}
	got2 := readAll(ctx, t, rh2)
	if !bytes.Equal(got2, f2Data) {
		t.Fatalf("f2 packed round trip mismatch: got %d bytes, want %d bytes of 0xBB", len(got2), len(f2Data))
	}
}

func TestExtendRequiresOriginalCreateHandle(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	h, err := eng.Create(ctx, nil, "pf", "client-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Extend(ctx, 712400); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if h.ftag.State != tagging.StateSized {
		t.Fatalf("expected SIZED state after Extend, got %v", h.ftag.State)
	}
	h.kind = KindEdit
	if err := h.Extend(ctx, 712400); err == nil {
		t.Fatalf("expected Extend on a non-CREATE handle to fail")
	}
	h.kind = KindCreate
	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestTruncateRequiresCompState(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	h, err := eng.Create(ctx, nil, "f1", "client-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Truncate(ctx, 10); err == nil {
		t.Fatalf("expected truncate on a non-COMP handle to fail")
	}
	if _, err := h.Write(ctx, []byte("0123456789abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.ftag.State != tagging.StateComp {
		t.Fatalf("expected COMP state after close")
	}
	if h.ftag.AvailBytes != h.ftag.Bytes {
		t.Fatalf("COMP-state invariant violated: availbytes=%d bytes=%d", h.ftag.AvailBytes, h.ftag.Bytes)
	}
}

func TestTerminalHandleOnlyAllowsRelease(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	h, err := eng.Create(ctx, nil, "f1", "client-a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.terminal = true

	if _, err := h.Write(ctx, []byte("x")); err == nil {
		t.Fatalf("expected Write to fail on a terminal handle")
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("expected Release to always succeed, got %v", err)
	}
}
