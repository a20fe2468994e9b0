package datastream

import (
	"testing"

	"github.com/marfs-core/marfs/internal/tagging"
)

func TestChunkBoundsCoverWholeFileWithoutOverlap(t *testing.T) {
	const total = int64(712400)
	const cap = int64(81920)

	count := ChunkCount(total, cap)
	var covered int64
	for k := int64(0); k < count; k++ {
		start, size := ChunkBounds(total, cap, k)
		if start != covered {
			t.Fatalf("chunk %d starts at %d, expected %d (no gaps/overlaps)", k, start, covered)
		}
		covered += size
	}
	if covered != total {
		t.Fatalf("chunks covered %d bytes, expected %d", covered, total)
	}
}

func TestChunkBoundsOutOfRangeIsEmpty(t *testing.T) {
	start, size := ChunkBounds(100, 40, 10)
	if size != 0 {
		t.Fatalf("expected an out-of-range chunk index to have zero size, got start=%d size=%d", start, size)
	}
}

func TestCapacityReservesExtraFooterBeforeFIN(t *testing.T) {
	objSize := int64(1 << 20)
	headerLen := 64
	recovery := int64(128)

	beforeFIN := Capacity(objSize, headerLen, recovery, tagging.StateSized)
	atFIN := Capacity(objSize, headerLen, recovery, tagging.StateFin)

	if atFIN-beforeFIN != recovery {
		t.Fatalf("expected FIN-state capacity to exceed pre-FIN capacity by exactly one recovery footer: beforeFIN=%d atFIN=%d", beforeFIN, atFIN)
	}
}

func TestFinalObjNoMatchesChunkCount(t *testing.T) {
	cap := int64(81920)
	ftag := &tagging.FTAG{ObjNo: 5, Offset: 0, Bytes: 3 * cap, State: tagging.StateSized}
	last := FinalObjNo(ftag, cap)
	if last != ftag.ObjNo+2 {
		t.Fatalf("expected 3 full chunks to span objects %d..%d, got final=%d", ftag.ObjNo, ftag.ObjNo+2, last)
	}
}
