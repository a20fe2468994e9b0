package datastream

import "github.com/marfs-core/marfs/internal/tagging"

// Capacity returns the usable data capacity of one object for a file
// currently at dataState, given the object size, recovery header length,
// and that file's own recovery footer size.
//
// Per spec: capacity is O-H-R once the file has reached FIN (no further
// footer will be appended to the current object — it was already
// written), and O-H-R-R beforehand, reserving room for the footer that
// write() must still be able to emit in this object.
func Capacity(objSize int64, headerLen int, recoveryBytes int64, state tagging.DataState) int64 {
	cap := objSize - int64(headerLen) - recoveryBytes
	if state < tagging.StateFin {
		cap -= recoveryBytes
	}
	if cap < 0 {
		return 0
	}
	return cap
}

// FinalObjNo returns the last object number a file of cap-capacity
// objects, starting at ftag.ObjNo with ftag.Offset bytes already
// consumed in the first object, must reach to hold ftag.Bytes total
// bytes.
func FinalObjNo(ftag *tagging.FTAG, cap int64) int64 {
	if cap <= 0 {
		return ftag.ObjNo
	}
	total := ftag.Offset + ftag.Bytes
	chunks := (total + cap - 1) / cap
	if chunks == 0 {
		return ftag.ObjNo
	}
	last := ftag.ObjNo + chunks - 1
	// Exact-multiple alignment when the file has already reached FIN:
	// the final footer was written at the end of the previous object,
	// so no additional object was opened purely to hold it.
	if ftag.State >= tagging.StateFin && total%cap == 0 {
		last--
	}
	return last
}

// ChunkBounds returns the (start, size) byte range — in file-relative
// logical offsets, not object offsets — that chunk index k of a file of
// totalSize bytes occupies, given per-object capacity cap. Parallel
// writers call this with the same (totalSize, cap) and always compute
// identical, non-overlapping ranges.
func ChunkBounds(totalSize, cap int64, k int64) (start, size int64) {
	if cap <= 0 {
		return 0, 0
	}
	start = k * cap
	if start >= totalSize {
		return start, 0
	}
	remaining := totalSize - start
	if remaining > cap {
		return start, cap
	}
	return start, remaining
}

// ChunkCount returns how many chunks a file of totalSize bytes occupies
// at the given per-object capacity.
func ChunkCount(totalSize, cap int64) int64 {
	if cap <= 0 {
		return 0
	}
	if totalSize == 0 {
		return 1
	}
	return (totalSize + cap - 1) / cap
}

// ObjNoForOffset returns the object number (relative to the file's first
// object) that logical file offset off falls into.
func ObjNoForOffset(off, cap int64) int64 {
	if cap <= 0 {
		return 0
	}
	return off / cap
}
