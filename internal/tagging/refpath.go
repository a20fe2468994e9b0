package tagging

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RefTreePath hashes (client-tag, stream-id, fileno) into shape's
// content-addressed directory tree and returns the directory components
// (not including the trailing basename, which is FTAG.MetaPath()).
//
// The tree has shape.Depth levels, each with shape.Breadth buckets; each
// bucket name is a shape.Digits-wide, zero-padded decimal. This decouples
// user-visible names from physical metadata placement while remaining
// fully deterministic from (ctag, streamid, fileno) alone, so any node can
// compute a file's location without consulting a directory of its own.
func RefTreePath(shape RefTreeShape, clientTag, streamID string, fileno int64) []string {
	if shape.Depth <= 0 || shape.Breadth <= 0 {
		return nil
	}
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%s|%d", clientTag, streamID, fileno)
	sum := h.Sum64()

	components := make([]string, shape.Depth)
	for level := 0; level < shape.Depth; level++ {
		bucket := sum % uint64(shape.Breadth)
		sum /= uint64(shape.Breadth)
		components[shape.Depth-1-level] = fmt.Sprintf("%0*d", shape.Digits, bucket)
	}
	return components
}

// RefTreeJoin is a convenience that joins RefTreePath's components with a
// trailing basename (typically FTAG.MetaPath()) using '/'.
func RefTreeJoin(shape RefTreeShape, clientTag, streamID string, fileno int64, basename string) string {
	components := RefTreePath(shape, clientTag, streamID, fileno)
	components = append(components, basename)
	return strings.Join(components, "/")
}
