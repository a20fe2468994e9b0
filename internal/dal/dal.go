// Package dal defines the Data Abstraction Layer contract: the
// erasure-coded object store the datastream engine stripes bytes across.
// Driver implementations (in-memory for tests, an S3-backed driver under
// dal/s3) are example collaborators; the interface is the specified
// surface the core actually consumes.
package dal

import (
	"context"

	"github.com/marfs-core/marfs/internal/tagging"
)

// Mode selects the access pattern ne_open prepares the handle for.
type Mode int

const (
	ModeReadAll Mode = iota
	ModeWrite
	ModeRebuild
)

// Location identifies where an object's erasure stripe is placed — the
// DAL driver's own notion of pool/node/path, opaque to the core.
type Location struct {
	Pool string
	Node string
	Path string
}

// Ctxt is a duplicable erasure context bound to a configured stripe width
// and block placement scheme, analogous to mdal.Ctxt but scoped to object
// I/O instead of metadata.
type Ctxt interface {
	Duplicate() (Ctxt, error)
	Close() error
}

// Stat reports an object's known size and erasure health without opening
// it for data I/O.
type Stat struct {
	Size      int64
	Erasure   tagging.Erasure
	Available bool
}

// Handle is an open erasure-object handle.
type Handle interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)

	// Close commits the object (for ModeWrite) or releases read
	// resources (for ModeReadAll/ModeRebuild).
	Close(ctx context.Context) error

	// Abort discards a ModeWrite handle without committing: used when a
	// DAL write failure sets the owning datastream handle to its
	// terminal error state.
	Abort(ctx context.Context) error
}

// SeedStatus reports the outcome of a rebuild attempt, matching
// ne_seed_status: a rebuild is successful when Code == 0; a non-zero but
// non-negative Code indicates residual damage callers retry at most once.
type SeedStatus struct {
	Code int
}

// DAL is the full data abstraction layer contract.
type DAL interface {
	NewCtxt(ctx context.Context, stripeWidth int, placement Location) (Ctxt, error)

	Open(ctx context.Context, c Ctxt, objectName string, loc Location, erasure tagging.Erasure, mode Mode) (Handle, error)
	Delete(ctx context.Context, c Ctxt, objectName string, loc Location) error
	StatObject(ctx context.Context, c Ctxt, objectName string, loc Location) (Stat, error)

	// Rebuild repairs objectName in place, returning a SeedStatus whose
	// Code indicates success (0), residual damage (>0, retry at most
	// once per spec.md §4.3), or failure (<0).
	Rebuild(ctx context.Context, c Ctxt, objectName string, loc Location, erasure tagging.Erasure) (SeedStatus, error)
}
