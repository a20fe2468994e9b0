// Package mdal defines the Metadata Abstraction Layer contract the core
// consumes: per-path and per-reference metadata operations, directory and
// scanner iteration, and namespace quota counters. One driver
// implementation (an in-memory driver, MemDriver) lives in this package as
// an example collaborator; the interfaces below are the specified surface.
package mdal

import (
	"context"
	"io/fs"
	"time"
)

// Ctxt is a duplicable metadata context bound to one namespace root. A
// Position (see the datastream/resourcemgr packages) holds one Ctxt,
// shared by reference-counted duplication across the dir/file handles it
// spawns — mirroring the source project's config_duplicate_position.
type Ctxt interface {
	// Duplicate returns a new reference-counted handle to the same
	// underlying namespace root.
	Duplicate() (Ctxt, error)
	// Close releases this context's reference. The underlying root is
	// only actually torn down once every duplicate has been closed.
	Close() error
}

// File is an open metadata file handle (not a data object — purely the
// MDAL-side inode backing a reference path or a direct file path).
type File interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
	Lseek(ctx context.Context, offset int64, whence int) (int64, error)
	Ftruncate(ctx context.Context, size int64) error
	Close(ctx context.Context) error

	Fsetxattr(ctx context.Context, name string, value []byte) error
	Fgetxattr(ctx context.Context, name string) ([]byte, error)
	Fremovexattr(ctx context.Context, name string) error
	Flistxattr(ctx context.Context) ([]string, error)
}

// DirEntry is one entry returned by Readdir/Scan.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Dir is an open directory iteration handle.
type Dir interface {
	Readdir(ctx context.Context) (*DirEntry, error) // nil, nil at end of directory
	Close(ctx context.Context) error
}

// Scanner walks an entire reference subtree (used by the streamwalker's
// producer side and by a resource-manager full-namespace sweep), unlike
// Dir which only lists one directory level.
type Scanner interface {
	Scan(ctx context.Context) (*DirEntry, error) // nil, nil at end of tree
	Close(ctx context.Context) error
}

// ExtFileInfo is the fs.FileInfo extension drivers may implement to expose
// hard-link count and change-time, both needed by GC eligibility checks but
// absent from fs.FileInfo itself. Callers type-assert Stat/StatRef's result
// against this interface rather than unpacking a driver-specific Sys()
// value.
type ExtFileInfo interface {
	fs.FileInfo
	Nlink() int
	CTime() time.Time
}

// OpenFlags mirrors POSIX O_* semantics restricted to what the core needs.
type OpenFlags int

const (
	OReadOnly OpenFlags = 1 << iota
	OWriteOnly
	OReadWrite
	OCreate
	OExclusive
	OTruncate
)

// DataUsage and InodeUsage are the two quota counters the resource
// manager writes back per namespace after each pass.
type DataUsage struct {
	BytesUsed int64
}

type InodeUsage struct {
	FilesUsed int64
}

// MDAL is the full metadata abstraction layer contract.
type MDAL interface {
	// NewCtxt creates a namespace-rooted context. namespacePath identifies
	// the namespace's metadata root as established by the (out-of-scope)
	// config loader.
	NewCtxt(ctx context.Context, namespacePath string) (Ctxt, error)

	// Direct, path-relative operations (mirroring POSIX syscalls).
	Stat(ctx context.Context, c Ctxt, path string) (fs.FileInfo, error)
	Access(ctx context.Context, c Ctxt, path string, mode fs.FileMode) error
	Chmod(ctx context.Context, c Ctxt, path string, mode fs.FileMode) error
	Chown(ctx context.Context, c Ctxt, path string, uid, gid int) error
	Utimens(ctx context.Context, c Ctxt, path string, atime, mtime time.Time) error
	Unlink(ctx context.Context, c Ctxt, path string) error
	Rename(ctx context.Context, c Ctxt, oldPath, newPath string) error
	Link(ctx context.Context, c Ctxt, oldPath, newPath string) error
	Symlink(ctx context.Context, c Ctxt, target, linkPath string) error
	Readlink(ctx context.Context, c Ctxt, path string) (string, error)
	Open(ctx context.Context, c Ctxt, path string, flags OpenFlags, mode fs.FileMode) (File, error)

	// Namespace-root variants: operate directly on the namespace root
	// without requiring a path-bearing Ctxt operation first.
	StatNamespace(ctx context.Context, c Ctxt) (fs.FileInfo, error)
	ChmodNamespace(ctx context.Context, c Ctxt, mode fs.FileMode) error

	// Reference-path variants. A reference operation is atomic with
	// respect to crashes: the path either exists fully populated or does
	// not exist at all.
	OpenRef(ctx context.Context, c Ctxt, refPath string, flags OpenFlags, mode fs.FileMode) (File, error)
	UnlinkRef(ctx context.Context, c Ctxt, refPath string) error
	StatRef(ctx context.Context, c Ctxt, refPath string) (fs.FileInfo, error)
	LinkRef(ctx context.Context, c Ctxt, refPath, userPath string) error

	// Directory and scanner iteration.
	OpenDir(ctx context.Context, c Ctxt, path string) (Dir, error)
	OpenDirNamespace(ctx context.Context, c Ctxt) (Dir, error)
	DestroyRefDir(ctx context.Context, c Ctxt, refDirPath string) error
	OpenScanner(ctx context.Context, c Ctxt, rootRefPath string) (Scanner, error)

	// Quota counters.
	GetDataUsage(ctx context.Context, c Ctxt) (DataUsage, error)
	SetDataUsage(ctx context.Context, c Ctxt, usage DataUsage) error
	GetInodeUsage(ctx context.Context, c Ctxt) (InodeUsage, error)
	SetInodeUsage(ctx context.Context, c Ctxt, usage InodeUsage) error
}
