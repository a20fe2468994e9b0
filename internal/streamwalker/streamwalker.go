// Package streamwalker implements the stateful, single-datastream
// iterator the resource manager drives during a GC/repack/rebuild pass:
// opened on a stream's fileno-zero reference path, it walks fileno order
// and emits operation chains (delete-object, delete-ref, repack,
// rebuild) plus running aggregate counts, one `Iterate` call at a time so
// the driver can pipeline execution against the emitted ops while the
// walker continues scanning (spec.md §4.6).
package streamwalker

import (
	"context"
	"io/fs"

	"github.com/marfs-core/marfs/internal/datastream"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/recordcodec"
	"github.com/marfs-core/marfs/internal/refcache"
	"github.com/marfs-core/marfs/internal/resourcelog"
	"github.com/marfs-core/marfs/internal/tagging"
	"github.com/marfs-core/marfs/pkg/marfserr"
)

// Thresholds parameterises one walk. A zero value disables that
// operation class entirely, short-circuiting the xattr/health retrieval
// that class would otherwise require.
type Thresholds struct {
	// GC is a ctime cutoff (unix seconds): an unlinked file is GC-eligible
	// only once its ctime is strictly before this value.
	GC int64
	// Repack is a ctime cutoff below which an under-packed COMP object is
	// considered stable enough to repack.
	Repack int64
	// Rebuild is a rebuild-marker age cutoff; an object with an unhealthy
	// RTAG older than this is re-queued for rebuild.
	Rebuild int64
}

func (t Thresholds) gcEnabled() bool      { return t.GC != 0 }
func (t Thresholds) repackEnabled() bool  { return t.Repack != 0 }
func (t Thresholds) rebuildEnabled() bool { return t.Rebuild != 0 }

// Counts is the running aggregate the driver writes back through
// MDAL.SetDataUsage/SetInodeUsage once a namespace's walkers all finish.
type Counts struct {
	FileUsage int64 // live (non-unlinked) files observed
	ByteUsage int64 // live bytes observed
	FileCount int64 // total files observed, live or not
	ObjCount  int64 // distinct objects observed
	ByteCount int64 // total bytes observed across all files

	DelObjs  int64 // objects queued for DELETE-OBJ
	DelFiles int64 // reference files queued for DELETE-REF
	VolFiles int64 // unlinked files too recent to collect (volatile)

	RpckFiles int64
	RpckBytes int64
	RbldObjs  int64
	RbldBytes int64
}

// Merge folds another rank's (or another walker's) Counts into a copy
// of c, field by field. It satisfies cluster.Accumulator so per-rank
// totals can be reduced to one at the end of a resource-manager pass.
func (c Counts) Merge(other Counts) Counts {
	return Counts{
		FileUsage: c.FileUsage + other.FileUsage,
		ByteUsage: c.ByteUsage + other.ByteUsage,
		FileCount: c.FileCount + other.FileCount,
		ObjCount:  c.ObjCount + other.ObjCount,
		ByteCount: c.ByteCount + other.ByteCount,
		DelObjs:   c.DelObjs + other.DelObjs,
		DelFiles:  c.DelFiles + other.DelFiles,
		VolFiles:  c.VolFiles + other.VolFiles,
		RpckFiles: c.RpckFiles + other.RpckFiles,
		RpckBytes: c.RpckBytes + other.RpckBytes,
		RbldObjs:  c.RbldObjs + other.RbldObjs,
		RbldBytes: c.RbldBytes + other.RbldBytes,
	}
}

// repackSmallObjectFraction is the fill ratio (a file's bytes against
// repo.ObjSize) below which a COMP file's object is considered
// under-packed and worth a repack pass, once RepackThreshold also allows
// it by age.
const repackSmallObjectFraction = 0.5

// Walker iterates one datastream's reference-path chain in fileno order.
type Walker struct {
	md   mdal.MDAL
	mc   mdal.Ctxt
	repo datastream.RepoConfig
	cache *refcache.Cache

	clientTag string
	streamID  string

	curFileNo int64
	done      bool

	// Per-object tracking, reset whenever fileno crosses an object
	// boundary (ftag.ObjNo changes from the previous file's).
	curTrackedObjNo int64
	haveTrackedObj  bool
	activeFiles     int64
	activeBytes     int64
	activeIndex     int64 // fileno of the most recently seen multiply-linked file

	delzero bool

	counts Counts
	th     Thresholds
}

// New opens a walker on the stream identified by (clientTag, streamID),
// starting at fileno 0. cache may be nil, in which case every lookup
// bypasses caching.
func New(md mdal.MDAL, mc mdal.Ctxt, repo datastream.RepoConfig, cache *refcache.Cache, clientTag, streamID string, th Thresholds) *Walker {
	if cache == nil {
		cache = refcache.New(0)
	}
	return &Walker{
		md:        md,
		mc:        mc,
		repo:      repo,
		cache:     cache,
		clientTag: clientTag,
		streamID:  streamID,
		th:        th,
	}
}

// Counts returns the walker's running aggregate.
func (w *Walker) Counts() Counts { return w.counts }

// Done reports whether the walker has reached end of stream.
func (w *Walker) Done() bool { return w.done }

func (w *Walker) refPathFor(fileno int64) string {
	probe := &tagging.FTAG{ClientTag: w.clientTag, StreamID: w.streamID, FileNo: fileno}
	return tagging.RefTreeJoin(w.repo.RefTree, w.clientTag, w.streamID, fileno, probe.MetaPath())
}

func (w *Walker) loadFTAG(ctx context.Context, fileno int64) (*tagging.FTAG, fs.FileInfo, error) {
	refPath := w.refPathFor(fileno)
	if cached, ok := w.cache.Get(refPath); ok {
		info, err := w.md.StatRef(ctx, w.mc, refPath)
		if err != nil {
			return nil, nil, err
		}
		return cached, info, nil
	}

	info, err := w.md.StatRef(ctx, w.mc, refPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := w.md.OpenRef(ctx, w.mc, refPath, mdal.OReadOnly, 0)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close(ctx)

	raw, err := f.Fgetxattr(ctx, tagging.FTAGName)
	if err != nil {
		return nil, nil, err
	}
	ftag, err := tagging.FTAGFromStr(string(raw))
	if err != nil {
		return nil, nil, err
	}
	w.cache.Put(refPath, ftag)
	return ftag, info, nil
}

func (w *Walker) loadGCTAG(ctx context.Context, fileno int64) (*tagging.GCTAG, error) {
	refPath := w.refPathFor(fileno)
	f, err := w.md.OpenRef(ctx, w.mc, refPath, mdal.OReadOnly, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	raw, err := f.Fgetxattr(ctx, tagging.GCTAGName)
	if err != nil {
		if marfserr.CodeOf(err) == marfserr.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return tagging.GCTAGFromStr(string(raw))
}

func (w *Walker) capacityFor(ftag *tagging.FTAG) int64 {
	headerLen := recordcodec.HeaderLen(w.clientTag, w.streamID)
	return datastream.Capacity(w.repo.ObjSize, headerLen, ftag.RecoveryBytes, ftag.State)
}

// finalizeObject decides whether the just-completed object (curTrackedObjNo)
// is eligible for a DELETE-OBJ op: no still-active (nlink>1) or volatile
// (unlinked but too recent to collect) file referenced any chunk of it. delzero-zero is handled specially: object 0 is only ever
// queued once per stream, memoized via w.delzero.
func (w *Walker) finalizeObject(gcOps *[]resourcelog.Op) {
	if !w.haveTrackedObj || !w.th.gcEnabled() {
		return
	}
	if w.activeFiles > 0 {
		return
	}
	if w.curTrackedObjNo == 0 {
		if w.delzero {
			return
		}
		w.delzero = true
	}
	w.counts.DelObjs++
	*gcOps = append(*gcOps, resourcelog.Op{
		Type:      resourcelog.OpDeleteObj,
		ClientTag: w.clientTag,
		StreamID:  w.streamID,
		ObjNo:     w.curTrackedObjNo,
		Count:     1,
	})
}

// Iterate advances the walk, returning as soon as any of the three
// operation chains has at least one entry, or the stream is exhausted.
// done is true once the walker will never produce further work.
func (w *Walker) Iterate(ctx context.Context) (gcOps, repackOps, rebuildOps []resourcelog.Op, done bool, err error) {
	if w.done {
		return nil, nil, nil, true, nil
	}

	for {
		ftag, info, loadErr := w.loadFTAG(ctx, w.curFileNo)
		if loadErr != nil {
			if marfserr.CodeOf(loadErr) == marfserr.NotFound {
				// Any missing FTAG is treated as end-of-stream, at any
				// fileno (including 0) and whatever state the previous
				// file reached; the previous file's state is not checked.
				w.finalizeObject(&gcOps)
				w.done = true
				return gcOps, repackOps, rebuildOps, true, nil
			}
			return gcOps, repackOps, rebuildOps, false, loadErr
		}

		newObject := !w.haveTrackedObj || ftag.ObjNo != w.curTrackedObjNo
		if !w.haveTrackedObj {
			w.curTrackedObjNo = ftag.ObjNo
			w.haveTrackedObj = true
		} else if ftag.ObjNo != w.curTrackedObjNo {
			w.finalizeObject(&gcOps)
			w.activeFiles = 0
			w.activeBytes = 0
			w.curTrackedObjNo = ftag.ObjNo
		}

		w.counts.FileCount++
		w.counts.ByteCount += ftag.Bytes
		if newObject {
			w.counts.ObjCount++
		}

		ext, _ := info.(mdal.ExtFileInfo)
		nlink := 1
		if ext != nil {
			nlink = ext.Nlink()
		}

		if nlink > 1 {
			w.activeIndex = w.curFileNo
			w.activeFiles++
			w.activeBytes += ftag.Bytes
			w.counts.FileUsage++
			w.counts.ByteUsage += ftag.Bytes
		} else if w.th.gcEnabled() {
			var ctime int64
			if ext != nil {
				ctime = ext.CTime().Unix()
			}
			if ctime >= w.th.GC {
				w.counts.VolFiles++
				w.activeFiles++
			} else {
				gctag, gcErr := w.loadGCTAG(ctx, w.curFileNo)
				if gcErr == nil && gctag != nil && gctag.InProg {
					// A prior pass crashed mid-deletion of this
					// reference. No special handling: the DELETE-REF
					// below is the same one emitted for any eligible
					// file, and the in-progress flag is not cleared.
				}
				w.counts.DelFiles++
				gcOps = append(gcOps, resourcelog.Op{
					Type:      resourcelog.OpDeleteRef,
					ClientTag: w.clientTag,
					StreamID:  w.streamID,
					FileNo:    w.curFileNo,
					ObjNo:     ftag.ObjNo,
					Count:     1,
				})
			}
		}

		if w.th.repackEnabled() && ftag.State == tagging.StateComp {
			var ctime int64
			if ext != nil {
				ctime = ext.CTime().Unix()
			}
			cap := w.capacityFor(ftag)
			if ctime < w.th.Repack && cap > 0 {
				fill := float64(ftag.Bytes) / float64(w.repo.ObjSize)
				if fill < repackSmallObjectFraction && w.repo.ObjFiles > 1 {
					w.counts.RpckFiles++
					w.counts.RpckBytes += ftag.Bytes
					repackOps = append(repackOps, resourcelog.Op{
						Type:         resourcelog.OpRepack,
						ClientTag:    w.clientTag,
						StreamID:     w.streamID,
						FileNo:       w.curFileNo,
						ObjNo:        ftag.ObjNo,
						Count:        1,
						ExtendedInfo: ftag.RepackMarker(),
					})
				}
			}
		}

		if w.th.rebuildEnabled() {
			rtag, rtagErr := w.loadRTAG(ctx, ftag.ObjNo)
			if rtagErr == nil && rtag != nil && !rtag.AllHealthy() && rtag.Time < w.th.Rebuild {
				w.counts.RbldObjs++
				w.counts.RbldBytes += ftag.Bytes
				rebuildOps = append(rebuildOps, resourcelog.Op{
					Type:         resourcelog.OpRebuild,
					ClientTag:    w.clientTag,
					StreamID:     w.streamID,
					ObjNo:        ftag.ObjNo,
					Count:        1,
					ExtendedInfo: ftag.RebuildMarker(),
				})
			}
		}

		atEOS := ftag.EndOfStream
		w.curFileNo++

		if atEOS {
			w.finalizeObject(&gcOps)
			w.done = true
			return gcOps, repackOps, rebuildOps, true, nil
		}

		if len(gcOps) > 0 || len(repackOps) > 0 || len(rebuildOps) > 0 {
			return gcOps, repackOps, rebuildOps, false, nil
		}
	}
}

func (w *Walker) loadRTAG(ctx context.Context, objno int64) (*tagging.RTAG, error) {
	refPath := w.refPathFor(w.curFileNo)
	f, err := w.md.OpenRef(ctx, w.mc, refPath, mdal.OReadOnly, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	raw, err := f.Fgetxattr(ctx, tagging.RTAGName(objno))
	if err != nil {
		if marfserr.CodeOf(err) == marfserr.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return tagging.RTAGFromStr(string(raw))
}
