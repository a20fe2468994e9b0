package datastream

import (
	"context"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marfs-core/marfs/internal/dal"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/recordcodec"
	"github.com/marfs-core/marfs/internal/tagging"
	"github.com/marfs-core/marfs/pkg/marfserr"
)

// Kind is the datastream handle's variant tag: {create, edit, read},
// encoded as an enum with the terminal error state kept as a
// separate flag (Handle.terminal) rather than a fourth variant, so that
// Release remains trivially callable regardless of what went wrong.
type Kind int

const (
	KindCreate Kind = iota
	KindEdit
	KindRead
)

// utimensRecord buffers a deferred time update, applied on the next Close
// per spec.md §4.4's release/close contract.
type utimensRecord struct {
	path        string
	atime, mtime time.Time
}

// Handle is the single concrete type backing every datastream handle
// variant; Kind plus the populated fields indicate which variant is
// active, matching the tagged-union encoding documented in SPEC_FULL.md §9.
type Handle struct {
	mu sync.Mutex

	eng    *Engine
	stream *Stream
	kind   Kind

	ftag       *tagging.FTAG // the file this handle's CREATE/EDIT/READ targets
	mdFile     mdal.File     // metadata file handle for this FTAG's reference path
	refPath    string

	dalHandle  dal.Handle // currently open object handle, if any
	dalObjNo   int64      // object number dalHandle is open against

	recoveryPath string // overridden path recorded in recovery footers
	terminal     bool

	pendingUtimens []utimensRecord
	metaOnly       bool
	readPos        int64 // file-relative bytes already delivered to a READ caller
}

func (h *Handle) fail(err error) error {
	h.terminal = true
	return err
}

// Create implements create(stream?, path, mode, client-tag) -> handle. If
// stream is non-nil and the new file fits the packing policy, the new
// file is chained onto the existing current object; otherwise a new
// object is begun.
func (e *Engine) Create(ctx context.Context, stream *Stream, path, clientTag string) (*Handle, error) {
	if stream == nil {
		streamID := uuid.NewString()
		headerLen := recordcodec.HeaderLen(clientTag, streamID)
		stream = NewStream(clientTag, streamID, headerLen)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()

	fileno := stream.nextFileNo()
	estimatedFooter := int64(recordcodec.FooterLen(path, 0))

	pack := len(stream.Files) > 0 &&
		e.Repo.ObjFiles > countInObject(stream.Files, stream.CurObjNo) &&
		stream.remainingCapacity(e.Repo.ObjSize, estimatedFooter) >= estimatedFooter

	objNo := stream.CurObjNo
	if !pack {
		if len(stream.Files) > 0 {
			objNo = stream.CurObjNo + 1
		}
		stream.CurObjNo = objNo
		stream.CurOffset = 0
		if stream.CurDALHandle != nil {
			stream.CurDALHandle.Close(ctx)
			stream.CurDALHandle = nil
		}
	}

	ftag := &tagging.FTAG{
		MajorVersion: tagging.FTAGCurrentMajorVersion,
		MinorVersion: tagging.FTAGCurrentMinorVersion,
		ClientTag:    stream.ClientTag,
		StreamID:     stream.StreamID,
		ObjFiles:     e.Repo.ObjFiles,
		ObjSize:      e.Repo.ObjSize,
		RefTree:      e.Repo.RefTree,
		FileNo:       fileno,
		ObjNo:        objNo,
		Offset:       stream.CurOffset,
		Protection:   e.Repo.Erasure,
		State:        tagging.StateInit,
	}

	refPath := ftag.MetaPath()
	mdFile, err := e.MD.OpenRef(ctx, e.MC, refPath, mdal.OCreate|mdal.OReadWrite|mdal.OExclusive, fs.FileMode(0644))
	if err != nil {
		return nil, marfserr.Wrap(marfserr.ExistsAlready, err, "datastream: allocating reference path")
	}
	if err := writeFTAG(ctx, mdFile, ftag); err != nil {
		mdFile.Close(ctx)
		return nil, err
	}
	if err := e.MD.LinkRef(ctx, e.MC, refPath, path); err != nil {
		mdFile.Close(ctx)
		return nil, marfserr.Wrap(marfserr.InternalError, err, "datastream: linking user-visible name")
	}

	stream.Files = append(stream.Files, ftag)

	if stream.CurDALHandle == nil {
		loc := LocationFor(e.Repo, objNo)
		h, err := e.DA.Open(ctx, e.DC, ftag.ObjectName(), loc, e.Repo.Erasure, dal.ModeWrite)
		if err != nil {
			mdFile.Close(ctx)
			return nil, marfserr.Wrap(marfserr.InternalError, err, "datastream: opening object for write")
		}
		switch {
		case stream.CurOffset == 0:
			headerStr := recordcodec.HeaderToStr(&recordcodec.Header{
				MajorVersion: recordcodec.HeaderCurrentMajorVersion,
				MinorVersion: recordcodec.HeaderCurrentMinorVersion,
				ClientTag:    stream.ClientTag,
				StreamID:     stream.StreamID,
			})
			if _, err := h.Write(ctx, []byte(headerStr)); err != nil {
				mdFile.Close(ctx)
				return nil, marfserr.Wrap(marfserr.InternalError, err, "datastream: writing recovery header")
			}
			stream.CurOffset += int64(len(headerStr))
		default:
			// Close already committed this object's bytes to the backing
			// store on the prior packed file's close, so the fresh write
			// handle above starts empty. Re-seed it with what's already
			// there before this file's data is appended, or the next
			// Close would replace the object with only this file's
			// content.
			existing, err := readWholeObject(ctx, e.DA, e.DC, ftag.ObjectName(), loc, e.Repo.Erasure)
			if err != nil {
				mdFile.Close(ctx)
				return nil, err
			}
			if _, err := h.Write(ctx, existing); err != nil {
				mdFile.Close(ctx)
				return nil, marfserr.Wrap(marfserr.InternalError, err, "datastream: re-seeding packed object")
			}
		}
		stream.CurDALHandle = h
	}

	return &Handle{
		eng:     e,
		stream:  stream,
		kind:    KindCreate,
		ftag:    ftag,
		mdFile:  mdFile,
		refPath: refPath,
	}, nil
}

// readWholeObject fetches every byte currently committed under name, used
// to re-seed a packed object's write buffer across the write-once-whole-
// object Open/Write/Close cycle the DAL drivers implement.
func readWholeObject(ctx context.Context, da dal.DAL, dc dal.Ctxt, name string, loc dal.Location, erasure tagging.Erasure) ([]byte, error) {
	rh, err := da.Open(ctx, dc, name, loc, erasure, dal.ModeReadAll)
	if err != nil {
		return nil, marfserr.Wrap(marfserr.InternalError, err, "datastream: reopening packed object")
	}
	defer rh.Close(ctx)

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := rh.Read(ctx, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return nil, marfserr.Wrap(marfserr.InternalError, err, "datastream: reading packed object")
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

func countInObject(files []*tagging.FTAG, objNo int64) int {
	n := 0
	for _, f := range files {
		if f.ObjNo == objNo {
			n++
		}
	}
	return n
}

func writeFTAG(ctx context.Context, f mdal.File, ftag *tagging.FTAG) error {
	if err := f.Fsetxattr(ctx, tagging.FTAGName, []byte(ftag.ToStr())); err != nil {
		return marfserr.Wrap(marfserr.InternalError, err, "datastream: writing FTAG xattr")
	}
	return nil
}

// Open implements open(stream?, type, path) -> handle for READ and EDIT.
func (e *Engine) Open(ctx context.Context, stream *Stream, kind Kind, path string) (*Handle, error) {
	if kind == KindCreate {
		return nil, marfserr.New(marfserr.InvalidArgument, "datastream: Open does not accept KindCreate; use Create")
	}

	mdFile, err := e.MD.Open(ctx, e.MC, path, mdal.OReadWrite, 0)
	if err != nil {
		return nil, marfserr.Wrap(marfserr.NotFound, err, "datastream: opening file path")
	}

	raw, err := mdFile.Fgetxattr(ctx, tagging.FTAGName)
	if err != nil {
		mdFile.Close(ctx)
		return nil, marfserr.Wrap(marfserr.NotFound, err, "datastream: reading FTAG")
	}
	ftag, err := tagging.FTAGFromStr(string(raw))
	if err != nil {
		mdFile.Close(ctx)
		return nil, marfserr.Wrap(marfserr.DatastreamBreak, err, "datastream: unparseable FTAG")
	}

	if kind == KindEdit {
		if ftag.State < tagging.StateSized {
			mdFile.Close(ctx)
			return nil, marfserr.New(marfserr.InvalidArgument, "datastream: EDIT requires the file to have been extended first")
		}
	}

	h := &Handle{eng: e, stream: stream, kind: kind, ftag: ftag, mdFile: mdFile, refPath: path}
	return h, nil
}

// Write implements write(handle, buf, n) -> bytes_written.
func (h *Handle) Write(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := checkNotTerminal(h); err != nil {
		return 0, err
	}
	if h.kind != KindCreate && h.kind != KindEdit {
		return 0, marfserr.New(marfserr.InvalidArgument, "datastream: write requires a CREATE or EDIT handle")
	}

	target := h.dalHandle
	if h.kind == KindCreate {
		target = h.stream.CurDALHandle
	}
	if target == nil {
		return 0, h.fail(marfserr.New(marfserr.HandleFatallyBroken, "datastream: no open object to write into"))
	}

	n, err := target.Write(ctx, buf)
	if err != nil {
		return n, h.fail(marfserr.Wrap(marfserr.HandleFatallyBroken, err, "datastream: object write failed"))
	}

	h.ftag.Bytes += int64(n)
	if h.kind == KindCreate {
		h.stream.CurOffset += int64(n)
	}
	return n, nil
}

// Read implements read(handle, buf, n) -> bytes_read.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := checkNotTerminal(h); err != nil {
		return 0, err
	}
	if h.kind != KindRead {
		return 0, marfserr.New(marfserr.InvalidArgument, "datastream: read requires a READ handle")
	}
	if h.metaOnly {
		return 0, nil
	}

	if h.readPos >= h.ftag.Bytes {
		return 0, nil
	}
	if h.readPos >= h.ftag.AvailBytes {
		// Truncated tail: logically zero, regardless of what the
		// (immutable, write-once) backing object still physically holds.
		n := len(buf)
		if remaining := h.ftag.Bytes - h.readPos; int64(n) > remaining {
			n = int(remaining)
		}
		for i := range buf[:n] {
			buf[i] = 0
		}
		h.readPos += int64(n)
		return n, nil
	}
	if remaining := h.ftag.AvailBytes - h.readPos; int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	if h.dalHandle == nil {
		if err := h.openReadObject(ctx, h.ftag.ObjNo); err != nil {
			return 0, err
		}
	}
	n, err := h.dalHandle.Read(ctx, buf)
	if err != nil {
		return n, h.fail(marfserr.Wrap(marfserr.InternalError, err, "datastream: object read failed"))
	}
	if n == 0 {
		cap := Capacity(h.ftag.ObjSize, h.stream.HeaderLen, h.ftag.RecoveryBytes, h.ftag.State)
		next := h.dalObjNo + 1
		if next <= FinalObjNo(h.ftag, cap) {
			if err := h.openReadObject(ctx, next); err != nil {
				return 0, err
			}
			n, err = h.dalHandle.Read(ctx, buf)
			if err != nil {
				return n, h.fail(marfserr.Wrap(marfserr.InternalError, err, "datastream: object read failed"))
			}
		}
	}
	h.readPos += int64(n)
	return n, nil
}

// objectDataStart returns how many leading bytes of objNo are overhead a
// read must skip before this file's own data begins: the file's full
// intra-object offset (header plus any packed files ahead of it) in its
// home object, or just that object's own recovery header in a later chunk
// object of the same file.
func (h *Handle) objectDataStart(objNo int64) int64 {
	if objNo == h.ftag.ObjNo {
		return h.ftag.Offset
	}
	return int64(h.stream.HeaderLen)
}

func (h *Handle) openReadObject(ctx context.Context, objNo int64) error {
	if h.dalHandle != nil {
		h.dalHandle.Close(ctx)
	}
	loc := LocationFor(h.eng.Repo, objNo)
	name := (&tagging.FTAG{ClientTag: h.ftag.ClientTag, StreamID: h.ftag.StreamID, ObjNo: objNo}).ObjectName()
	dh, err := h.eng.DA.Open(ctx, h.eng.DC, name, loc, h.ftag.Protection, dal.ModeReadAll)
	if err != nil {
		return h.fail(marfserr.Wrap(marfserr.NotFound, err, "datastream: opening object for read"))
	}
	h.dalHandle = dh
	h.dalObjNo = objNo
	return h.discardBytes(ctx, h.objectDataStart(objNo))
}

// discardBytes reads and drops n leading bytes from h.dalHandle; the
// in-memory and S3 example drivers offer no native seek, only sequential
// read.
func (h *Handle) discardBytes(ctx context.Context, n int64) error {
	discard := make([]byte, 4096)
	remaining := n
	for remaining > 0 {
		chunkLen := int64(len(discard))
		if remaining < chunkLen {
			chunkLen = remaining
		}
		read, rerr := h.dalHandle.Read(ctx, discard[:chunkLen])
		if rerr != nil {
			return h.fail(marfserr.Wrap(marfserr.InternalError, rerr, "datastream: seeking within object"))
		}
		if read == 0 {
			break
		}
		remaining -= int64(read)
	}
	return nil
}

// Seek implements seek(handle, offset, whence) -> new_offset. On READ:
// seeks anywhere. On EDIT: fails unless the result is a chunk boundary.
func (h *Handle) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := checkNotTerminal(h); err != nil {
		return 0, err
	}

	cap := Capacity(h.ftag.ObjSize, h.stream.HeaderLen, h.ftag.RecoveryBytes, h.ftag.State)

	if h.kind == KindEdit {
		if whence != 0 {
			return 0, marfserr.New(marfserr.InvalidArgument, "datastream: EDIT seek requires whence=start")
		}
		if cap > 0 && offset%cap != 0 {
			return 0, marfserr.New(marfserr.InvalidArgument, "datastream: EDIT seek must land on a chunk boundary")
		}
		objNo := h.ftag.ObjNo + ObjNoForOffset(offset, cap)
		if err := h.openWriteObject(ctx, objNo); err != nil {
			return 0, err
		}
		return offset, nil
	}

	if h.kind != KindRead {
		return 0, marfserr.New(marfserr.InvalidArgument, "datastream: seek requires a READ or EDIT handle")
	}

	var newOffset int64
	switch whence {
	case 0:
		newOffset = offset
	case 1:
		newOffset = h.readPos + offset
	case 2:
		newOffset = h.ftag.Bytes + offset
	default:
		return 0, marfserr.New(marfserr.InvalidArgument, "datastream: invalid whence")
	}
	if newOffset < 0 {
		return 0, marfserr.New(marfserr.InvalidArgument, "datastream: seek before start of file")
	}

	objNo := h.ftag.ObjNo + ObjNoForOffset(newOffset, cap)
	if err := h.openReadObject(ctx, objNo); err != nil {
		return 0, err
	}
	// openReadObject has already skipped this object's own overhead
	// (header, or header+packing offset in the home object); the
	// remainder is this file's position within that object's data region.
	intraObject := newOffset % cap
	if err := h.discardBytes(ctx, intraObject); err != nil {
		return 0, err
	}
	h.readPos = newOffset
	return newOffset, nil
}

func (h *Handle) openWriteObject(ctx context.Context, objNo int64) error {
	if h.dalHandle != nil {
		h.dalHandle.Close(ctx)
	}
	loc := LocationFor(h.eng.Repo, objNo)
	name := (&tagging.FTAG{ClientTag: h.ftag.ClientTag, StreamID: h.ftag.StreamID, ObjNo: objNo}).ObjectName()
	dh, err := h.eng.DA.Open(ctx, h.eng.DC, name, loc, h.ftag.Protection, dal.ModeWrite)
	if err != nil {
		return h.fail(marfserr.Wrap(marfserr.InternalError, err, "datastream: opening object for edit write"))
	}
	h.dalHandle = dh
	h.dalObjNo = objNo
	return nil
}

// Truncate implements truncate(handle, length); legal only when the
// underlying FTAG is COMP.
func (h *Handle) Truncate(ctx context.Context, length int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := checkNotTerminal(h); err != nil {
		return err
	}
	if h.ftag.State != tagging.StateComp {
		return marfserr.New(marfserr.InvalidArgument, "datastream: truncate requires a COMP-state FTAG")
	}
	if length > h.ftag.Bytes {
		return marfserr.New(marfserr.InvalidArgument, "datastream: truncate may only shrink the readable size")
	}
	h.ftag.AvailBytes = length
	return writeFTAG(ctx, h.mdFile, h.ftag)
}

// Extend implements extend(handle, length); legal only on the original
// CREATE handle of a file. Transitions FTAG to SIZED, letting parallel
// writers precompute chunk boundaries via ChunkBounds before any of them
// has written a byte.
func (h *Handle) Extend(ctx context.Context, length int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := checkNotTerminal(h); err != nil {
		return err
	}
	if h.kind != KindCreate {
		return marfserr.New(marfserr.InvalidArgument, "datastream: extend requires the original CREATE handle")
	}
	if h.ftag.State > tagging.StateSized {
		return marfserr.New(marfserr.InvalidArgument, "datastream: extend requires INIT or SIZED state")
	}
	h.ftag.Bytes = length
	h.ftag.State = tagging.StateSized
	return writeFTAG(ctx, h.mdFile, h.ftag)
}

// SetRecoveryPath implements set_recovery_path(handle, path).
func (h *Handle) SetRecoveryPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recoveryPath = path
}

func (h *Handle) recoveryFooterPath() string {
	if h.recoveryPath != "" {
		return h.recoveryPath
	}
	return h.refPath
}

// Close implements close(handle) for this handle's own file: a CREATE
// handle writes its recovery footer, the FTAG is marked COMP, buffered
// utimens updates are applied, the FTAG is written, and the MDAL/DAL
// handles are closed (committing the current object for a CREATE handle).
// Only this handle's file is finalized; other files in the stream are not,
// and no relink of the data object is performed.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return marfserr.New(marfserr.HandleFatallyBroken, "datastream: handle is terminal; call Release instead")
	}

	footer := recordcodec.FooterToStr(&recordcodec.Footer{Path: h.recoveryFooterPath(), Size: h.ftag.Bytes, EOF: true})
	if h.kind == KindCreate && h.stream.CurDALHandle != nil {
		if _, err := h.stream.CurDALHandle.Write(ctx, []byte(footer)); err != nil {
			return h.fail(marfserr.Wrap(marfserr.HandleFatallyBroken, err, "datastream: writing recovery footer"))
		}
		h.ftag.RecoveryBytes = int64(len(footer))
		h.stream.CurOffset += int64(len(footer))
	}

	h.ftag.State = tagging.StateComp
	h.ftag.AvailBytes = h.ftag.Bytes
	h.ftag.Access = tagging.AccessFlags{Readable: true}

	for _, upd := range h.pendingUtimens {
		if err := h.eng.MD.Utimens(ctx, h.eng.MC, upd.path, upd.atime, upd.mtime); err != nil {
			return h.fail(marfserr.Wrap(marfserr.HandleFatallyBroken, err, "datastream: applying buffered utimens"))
		}
	}

	if err := writeFTAG(ctx, h.mdFile, h.ftag); err != nil {
		return h.fail(err)
	}

	if h.dalHandle != nil {
		if err := h.dalHandle.Close(ctx); err != nil {
			return h.fail(marfserr.Wrap(marfserr.HandleFatallyBroken, err, "datastream: closing object handle"))
		}
	}
	if h.kind == KindCreate && h.stream.CurDALHandle != nil {
		if err := h.stream.CurDALHandle.Close(ctx); err != nil {
			return h.fail(marfserr.Wrap(marfserr.HandleFatallyBroken, err, "datastream: committing current object"))
		}
		h.stream.CurDALHandle = nil
	}

	return h.mdFile.Close(ctx)
}

// Release implements release(handle): like Close but leaves the stream
// re-openable for a parallel writer to rejoin, and is always callable
// even on a terminal handle — it never loses resources.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dalHandle != nil {
		h.dalHandle.Close(ctx)
		h.dalHandle = nil
	}
	if h.mdFile != nil {
		h.mdFile.Close(ctx)
	}
	return nil
}
