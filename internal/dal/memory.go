package dal

import (
	"context"
	"sync"

	"github.com/marfs-core/marfs/internal/tagging"
	"github.com/marfs-core/marfs/pkg/marfserr"
)

type memCtxt struct{ stripeWidth int }

func (c *memCtxt) Duplicate() (Ctxt, error) { return &memCtxt{stripeWidth: c.stripeWidth}, nil }
func (c *memCtxt) Close() error             { return nil }

type memObject struct {
	data    []byte
	erasure tagging.Erasure
}

// MemDriver is an in-memory DAL used by tests and the in-memory CLI
// bootstrap, mirroring mdal.MemDriver's role on the metadata side.
type MemDriver struct {
	mu      sync.Mutex
	objects map[string]*memObject
}

func NewMemDriver() *MemDriver {
	return &MemDriver{objects: map[string]*memObject{}}
}

func (d *MemDriver) key(name string, loc Location) string {
	return loc.Pool + "/" + loc.Node + "/" + loc.Path + "/" + name
}

func (d *MemDriver) NewCtxt(ctx context.Context, stripeWidth int, placement Location) (Ctxt, error) {
	return &memCtxt{stripeWidth: stripeWidth}, nil
}

type memHandle struct {
	d       *MemDriver
	key     string
	mode    Mode
	erasure tagging.Erasure
	buf     []byte
	offset  int64
	aborted bool
}

func (h *memHandle) Read(ctx context.Context, buf []byte) (int, error) {
	if h.mode != ModeReadAll && h.mode != ModeRebuild {
		return 0, marfserr.New(marfserr.InvalidArgument, "dal: object not opened for read")
	}
	h.d.mu.Lock()
	obj, ok := h.d.objects[h.key]
	h.d.mu.Unlock()
	if !ok {
		return 0, marfserr.Newf(marfserr.NotFound, "dal: no such object %q", h.key)
	}
	if h.offset >= int64(len(obj.data)) {
		return 0, nil
	}
	n := copy(buf, obj.data[h.offset:])
	h.offset += int64(n)
	return n, nil
}

func (h *memHandle) Write(ctx context.Context, buf []byte) (int, error) {
	if h.mode != ModeWrite {
		return 0, marfserr.New(marfserr.InvalidArgument, "dal: object not opened for write")
	}
	h.buf = append(h.buf, buf...)
	return len(buf), nil
}

func (h *memHandle) Close(ctx context.Context) error {
	if h.mode == ModeWrite && !h.aborted {
		h.d.mu.Lock()
		h.d.objects[h.key] = &memObject{data: h.buf, erasure: h.erasure}
		h.d.mu.Unlock()
	}
	return nil
}

func (h *memHandle) Abort(ctx context.Context) error {
	h.aborted = true
	return nil
}

func (d *MemDriver) Open(ctx context.Context, c Ctxt, objectName string, loc Location, erasure tagging.Erasure, mode Mode) (Handle, error) {
	key := d.key(objectName, loc)
	if mode == ModeReadAll || mode == ModeRebuild {
		d.mu.Lock()
		_, ok := d.objects[key]
		d.mu.Unlock()
		if !ok {
			return nil, marfserr.Newf(marfserr.NotFound, "dal: no such object %q", key)
		}
	}
	return &memHandle{d: d, key: key, mode: mode, erasure: erasure}, nil
}

func (d *MemDriver) Delete(ctx context.Context, c Ctxt, objectName string, loc Location) error {
	key := d.key(objectName, loc)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[key]; !ok {
		return marfserr.Newf(marfserr.NotFound, "dal: no such object %q", key)
	}
	delete(d.objects, key)
	return nil
}

func (d *MemDriver) StatObject(ctx context.Context, c Ctxt, objectName string, loc Location) (Stat, error) {
	key := d.key(objectName, loc)
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects[key]
	if !ok {
		return Stat{}, marfserr.Newf(marfserr.NotFound, "dal: no such object %q", key)
	}
	return Stat{Size: int64(len(obj.data)), Erasure: obj.erasure, Available: true}, nil
}

// Rebuild is a no-op success for the in-memory driver: there is no real
// erasure stripe to repair, so any existing object is reported healthy.
func (d *MemDriver) Rebuild(ctx context.Context, c Ctxt, objectName string, loc Location, erasure tagging.Erasure) (SeedStatus, error) {
	key := d.key(objectName, loc)
	d.mu.Lock()
	_, ok := d.objects[key]
	d.mu.Unlock()
	if !ok {
		return SeedStatus{Code: -1}, marfserr.Newf(marfserr.NotFound, "dal: no such object %q", key)
	}
	return SeedStatus{Code: 0}, nil
}

var _ DAL = (*MemDriver)(nil)
