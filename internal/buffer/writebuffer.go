package buffer

import (
	"sync"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

// FlushFunc writes buffered bytes to the underlying DAL object handle.
type FlushFunc func(data []byte) error

// WriteBuffer accumulates bytes for one open DAL object handle, flushing
// to FlushFunc when full or when explicitly told a boundary was crossed
// (file boundary, chunk/object rollover, close, release). Buffering
// turns many small application writes into few, larger DAL writes.
type WriteBuffer struct {
	mu       sync.Mutex
	capacity int
	buf      []byte
	flush    FlushFunc
	pool     *BytePool
}

// New returns a buffer of capacity bytes that calls flush once full or
// on an explicit Flush call. Pool may be nil to use the package default.
func New(capacity int, flush FlushFunc, pool *BytePool) *WriteBuffer {
	if pool == nil {
		pool = defaultPool
	}
	return &WriteBuffer{
		capacity: capacity,
		buf:      pool.Get(0)[:0],
		flush:    flush,
		pool:     pool,
	}
}

// Write appends data, flushing whenever the buffer fills before all of
// data has been consumed.
func (b *WriteBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for len(data) > 0 {
		room := b.capacity - len(b.buf)
		if room <= 0 {
			if err := b.flushLocked(); err != nil {
				return written, err
			}
			room = b.capacity
		}
		n := room
		if n > len(data) {
			n = len(data)
		}
		b.buf = append(b.buf, data[:n]...)
		data = data[n:]
		written += n
	}
	return written, nil
}

// Flush forces out whatever is currently buffered, regardless of fill
// level. Callers invoke this at a file boundary, a chunk/object
// rollover, or on handle close/release.
func (b *WriteBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *WriteBuffer) flushLocked() error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.flush(b.buf); err != nil {
		return marfserr.Wrap(marfserr.InternalError, err, "buffer: flushing to DAL")
	}
	b.buf = b.buf[:0]
	return nil
}

// Buffered reports how many bytes are currently held unflushed.
func (b *WriteBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Release returns the buffer's backing slice to its pool. The
// WriteBuffer must not be used again afterward.
func (b *WriteBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pool.Put(b.buf)
	b.buf = nil
}
