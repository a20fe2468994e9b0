// Package buffer implements per-object write buffering: small writes
// accumulate here and are flushed in fewer, larger calls, on buffer-full,
// file boundary, chunk rollover, or explicit close/release (SPEC_FULL.md
// component 13). The datastream engine does not use it; its handles
// write straight to the DAL handle.
package buffer

import "sync"

// bucketSizes are the byte-slice pool buckets kept warm, sized for the
// packed-small-file write pattern the datastream engine sees most often.
var bucketSizes = []int{4096, 16384, 65536, 262144, 1048576}

// BytePool hands out reusable byte slices bucketed by size, avoiding a
// fresh allocation for every flushed write buffer.
type BytePool struct {
	mu    sync.RWMutex
	pools map[int]*sync.Pool
}

// NewBytePool returns a pool with the standard bucket sizes pre-warmed.
func NewBytePool() *BytePool {
	pools := make(map[int]*sync.Pool, len(bucketSizes))
	for _, size := range bucketSizes {
		size := size
		pools[size] = &sync.Pool{New: func() interface{} { return make([]byte, size) }}
	}
	return &BytePool{pools: pools}
}

// Get returns a slice of exactly size bytes, drawn from the smallest
// bucket that fits or freshly allocated if size exceeds every bucket.
func (p *BytePool) Get(size int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, bucket := range bucketSizes {
		if bucket >= size {
			buf := p.pools[bucket].Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its bucket pool, if it came from one.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	capacity := cap(buf)
	p.mu.RLock()
	pool, ok := p.pools[capacity]
	p.mu.RUnlock()
	if !ok {
		return
	}
	buf = buf[:capacity]
	for i := range buf {
		buf[i] = 0
	}
	pool.Put(buf)
}

var defaultPool = NewBytePool()
