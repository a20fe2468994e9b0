package datastream

import (
	"sync"

	"github.com/marfs-core/marfs/internal/dal"
	"github.com/marfs-core/marfs/internal/tagging"
)

// Stream is the in-memory representation of one open datastream: a
// (client-tag, stream-id) pair and the bookkeeping needed to pack new
// files into the current object or roll over to a fresh one.
type Stream struct {
	mu sync.Mutex

	ClientTag string
	StreamID  string

	Files []*tagging.FTAG

	CurObjNo      int64
	CurOffset     int64 // bytes written into CurObjNo so far (including the recovery header)
	HeaderLen     int
	CurDALHandle  dal.Handle // open only while a CREATE handle holds the current object
	RecoveryBytes int64      // per-file recovery footer size for this stream
}

// NewStream begins a fresh datastream identified by (clientTag,
// streamID), with a recovery header sized for that identity pair.
func NewStream(clientTag, streamID string, headerLen int) *Stream {
	return &Stream{ClientTag: clientTag, StreamID: streamID, HeaderLen: headerLen}
}

// remainingCapacity reports how many more data bytes can be packed into
// the current object before a rollover is required, given the per-file
// recovery footer size of the file about to be written.
func (s *Stream) remainingCapacity(objSize int64, recoveryBytes int64) int64 {
	cap := Capacity(objSize, s.HeaderLen, recoveryBytes, tagging.StateInit)
	remaining := cap - (s.CurOffset - int64(s.HeaderLen))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// nextFileNo returns the fileno the next created file in this stream
// will receive: one past the highest existing fileno, or 0 for an empty
// stream.
func (s *Stream) nextFileNo() int64 {
	if len(s.Files) == 0 {
		return 0
	}
	return s.Files[len(s.Files)-1].FileNo + 1
}
