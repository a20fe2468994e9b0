// Package resourcelog implements the resource manager's write-ahead
// operation log: an append-only record of planned and completed
// garbage-collect/rebuild/repack operations, replayable to recover
// mid-operation crashes (spec.md §4.5).
package resourcelog

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

// OpType is the kind of operation a log record describes.
type OpType int

const (
	OpDeleteObj OpType = iota
	OpDeleteRef
	OpRebuild
	OpRepack
)

func (t OpType) String() string {
	switch t {
	case OpDeleteObj:
		return "DELETE-OBJ"
	case OpDeleteRef:
		return "DELETE-REF"
	case OpRebuild:
		return "REBUILD"
	case OpRepack:
		return "REPACK"
	default:
		return "UNKNOWN"
	}
}

// Op is one operation record. Count is the coalesced run length of a
// contiguous object/file range (see streamwalker for chain construction).
type Op struct {
	ID    int64 `json:"id"`
	Type  OpType `json:"type"`
	Start bool   `json:"start"`

	ClientTag string `json:"client_tag"`
	StreamID  string `json:"stream_id"`
	FileNo    int64  `json:"fileno"`
	ObjNo     int64  `json:"objno"`
	Count     int64  `json:"count"`

	// ExtendedInfo carries a rebuild RTAG or repack marker path, when
	// Type is OpRebuild/OpRepack.
	ExtendedInfo string `json:"extended_info,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
}

// Mode selects how the log is opened: modify logs are written during a
// live pass; record logs are opened read-only for audit.
type Mode int

const (
	ModeModify Mode = iota
	ModeRecord
)

// Log is an append-only sequence of Op records backed by a file.
type Log struct {
	mu   sync.Mutex
	mode Mode
	w    *bufio.Writer
	f    *os.File
	next int64
}

// Open opens (creating if needed) the log file at path in the given mode.
func Open(path string, mode Mode) (*Log, error) {
	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	if mode == ModeRecord {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, marfserr.Wrap(marfserr.InternalError, err, "resourcelog: opening log file")
	}
	l := &Log{mode: mode, f: f}
	if mode == ModeModify {
		l.w = bufio.NewWriter(f)
	}
	return l, nil
}

// NewInMemory returns a Log whose records are discarded (written to
// io.Discard), used by tests that don't want filesystem state.
func NewInMemory() *Log {
	return &Log{mode: ModeModify, w: bufio.NewWriter(io.Discard)}
}

func (l *Log) writeRecord(op *Op) error {
	data, err := json.Marshal(op)
	if err != nil {
		return marfserr.Wrap(marfserr.InternalError, err, "resourcelog: marshaling op record")
	}
	if _, err := l.w.Write(data); err != nil {
		return marfserr.Wrap(marfserr.InternalError, err, "resourcelog: writing op record")
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return marfserr.Wrap(marfserr.InternalError, err, "resourcelog: writing op record")
	}
	return l.w.Flush()
}

// StartOp writes the start=true record for a planned operation and
// returns its assigned ID, used to correlate the later completion record.
func (l *Log) StartOp(op Op) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeModify {
		return 0, marfserr.New(marfserr.InvalidArgument, "resourcelog: cannot start an op on a read-only record log")
	}
	l.next++
	op.ID = l.next
	op.Start = true
	if err := l.writeRecord(&op); err != nil {
		return 0, err
	}
	return op.ID, nil
}

// ProcessOp is the atomic completion-notification call: it validates that
// op was previously started, writes the completion record, and returns a
// progress indicator for a linked chain: 0 = still pending sub-operations,
// >0 = proceed, <0 = abort remainder.
func (l *Log) ProcessOp(started Op, errCode string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeModify {
		return 0, marfserr.New(marfserr.InvalidArgument, "resourcelog: cannot complete an op on a read-only record log")
	}
	if started.ID <= 0 || started.ID > l.next {
		return 0, marfserr.New(marfserr.InvalidArgument, "resourcelog: op was never started")
	}
	completion := started
	completion.Start = false
	completion.ErrorCode = errCode
	if err := l.writeRecord(&completion); err != nil {
		return 0, err
	}
	if errCode != "" {
		return -1, nil
	}
	return 1, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			return marfserr.Wrap(marfserr.InternalError, err, "resourcelog: flushing log")
		}
	}
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}

// ReadAll decodes every record in a log file, in write order, without
// requiring a live Log (used by replay and by audit tooling opening a
// record-mode log).
func ReadAll(path string) ([]Op, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, marfserr.Wrap(marfserr.InternalError, err, "resourcelog: opening log for replay")
	}
	defer f.Close()

	var ops []Op
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var op Op
		if err := json.Unmarshal(scanner.Bytes(), &op); err != nil {
			return nil, marfserr.Wrap(marfserr.InternalError, err, "resourcelog: decoding op record")
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, marfserr.Wrap(marfserr.InternalError, err, "resourcelog: scanning log")
	}
	return ops, nil
}

// Incomplete returns every start record with no matching completion
// record, in the order they were started, for replay cleanup.
func Incomplete(ops []Op) []Op {
	started := map[int64]Op{}
	completed := map[int64]bool{}
	for _, op := range ops {
		if op.Start {
			started[op.ID] = op
		} else {
			completed[op.ID] = true
		}
	}
	var out []Op
	for id, op := range started {
		if !completed[id] {
			out = append(out, op)
		}
	}
	// Stable order by ID for deterministic replay.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
