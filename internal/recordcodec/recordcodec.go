// Package recordcodec implements the recovery header/footer format
// embedded inline in every DAL data object, and a stateful iterator for
// replaying an object's bytes back into (file-info, content) pairs. This
// is what lets an orphaned object be reconstructed without the MDAL.
package recordcodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

const (
	HeaderCurrentMajorVersion = 0
	HeaderCurrentMinorVersion = 1
)

// Header is the fixed-position prefix of every data object:
// VER(M.mmm)CTAG(<client-tag>)STM(<streamid>)
type Header struct {
	MajorVersion int
	MinorVersion int
	ClientTag    string
	StreamID     string
}

// HeaderToStr encodes h. Length is deterministic for a given (ctag,
// streamid) pair, which is what lets FTAG.RecoveryBytes be computed once
// at stream creation and reused for every chunk-boundary calculation.
func HeaderToStr(h *Header) string {
	return fmt.Sprintf("VER(%d.%03d)CTAG(%s)STM(%s)", h.MajorVersion, h.MinorVersion, h.ClientTag, h.StreamID)
}

// HeaderLen returns the exact encoded length of a header for the given
// client-tag/stream-id, without allocating the string.
func HeaderLen(clientTag, streamID string) int {
	return len(HeaderToStr(&Header{MajorVersion: HeaderCurrentMajorVersion, MinorVersion: HeaderCurrentMinorVersion, ClientTag: clientTag, StreamID: streamID}))
}

// HeaderFromStr parses the prefix produced by HeaderToStr. s must contain
// exactly the header bytes (callers slice the object by HeaderLen first).
func HeaderFromStr(s string) (*Header, error) {
	if !strings.HasPrefix(s, "VER(") {
		return nil, marfserr.New(marfserr.InvalidArgument, "recovery header missing VER section")
	}
	verEnd := strings.Index(s, ")")
	if verEnd < 0 {
		return nil, marfserr.New(marfserr.InvalidArgument, "malformed recovery header VER section")
	}
	verBody := s[len("VER(") : verEnd]
	parts := strings.SplitN(verBody, ".", 2)
	if len(parts) != 2 {
		return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed recovery header version %q", verBody)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing recovery header major version")
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing recovery header minor version")
	}
	if major != HeaderCurrentMajorVersion || minor != HeaderCurrentMinorVersion {
		return nil, marfserr.Newf(marfserr.InvalidArgument, "unsupported recovery header version %d.%d", major, minor)
	}

	rest := s[verEnd+1:]
	ctag, rest, err := takeSection(rest, "CTAG")
	if err != nil {
		return nil, err
	}
	streamID, _, err := takeSection(rest, "STM")
	if err != nil {
		return nil, err
	}
	return &Header{MajorVersion: major, MinorVersion: minor, ClientTag: ctag, StreamID: streamID}, nil
}

func takeSection(s, name string) (body, rest string, err error) {
	prefix := name + "("
	if !strings.HasPrefix(s, prefix) {
		return "", "", marfserr.Newf(marfserr.InvalidArgument, "recovery record missing %s section", name)
	}
	end := strings.Index(s, ")")
	if end < 0 {
		return "", "", marfserr.Newf(marfserr.InvalidArgument, "malformed %s section", name)
	}
	return s[len(prefix):end], s[end+1:], nil
}

// Footer is the per-file trailer written immediately after a file's data
// bytes within an object: its canonical path, logical size, and whether
// this is the file's final (end-of-file) segment within this object.
type Footer struct {
	Path    string
	Size    int64
	EOF     bool
}

// FooterToStr encodes f as PATH(<path>)SIZE(<n>)EOF(<0|1>).
func FooterToStr(f *Footer) string {
	eof := 0
	if f.EOF {
		eof = 1
	}
	return fmt.Sprintf("PATH(%s)SIZE(%d)EOF(%d)", f.Path, f.Size, eof)
}

// FooterFromStr parses the trailer produced by FooterToStr.
func FooterFromStr(s string) (*Footer, error) {
	path, rest, err := takeSection(s, "PATH")
	if err != nil {
		return nil, err
	}
	sizeStr, rest, err := takeSection(rest, "SIZE")
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing recovery footer size")
	}
	eofStr, _, err := takeSection(rest, "EOF")
	if err != nil {
		return nil, err
	}
	if eofStr != "0" && eofStr != "1" {
		return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed recovery footer eof flag %q", eofStr)
	}
	return &Footer{Path: path, Size: size, EOF: eofStr == "1"}, nil
}

// FooterLen returns the exact encoded length of a footer for the given
// path and size, matching how FTAG.RecoveryBytes is derived at file
// creation (the eof flag is one digit, while the length varies with the
// path and with the number of decimal digits in size).
func FooterLen(path string, size int64) int {
	return len(FooterToStr(&Footer{Path: path, Size: size, EOF: false}))
}

// Segment is one (file-info, content) pair yielded by an object replay.
type Segment struct {
	Footer  *Footer
	Content []byte
}

// Recovery is a stateful iterator over one object's raw bytes, replaying
// it back into file segments using only the embedded header/footer
// records — used by orphan-object recovery scans when the MDAL is
// unavailable or untrusted.
type Recovery struct {
	header *Header
	data   []byte
	pos    int
}

// NewRecovery parses the object's header and positions the iterator at
// the start of the first file segment.
func NewRecovery(objectBytes []byte, clientTag, streamID string) (*Recovery, error) {
	hlen := HeaderLen(clientTag, streamID)
	if len(objectBytes) < hlen {
		return nil, marfserr.New(marfserr.InvalidArgument, "object too short to contain a recovery header")
	}
	header, err := HeaderFromStr(string(objectBytes[:hlen]))
	if err != nil {
		return nil, err
	}
	if header.ClientTag != clientTag || header.StreamID != streamID {
		return nil, marfserr.New(marfserr.DatastreamBreak, "recovery header does not match expected client-tag/stream-id")
	}
	return &Recovery{header: header, data: objectBytes[hlen:], pos: 0}, nil
}

// Header returns the parsed object header.
func (r *Recovery) Header() *Header { return r.header }

// Next returns the next (footer, content) segment, or an end-of-object
// error (recognized by IsEOF) when the object's remaining bytes are exhausted. Each segment's content
// is the bytes between the previous footer and this one; its footer
// describes the file those bytes belong to.
func (r *Recovery) Next() (*Footer, []byte, error) {
	if r.pos >= len(r.data) {
		return nil, nil, errEOF
	}
	footerStart := strings.Index(string(r.data[r.pos:]), "PATH(")
	if footerStart < 0 {
		return nil, nil, marfserr.New(marfserr.DatastreamBreak, "object truncated: no further recovery footer found")
	}
	content := r.data[r.pos : r.pos+footerStart]

	footerBytes := r.data[r.pos+footerStart:]
	eofIdx := strings.Index(string(footerBytes), "EOF(")
	if eofIdx < 0 {
		return nil, nil, marfserr.New(marfserr.DatastreamBreak, "malformed recovery footer: missing EOF section")
	}
	closeParen := strings.Index(string(footerBytes[eofIdx:]), ")")
	if closeParen < 0 {
		return nil, nil, marfserr.New(marfserr.DatastreamBreak, "malformed recovery footer: unterminated EOF section")
	}
	footerStr := string(footerBytes[:eofIdx+closeParen+1])

	footer, err := FooterFromStr(footerStr)
	if err != nil {
		return nil, nil, err
	}

	r.pos += footerStart + len(footerStr)
	return footer, content, nil
}

var errEOF = marfserr.New(marfserr.InvalidArgument, "end of recovery stream")

// IsEOF reports whether err is the Recovery iterator's end-of-stream
// sentinel (as opposed to a real parse failure).
func IsEOF(err error) bool { return err == errEOF }
