// Package tagging implements the on-disk extended-attribute codec for
// MarFS: FTAG (per-file), GCTAG (garbage-collection run marker) and RTAG
// (rebuild marker). Every data object is made self-describing by these
// three ASCII grammars, grounded on the reference project's
// src/tagging/tagging.c state machine and string format.
package tagging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

const (
	// FTAGCurrentMajorVersion/MinorVersion are the versions this codec
	// writes and the only versions it accepts on parse.
	FTAGCurrentMajorVersion = 0
	FTAGCurrentMinorVersion = 1

	// FTAGName is the xattr name an FTAG is stored under.
	FTAGName = "MARFS-FILE"

	// reservedChars must never appear in a path-visible client-tag or
	// stream-id; occurrences are sanitized to '#' when generating
	// reference paths and object names.
	reservedChars = "()|"
)

// DataState is the monotonic per-file data-state enum. INIT -> SIZED ->
// FIN -> COMP only; a file may never transition back to a weaker state.
type DataState int

const (
	StateInit DataState = iota
	StateSized
	StateFin
	StateComp
)

func (s DataState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSized:
		return "SIZED"
	case StateFin:
		return "FIN"
	case StateComp:
		return "COMP"
	default:
		return "INIT"
	}
}

func parseDataState(s string) (DataState, error) {
	switch s {
	case "INIT":
		return StateInit, nil
	case "SIZED":
		return StateSized, nil
	case "FIN":
		return StateFin, nil
	case "COMP":
		return StateComp, nil
	default:
		return 0, marfserr.Newf(marfserr.InvalidArgument, "unrecognized FTAG data state %q", s)
	}
}

// AccessFlags are the access-bit pair stored alongside DataState.
type AccessFlags struct {
	Readable bool
	Writable bool
}

func (a AccessFlags) String() string {
	switch {
	case a.Readable && a.Writable:
		return "RW"
	case a.Readable:
		return "RO"
	case a.Writable:
		return "WO"
	default:
		return "NO"
	}
}

func parseAccessFlags(s string) (AccessFlags, error) {
	switch s {
	case "RW":
		return AccessFlags{Readable: true, Writable: true}, nil
	case "RO":
		return AccessFlags{Readable: true}, nil
	case "WO":
		return AccessFlags{Writable: true}, nil
	case "NO":
		return AccessFlags{}, nil
	default:
		return AccessFlags{}, marfserr.Newf(marfserr.InvalidArgument, "unrecognized FTAG access flags %q", s)
	}
}

// Erasure holds the DAL-level erasure parameters an FTAG records for its
// owning object: N data blocks, E erasure blocks, O starting block offset,
// and PartSize (the per-stripe-part size).
type Erasure struct {
	N        int
	E        int
	O        int
	PartSize int
}

// RefTreeShape parameterises the reference-table hash tree: breadth,
// depth, and the zero-padded digit width of each path component.
type RefTreeShape struct {
	Breadth int
	Depth   int
	Digits  int
}

// FTAG is the fully decoded MARFS-FILE extended attribute.
type FTAG struct {
	MajorVersion int
	MinorVersion int

	ClientTag string
	StreamID  string

	ObjFiles int   // packing cap: max files sharing one object
	ObjSize  int64 // target object size

	RefTree RefTreeShape

	FileNo      int64
	ObjNo       int64
	Offset      int64
	EndOfStream bool

	Protection Erasure
	Bytes      int64
	AvailBytes int64
	RecoveryBytes int64
	State      DataState
	Access     AccessFlags
}

// sanitize replaces every reserved character with '#', as the reference
// codec does when generating path-visible client-tag/stream-id segments.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(reservedChars, r) {
			return '#'
		}
		return r
	}, s)
}

// ToStr encodes ftag into its on-disk ASCII grammar:
//
//	VER(M.mmm)STM(<ctag>|<streamid>|F<objfiles>-D<objsize>)REF(B<b>-D<d>-d<g>)
//	POS(f<n>-o<n>-@<n>-e<0|1>)DAT(n<N>-e<E>-o<O>-p<partsz>-b<bytes>-a<avail>-r<recov>-<STATE>-<ACCESS>)
func (f *FTAG) ToStr() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VER(%d.%03d)", f.MajorVersion, f.MinorVersion)
	fmt.Fprintf(&b, "STM(%s|%s|F%d-D%d)", f.ClientTag, f.StreamID, f.ObjFiles, f.ObjSize)
	fmt.Fprintf(&b, "REF(B%d-D%d-d%d)", f.RefTree.Breadth, f.RefTree.Depth, f.RefTree.Digits)
	eos := 0
	if f.EndOfStream {
		eos = 1
	}
	fmt.Fprintf(&b, "POS(f%d-o%d-@%d-e%d)", f.FileNo, f.ObjNo, f.Offset, eos)
	fmt.Fprintf(&b, "DAT(n%d-e%d-o%d-p%d-b%d-a%d-r%d-%s-%s)",
		f.Protection.N, f.Protection.E, f.Protection.O, f.Protection.PartSize,
		f.Bytes, f.AvailBytes, f.RecoveryBytes, f.State, f.Access)
	return b.String()
}

// section is one `NAME(body)` chunk of a tag string.
type section struct {
	name string
	body string
}

// splitSections tokenizes `NAME(body)NAME(body)...` into ordered sections,
// rejecting malformed grammar (unbalanced parens, stray characters).
func splitSections(s string) ([]section, error) {
	var out []section
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '(')
		if open < 0 {
			return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed tag section near %q", s[i:])
		}
		name := s[i : i+open]
		rest := s[i+open+1:]
		depth := 1
		end := -1
		for j := 0; j < len(rest); j++ {
			switch rest[j] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					end = j
				}
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 {
			return nil, marfserr.Newf(marfserr.InvalidArgument, "unterminated tag section %q", name)
		}
		out = append(out, section{name: name, body: rest[:end]})
		i += open + 1 + end + 1
	}
	return out, nil
}

func parseVersion(body string) (int, int, error) {
	parts := strings.SplitN(body, ".", 2)
	if len(parts) != 2 {
		return 0, 0, marfserr.Newf(marfserr.InvalidArgument, "malformed version %q", body)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing major version")
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing minor version")
	}
	return major, minor, nil
}

// FTAGFromStr parses the on-disk form produced by ToStr. Unknown sections
// or keys, version mismatches, and numeric overflow are all rejected.
func FTAGFromStr(s string) (*FTAG, error) {
	sections, err := splitSections(s)
	if err != nil {
		return nil, err
	}

	f := &FTAG{}
	seen := map[string]bool{}
	for _, sec := range sections {
		seen[sec.name] = true
		switch sec.name {
		case "VER":
			major, minor, err := parseVersion(sec.body)
			if err != nil {
				return nil, err
			}
			if major != FTAGCurrentMajorVersion || minor != FTAGCurrentMinorVersion {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "unsupported FTAG version %d.%d", major, minor)
			}
			f.MajorVersion, f.MinorVersion = major, minor

		case "STM":
			// <ctag>|<streamid>|F<objfiles>-D<objsize>
			pipeParts := strings.SplitN(sec.body, "|", 3)
			if len(pipeParts) != 3 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed STM section %q", sec.body)
			}
			f.ClientTag, f.StreamID = pipeParts[0], pipeParts[1]
			fd := strings.SplitN(pipeParts[2], "-", 2)
			if len(fd) != 2 || !strings.HasPrefix(fd[0], "F") || !strings.HasPrefix(fd[1], "D") {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed STM size fields %q", pipeParts[2])
			}
			objFiles, err := strconv.Atoi(fd[0][1:])
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing objfiles")
			}
			objSize, err := strconv.ParseInt(fd[1][1:], 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing objsize")
			}
			f.ObjFiles, f.ObjSize = objFiles, objSize

		case "REF":
			// B<b>-D<d>-d<g>
			parts := strings.Split(sec.body, "-")
			if len(parts) != 3 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed REF section %q", sec.body)
			}
			breadth, err := strconv.Atoi(strings.TrimPrefix(parts[0], "B"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing refbreadth")
			}
			depth, err := strconv.Atoi(strings.TrimPrefix(parts[1], "D"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing refdepth")
			}
			digits, err := strconv.Atoi(strings.TrimPrefix(parts[2], "d"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing refdigits")
			}
			f.RefTree = RefTreeShape{Breadth: breadth, Depth: depth, Digits: digits}

		case "POS":
			// f<n>-o<n>-@<n>-e<0|1>
			parts := strings.Split(sec.body, "-")
			if len(parts) != 4 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed POS section %q", sec.body)
			}
			fileno, err := strconv.ParseInt(strings.TrimPrefix(parts[0], "f"), 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing fileno")
			}
			objno, err := strconv.ParseInt(strings.TrimPrefix(parts[1], "o"), 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing objno")
			}
			offset, err := strconv.ParseInt(strings.TrimPrefix(parts[2], "@"), 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing offset")
			}
			eos, err := strconv.Atoi(strings.TrimPrefix(parts[3], "e"))
			if err != nil || (eos != 0 && eos != 1) {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed eos flag %q", parts[3])
			}
			f.FileNo, f.ObjNo, f.Offset, f.EndOfStream = fileno, objno, offset, eos == 1

		case "DAT":
			// n<N>-e<E>-o<O>-p<partsz>-b<bytes>-a<avail>-r<recov>-STATE-ACCESS
			parts := strings.Split(sec.body, "-")
			if len(parts) != 9 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed DAT section %q", sec.body)
			}
			n, err := strconv.Atoi(strings.TrimPrefix(parts[0], "n"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing N")
			}
			e, err := strconv.Atoi(strings.TrimPrefix(parts[1], "e"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing E")
			}
			o, err := strconv.Atoi(strings.TrimPrefix(parts[2], "o"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing O")
			}
			partsz, err := strconv.Atoi(strings.TrimPrefix(parts[3], "p"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing partsz")
			}
			bytes, err := strconv.ParseInt(strings.TrimPrefix(parts[4], "b"), 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing bytes")
			}
			avail, err := strconv.ParseInt(strings.TrimPrefix(parts[5], "a"), 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing availbytes")
			}
			recov, err := strconv.ParseInt(strings.TrimPrefix(parts[6], "r"), 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing recoverybytes")
			}
			state, err := parseDataState(parts[7])
			if err != nil {
				return nil, err
			}
			access, err := parseAccessFlags(parts[8])
			if err != nil {
				return nil, err
			}
			f.Protection = Erasure{N: n, E: e, O: o, PartSize: partsz}
			f.Bytes, f.AvailBytes, f.RecoveryBytes = bytes, avail, recov
			f.State, f.Access = state, access

		default:
			return nil, marfserr.Newf(marfserr.InvalidArgument, "unknown FTAG section %q", sec.name)
		}
	}

	for _, required := range []string{"VER", "STM", "REF", "POS", "DAT"} {
		if !seen[required] {
			return nil, marfserr.Newf(marfserr.InvalidArgument, "FTAG missing required section %q", required)
		}
	}
	return f, nil
}

// Cmp reports whether two FTAGs carry identical decoded values. Two FTAGs
// compare equal iff ToStr() round-trips to the same field values,
// regardless of surface string differences (there are none today, since
// ToStr is deterministic, but this is the stable comparison surface).
func Cmp(a, b *FTAG) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MetaPath returns the reference-path / meta-file-ID basename for this
// file: <ctag>|<sanitized-streamid>|<fileno>.
func (f *FTAG) MetaPath() string {
	return fmt.Sprintf("%s|%s|%d", f.ClientTag, sanitize(f.StreamID), f.FileNo)
}

// RebuildMarker returns the rebuild-marker basename for this FTAG's
// current object: <ctag>|<sanitized-streamid>|<objno>rebuild.
func (f *FTAG) RebuildMarker() string {
	return fmt.Sprintf("%s|%srebuild", f.objectPrefix(), f.ObjNo)
}

// RepackMarker returns the repack-marker basename for this FTAG's
// current file: <ctag>|<sanitized-streamid>|<fileno>REPACK. Repack
// markers are placed alongside their original meta path, not hashed to
// a fresh reference location.
func (f *FTAG) RepackMarker() string {
	return fmt.Sprintf("%s|%sREPACK", f.objectPrefix(), f.FileNo)
}

// ObjectName returns the DAL object-name grammar for this FTAG's current
// object: <ctag>|<streamid>|<objno> (streamid unsanitized, matching the
// reference codec's ftag_datatgt, which uses the raw streamid).
func (f *FTAG) ObjectName() string {
	return fmt.Sprintf("%s|%s|%d", f.ClientTag, f.StreamID, f.ObjNo)
}

func (f *FTAG) objectPrefix() string {
	return fmt.Sprintf("%s|%s|", f.ClientTag, sanitize(f.StreamID))
}

// EntryKind classifies a meta-path basename as parsed by ParseMetaInfo.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryRebuildMarker
	EntryRepackMarker
	EntryUnknown
)

// ParseMetaInfo parses a basename of the form <ctag>|<streamid>|<N>[suffix]
// and returns (N, kind). N is a fileno for EntryFile/EntryRepackMarker and
// an object number for EntryRebuildMarker.
func ParseMetaInfo(basename string) (int64, EntryKind, error) {
	parts := strings.Split(basename, "|")
	if len(parts) != 3 {
		return 0, EntryUnknown, marfserr.Newf(marfserr.InvalidArgument, "malformed meta-info basename %q", basename)
	}
	numeric := parts[2]

	kind := EntryFile
	switch {
	case strings.HasSuffix(numeric, "rebuild"):
		kind = EntryRebuildMarker
		numeric = strings.TrimSuffix(numeric, "rebuild")
	case strings.HasSuffix(numeric, "REPACK"):
		kind = EntryRepackMarker
		numeric = strings.TrimSuffix(numeric, "REPACK")
	}

	n, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, EntryUnknown, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing meta-info number")
	}
	return n, kind, nil
}
