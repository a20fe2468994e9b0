package tagging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

const (
	GCTAGCurrentMajorVersion = 0
	GCTAGCurrentMinorVersion = 1

	// GCTAGName is the xattr name a GCTAG is stored under.
	GCTAGName = "MARFS-GC"
)

// GCTAG marks a datastream as under active garbage-collection
// consideration, recording enough state for a restarted streamwalker
// pass to resume without re-scanning files it has already cleared.
type GCTAG struct {
	MajorVersion int
	MinorVersion int

	RefCnt      int64 // outstanding reference count observed at GC start
	EndOfStream bool  // this was the last file of the stream when tagged

	DelZero bool // all files at or before this one proved zero-reference
	InProg  bool // a GC pass is actively in progress against this stream
}

// ToStr encodes g as VER(M.mmm)SKIP(<refcnt>|<E|->)PROG(<-|D>|<-|I>).
func (g *GCTAG) ToStr() string {
	eos := "-"
	if g.EndOfStream {
		eos = "E"
	}
	delzero := "-"
	if g.DelZero {
		delzero = "D"
	}
	inprog := "-"
	if g.InProg {
		inprog = "I"
	}
	return fmt.Sprintf("VER(%d.%03d)SKIP(%d|%s)PROG(%s|%s)",
		g.MajorVersion, g.MinorVersion, g.RefCnt, eos, delzero, inprog)
}

// GCTAGFromStr parses the on-disk form produced by ToStr.
func GCTAGFromStr(s string) (*GCTAG, error) {
	sections, err := splitSections(s)
	if err != nil {
		return nil, err
	}

	g := &GCTAG{}
	seen := map[string]bool{}
	for _, sec := range sections {
		seen[sec.name] = true
		switch sec.name {
		case "VER":
			major, minor, err := parseVersion(sec.body)
			if err != nil {
				return nil, err
			}
			if major != GCTAGCurrentMajorVersion || minor != GCTAGCurrentMinorVersion {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "unsupported GCTAG version %d.%d", major, minor)
			}
			g.MajorVersion, g.MinorVersion = major, minor

		case "SKIP":
			parts := strings.SplitN(sec.body, "|", 2)
			if len(parts) != 2 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed GCTAG SKIP section %q", sec.body)
			}
			refcnt, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing GCTAG refcnt")
			}
			switch parts[1] {
			case "E":
				g.EndOfStream = true
			case "-":
				g.EndOfStream = false
			default:
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed GCTAG eos flag %q", parts[1])
			}
			g.RefCnt = refcnt

		case "PROG":
			parts := strings.SplitN(sec.body, "|", 2)
			if len(parts) != 2 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed GCTAG PROG section %q", sec.body)
			}
			switch parts[0] {
			case "D":
				g.DelZero = true
			case "-":
				g.DelZero = false
			default:
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed GCTAG delzero flag %q", parts[0])
			}
			switch parts[1] {
			case "I":
				g.InProg = true
			case "-":
				g.InProg = false
			default:
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed GCTAG inprog flag %q", parts[1])
			}

		default:
			return nil, marfserr.Newf(marfserr.InvalidArgument, "unknown GCTAG section %q", sec.name)
		}
	}

	for _, required := range []string{"VER", "SKIP", "PROG"} {
		if !seen[required] {
			return nil, marfserr.Newf(marfserr.InvalidArgument, "GCTAG missing required section %q", required)
		}
	}
	return g, nil
}
