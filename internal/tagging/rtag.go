package tagging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

const (
	RTAGCurrentMajorVersion = 0
	RTAGCurrentMinorVersion = 1

	// RTAGNamePrefix is the xattr name prefix an RTAG is stored under;
	// the full name is RTAGName(objno).
	RTAGNamePrefix = "MARFS-REBUILD-"
)

// RTAGName returns the xattr name for the rebuild-state tag of objno.
func RTAGName(objno int64) string {
	return fmt.Sprintf("%s%d", RTAGNamePrefix, objno)
}

// RTAG records the outcome of a rebuild attempt against one object: the
// wall-clock time it was recorded, stripe shape at rebuild time, and a
// per-block health bitmap for both the data blocks (DHLTH) and the meta
// blocks (MHLTH) of the stripe.
type RTAG struct {
	MajorVersion int
	MinorVersion int

	Time int64 // unix seconds the rebuild marker was written

	StripeWidth int // w: total blocks in the stripe (N+E)
	Version     int // v: erasure library/layout version in effect
	BlockSize   int // b: per-block size in bytes
	TotalBlocks int // t: total blocks expected across the object

	DataHealth []bool // DHLTH: true == healthy, one entry per data block
	MetaHealth []bool // MHLTH: true == healthy, one entry per meta block
}

func healthToStr(h []bool) string {
	parts := make([]string, len(h))
	for i, ok := range h {
		if ok {
			parts[i] = "1"
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, "-")
}

func healthFromStr(s string) ([]bool, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	out := make([]bool, len(parts))
	for i, p := range parts {
		switch p {
		case "1":
			out[i] = true
		case "0":
			out[i] = false
		default:
			return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed health digit %q", p)
		}
	}
	return out, nil
}

// ToStr encodes r as:
//
//	VER(M.mmm)TIME(<unixsec>)STP(w<width>|v<version>|b<blocksize>|t<total>)DHLTH(<bits>)MHLTH(<bits>)
func (r *RTAG) ToStr() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VER(%d.%03d)", r.MajorVersion, r.MinorVersion)
	fmt.Fprintf(&b, "TIME(%d)", r.Time)
	fmt.Fprintf(&b, "STP(w%d|v%d|b%d|t%d)", r.StripeWidth, r.Version, r.BlockSize, r.TotalBlocks)
	fmt.Fprintf(&b, "DHLTH(%s)", healthToStr(r.DataHealth))
	fmt.Fprintf(&b, "MHLTH(%s)", healthToStr(r.MetaHealth))
	return b.String()
}

// RTAGFromStr parses the on-disk form produced by ToStr.
func RTAGFromStr(s string) (*RTAG, error) {
	sections, err := splitSections(s)
	if err != nil {
		return nil, err
	}

	r := &RTAG{}
	seen := map[string]bool{}
	for _, sec := range sections {
		seen[sec.name] = true
		switch sec.name {
		case "VER":
			major, minor, err := parseVersion(sec.body)
			if err != nil {
				return nil, err
			}
			if major != RTAGCurrentMajorVersion || minor != RTAGCurrentMinorVersion {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "unsupported RTAG version %d.%d", major, minor)
			}
			r.MajorVersion, r.MinorVersion = major, minor

		case "TIME":
			t, err := strconv.ParseInt(sec.body, 10, 64)
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing RTAG time")
			}
			r.Time = t

		case "STP":
			parts := strings.Split(sec.body, "|")
			if len(parts) != 4 {
				return nil, marfserr.Newf(marfserr.InvalidArgument, "malformed RTAG STP section %q", sec.body)
			}
			width, err := strconv.Atoi(strings.TrimPrefix(parts[0], "w"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing stripe width")
			}
			version, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing stripe version")
			}
			blocksize, err := strconv.Atoi(strings.TrimPrefix(parts[2], "b"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing block size")
			}
			total, err := strconv.Atoi(strings.TrimPrefix(parts[3], "t"))
			if err != nil {
				return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "parsing total blocks")
			}
			r.StripeWidth, r.Version, r.BlockSize, r.TotalBlocks = width, version, blocksize, total

		case "DHLTH":
			health, err := healthFromStr(sec.body)
			if err != nil {
				return nil, err
			}
			r.DataHealth = health

		case "MHLTH":
			health, err := healthFromStr(sec.body)
			if err != nil {
				return nil, err
			}
			r.MetaHealth = health

		default:
			return nil, marfserr.Newf(marfserr.InvalidArgument, "unknown RTAG section %q", sec.name)
		}
	}

	for _, required := range []string{"VER", "TIME", "STP", "DHLTH", "MHLTH"} {
		if !seen[required] {
			return nil, marfserr.Newf(marfserr.InvalidArgument, "RTAG missing required section %q", required)
		}
	}
	return r, nil
}

// AllHealthy reports whether every recorded data and meta block is healthy.
func (r *RTAG) AllHealthy() bool {
	for _, ok := range r.DataHealth {
		if !ok {
			return false
		}
	}
	for _, ok := range r.MetaHealth {
		if !ok {
			return false
		}
	}
	return true
}
