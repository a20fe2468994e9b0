package tagging

import "testing"

func sampleFTAG() *FTAG {
	return &FTAG{
		MajorVersion: FTAGCurrentMajorVersion,
		MinorVersion: FTAGCurrentMinorVersion,
		ClientTag:    "client-a",
		StreamID:     "stream-1",
		ObjFiles:     1024,
		ObjSize:      1 << 30,
		RefTree:      RefTreeShape{Breadth: 16, Depth: 3, Digits: 3},
		FileNo:       7,
		ObjNo:        2,
		Offset:       4096,
		EndOfStream:  false,
		Protection:   Erasure{N: 10, E: 2, O: 1, PartSize: 65536},
		Bytes:        131072,
		AvailBytes:   131072,
		RecoveryBytes: 128,
		State:        StateComp,
		Access:       AccessFlags{Readable: true},
	}
}

func TestFTAGRoundTrip(t *testing.T) {
	orig := sampleFTAG()
	str := orig.ToStr()

	parsed, err := FTAGFromStr(str)
	if err != nil {
		t.Fatalf("FTAGFromStr: %v", err)
	}
	if !Cmp(orig, parsed) {
		t.Fatalf("round trip mismatch:\n  orig=%+v\n  parsed=%+v\n  str=%q", orig, parsed, str)
	}
	if parsed.ToStr() != str {
		t.Fatalf("re-encoding should be stable: %q != %q", parsed.ToStr(), str)
	}
}

func TestFTAGCompAvailBytesInvariant(t *testing.T) {
	f := sampleFTAG()
	f.State = StateComp
	if f.Bytes != f.AvailBytes {
		t.Fatalf("COMP state requires availbytes == bytes invariant to hold in test fixture")
	}
}

func TestFTAGFromStrRejectsUnknownVersion(t *testing.T) {
	f := sampleFTAG()
	str := f.ToStr()
	bumped := "VER(9.999)" + str[len("VER(0.001)"):]
	if _, err := FTAGFromStr(bumped); err == nil {
		t.Fatalf("expected version mismatch to be rejected")
	}
}

func TestFTAGFromStrRejectsUnknownSection(t *testing.T) {
	f := sampleFTAG()
	str := f.ToStr() + "BOGUS(x)"
	if _, err := FTAGFromStr(str); err == nil {
		t.Fatalf("expected unknown section to be rejected")
	}
}

func TestFTAGFromStrRejectsMissingSection(t *testing.T) {
	if _, err := FTAGFromStr("VER(0.001)"); err == nil {
		t.Fatalf("expected missing required sections to be rejected")
	}
}

func TestFTAGMetaPathSanitizesReservedChars(t *testing.T) {
	f := sampleFTAG()
	f.StreamID = "stream(with)bad|chars"
	path := f.MetaPath()
	for _, r := range reservedChars {
		if containsRune(path, r) {
			t.Fatalf("expected reserved char %q to be sanitized out of meta path %q", r, path)
		}
	}
}

func TestFTAGRebuildAndRepackMarkers(t *testing.T) {
	f := sampleFTAG()
	rebuild := f.RebuildMarker()
	repack := f.RepackMarker()
	if rebuild == repack {
		t.Fatalf("rebuild and repack markers must differ")
	}

	n, kind, err := ParseMetaInfo(rebuild)
	if err != nil {
		t.Fatalf("ParseMetaInfo(rebuild): %v", err)
	}
	if kind != EntryRebuildMarker || n != f.ObjNo {
		t.Fatalf("expected rebuild marker to parse back to objno %d, got n=%d kind=%v", f.ObjNo, n, kind)
	}

	n, kind, err = ParseMetaInfo(repack)
	if err != nil {
		t.Fatalf("ParseMetaInfo(repack): %v", err)
	}
	if kind != EntryRepackMarker || n != f.FileNo {
		t.Fatalf("expected repack marker to parse back to fileno %d, got n=%d kind=%v", f.FileNo, n, kind)
	}
}

func TestParseMetaInfoPlainFile(t *testing.T) {
	f := sampleFTAG()
	n, kind, err := ParseMetaInfo(f.MetaPath())
	if err != nil {
		t.Fatalf("ParseMetaInfo: %v", err)
	}
	if kind != EntryFile || n != f.FileNo {
		t.Fatalf("expected plain file entry, got n=%d kind=%v", n, kind)
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
