package marfshealth

import (
	"fmt"
	"io"
	"sort"
)

// NamespaceSummary is one namespace's end-of-pass accounting, ready to
// render as the resource manager's final per-namespace status line.
type NamespaceSummary struct {
	Namespace      string
	FilesInspected int64
	BytesInspected int64
	ObjectsGC      int64
	RefsGC         int64
	VolatileFiles  int64
	RepackFiles    int64
	RepackBytes    int64
	RebuildObjects int64
	RebuildBytes   int64
	// DryRun is true when the resource manager runs without its -d flag: objects
	// and refs named above were only identified, not deleted.
	DryRun bool
}

// WriteSummary renders one namespace's end-of-pass line in the form the
// driving program prints to stdout, e.g.:
//
//	namespace1: 120 files, 48.0MiB inspected; GC: 4 objects, 6 refs eligible for deletion, 2 volatile; repack: 3 files (1.2MiB); rebuild: 1 object(s) (64.0MiB)
func WriteSummary(w io.Writer, s NamespaceSummary) error {
	gcVerb := "deleted"
	if s.DryRun {
		gcVerb = "eligible for deletion"
	}
	_, err := fmt.Fprintf(w, "%s: %d files, %s inspected; GC: %d objects, %d refs %s, %d volatile; repack: %d files (%s); rebuild: %d object(s) (%s)\n",
		s.Namespace, s.FilesInspected, humanBytes(s.BytesInspected),
		s.ObjectsGC, s.RefsGC, gcVerb, s.VolatileFiles,
		s.RepackFiles, humanBytes(s.RepackBytes),
		s.RebuildObjects, humanBytes(s.RebuildBytes))
	return err
}

// WriteOverallSummary renders every namespace's line, in namespace
// order, followed by a totals line.
func WriteOverallSummary(w io.Writer, summaries []NamespaceSummary) error {
	sorted := append([]NamespaceSummary(nil), summaries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Namespace < sorted[j].Namespace })

	var totalFiles, totalBytes, totalObjGC, totalRefGC, totalVol int64
	for _, s := range sorted {
		if err := WriteSummary(w, s); err != nil {
			return err
		}
		totalFiles += s.FilesInspected
		totalBytes += s.BytesInspected
		totalObjGC += s.ObjectsGC
		totalRefGC += s.RefsGC
		totalVol += s.VolatileFiles
	}
	_, err := fmt.Fprintf(w, "total: %d files, %s inspected; GC: %d objects, %d refs, %d volatile\n",
		totalFiles, humanBytes(totalBytes), totalObjGC, totalRefGC, totalVol)
	return err
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
