package marfshealth

import (
	"strings"
	"testing"
)

func TestWriteSummaryDryRunSaysEligible(t *testing.T) {
	var b strings.Builder
	err := WriteSummary(&b, NamespaceSummary{
		Namespace: "ns-a", FilesInspected: 10, BytesInspected: 2048,
		ObjectsGC: 2, RefsGC: 3, DryRun: true,
	})
	if err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if !strings.Contains(b.String(), "eligible for deletion") {
		t.Fatalf("expected dry-run wording, got %q", b.String())
	}
}

func TestWriteSummaryLiveRunSaysDeleted(t *testing.T) {
	var b strings.Builder
	err := WriteSummary(&b, NamespaceSummary{Namespace: "ns-a", ObjectsGC: 1, RefsGC: 1})
	if err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if !strings.Contains(b.String(), "deleted") || strings.Contains(b.String(), "eligible") {
		t.Fatalf("expected live-run wording, got %q", b.String())
	}
}

func TestWriteOverallSummarySortsAndTotals(t *testing.T) {
	var b strings.Builder
	err := WriteOverallSummary(&b, []NamespaceSummary{
		{Namespace: "ns-b", FilesInspected: 5, ObjectsGC: 1},
		{Namespace: "ns-a", FilesInspected: 3, ObjectsGC: 2},
	})
	if err != nil {
		t.Fatalf("WriteOverallSummary: %v", err)
	}
	out := b.String()
	if strings.Index(out, "ns-a") > strings.Index(out, "ns-b") {
		t.Fatalf("expected ns-a before ns-b, got %q", out)
	}
	if !strings.Contains(out, "total: 8 files") {
		t.Fatalf("expected totals line summing both namespaces, got %q", out)
	}
}
