package cluster

import (
	"testing"

	"github.com/marfs-core/marfs/internal/streamwalker"
)

func TestPartitionAssignsEveryNamespaceToAWorkerRank(t *testing.T) {
	namespaces := []string{"ns-0", "ns-1", "ns-2", "ns-3", "ns-4"}
	plan, err := Partition(namespaces, 3) // 2 worker ranks + 1 reporter
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	if plan.ReporterRank() != 2 {
		t.Fatalf("expected reporter rank 2, got %d", plan.ReporterRank())
	}
	if plan.WorkerRanks() != 2 {
		t.Fatalf("expected 2 worker ranks, got %d", plan.WorkerRanks())
	}

	got := map[string]bool{}
	for r := 0; r < plan.WorkerRanks(); r++ {
		for _, ns := range plan.NamespacesFor(r) {
			got[ns] = true
		}
	}
	for _, ns := range namespaces {
		if !got[ns] {
			t.Fatalf("namespace %q was not assigned to any worker rank", ns)
		}
	}
	if len(plan.NamespacesFor(plan.ReporterRank())) != 0 {
		t.Fatalf("reporter rank must not own namespaces")
	}
}

func TestPartitionRejectsFewerThanTwoRanks(t *testing.T) {
	if _, err := Partition([]string{"ns-0"}, 1); err == nil {
		t.Fatalf("expected an error for nRanks < 2")
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	namespaces := []string{"a", "b", "c", "d", "e", "f", "g"}
	p1, _ := Partition(namespaces, 4)
	p2, _ := Partition(namespaces, 4)

	for r := 0; r < p1.WorkerRanks(); r++ {
		a, b := p1.NamespacesFor(r), p2.NamespacesFor(r)
		if len(a) != len(b) {
			t.Fatalf("rank %d: expected deterministic assignment, got %v vs %v", r, a, b)
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("rank %d: expected deterministic assignment, got %v vs %v", r, a, b)
			}
		}
	}
}

func TestReduceMergesPerRankCounts(t *testing.T) {
	per := map[int]streamwalker.Counts{
		0: {FileCount: 10, DelObjs: 2},
		1: {FileCount: 5, DelObjs: 1},
	}
	total := Reduce(streamwalker.Counts{}, per, 2)

	if total.FileCount != 15 {
		t.Fatalf("expected FileCount 15, got %d", total.FileCount)
	}
	if total.DelObjs != 3 {
		t.Fatalf("expected DelObjs 3, got %d", total.DelObjs)
	}
}

func TestReduceIgnoresRanksMissingFromTheMap(t *testing.T) {
	per := map[int]streamwalker.Counts{
		0: {FileCount: 7},
		// rank 1 never reported in (e.g. it owned no namespaces)
	}
	total := Reduce(streamwalker.Counts{}, per, 2)

	if total.FileCount != 7 {
		t.Fatalf("expected FileCount 7, got %d", total.FileCount)
	}
}
