// Package cluster partitions a namespace list across local worker
// "ranks" and reduces per-rank accumulators into a single total,
// standing in for the MPI rank partition/reduction spec.md §4.7
// describes (SPEC_FULL.md component 16). It is structured so a future
// multi-process deployment could swap the in-process transport for a
// network one without changing the partition/reduce logic: Partition
// and Reduce only ever see plain values, never a channel or goroutine.
package cluster

import "github.com/marfs-core/marfs/pkg/marfserr"

// Plan is the outcome of partitioning a namespace list across ranks:
// which namespaces rank r owns, and which rank is the reporter.
type Plan struct {
	nRanks       int
	reporterRank int
	assignments  map[int][]string
}

// Partition assigns namespaces to ranks using the same `i mod
// (n_ranks-1) == r` scheme as spec.md §4.7, reserving the last rank
// (nRanks-1) as the reporter: it owns no namespaces of its own and
// instead receives every other rank's reduced total.
//
// nRanks must be at least 2 — one worker rank and one reporter. A
// single-rank deployment should call Partition with nRanks=2 and simply
// run both roles in the same process.
func Partition(namespaces []string, nRanks int) (Plan, error) {
	if nRanks < 2 {
		return Plan{}, marfserr.Newf(marfserr.InvalidArgument, "cluster: nRanks must be >= 2, got %d", nRanks)
	}
	workerRanks := nRanks - 1
	assignments := make(map[int][]string, workerRanks)
	for i, ns := range namespaces {
		r := i % workerRanks
		assignments[r] = append(assignments[r], ns)
	}
	return Plan{nRanks: nRanks, reporterRank: nRanks - 1, assignments: assignments}, nil
}

// NamespacesFor returns the namespaces assigned to rank r, or nil if r
// is the reporter rank or owns none.
func (p Plan) NamespacesFor(r int) []string {
	return p.assignments[r]
}

// ReporterRank returns the rank index reserved as reporter.
func (p Plan) ReporterRank() int {
	return p.reporterRank
}

// WorkerRanks returns the number of non-reporter ranks in the plan.
func (p Plan) WorkerRanks() int {
	return p.nRanks - 1
}

// Accumulator is any per-rank running total the resource manager wants
// reduced to a single value once every rank has finished its pass —
// e.g. streamwalker.Counts or a per-namespace quota tally.
type Accumulator[T any] interface {
	Merge(other T) T
}

// Reduce folds every rank's accumulator into one, in rank order, using
// zero as the identity when per[r] is absent. It runs entirely
// in-process today; a networked deployment would instead have each
// worker rank send its accumulator to the reporter rank and call Reduce
// there.
func Reduce[T Accumulator[T]](zero T, per map[int]T, workerRanks int) T {
	total := zero
	for r := 0; r < workerRanks; r++ {
		if v, ok := per[r]; ok {
			total = total.Merge(v)
		}
	}
	return total
}
