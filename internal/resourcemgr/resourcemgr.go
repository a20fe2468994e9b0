// Package resourcemgr is the top-level resource-manager driver
// (spec.md §4.7): given a config and an optional namespace filter, it
// partitions namespaces across ranks, runs each namespace's producer/
// consumer work queue over a streamwalker, executes the resulting
// GC/repack/rebuild operations, writes back quota usage, and returns
// the end-of-pass summaries in a Report for the caller to render.
package resourcemgr

import (
	"context"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/marfs-core/marfs/internal/circuit"
	"github.com/marfs-core/marfs/internal/cluster"
	"github.com/marfs-core/marfs/internal/config"
	"github.com/marfs-core/marfs/internal/dal"
	"github.com/marfs-core/marfs/internal/datastream"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/metrics"
	"github.com/marfs-core/marfs/internal/refcache"
	"github.com/marfs-core/marfs/internal/resourcelog"
	"github.com/marfs-core/marfs/internal/streamwalker"
	"github.com/marfs-core/marfs/internal/tagging"
	"github.com/marfs-core/marfs/internal/workqueue"
	"github.com/marfs-core/marfs/pkg/marfserr"
	"github.com/marfs-core/marfs/pkg/marfshealth"
	"github.com/marfs-core/marfs/pkg/marfslog"
	"github.com/marfs-core/marfs/pkg/marfsrecovery"
	"github.com/marfs-core/marfs/pkg/marfsretry"
)

// Manager binds the MDAL/DAL backends and every ambient subsystem
// (config, logging, metrics, health, circuit breaking, retry) a pass
// needs, shared across however many namespaces one invocation covers.
type Manager struct {
	cfg *config.Config
	log *marfslog.Logger

	md mdal.MDAL
	da dal.DAL

	metrics  *metrics.Collector
	health   *marfshealth.Tracker
	breakers *circuit.Manager
	retryer  *marfsretry.Retryer

	refCacheSize int
}

// Option customizes a Manager at construction.
type Option func(*Manager)

// WithMetrics attaches a metrics collector; a nil/disabled collector is
// the default and every recording call becomes a no-op.
func WithMetrics(m *metrics.Collector) Option { return func(mgr *Manager) { mgr.metrics = m } }

// WithHealth attaches a health tracker the manager reports DAL op
// outcomes to. The tracker is not consulted before a namespace's pass.
func WithHealth(h *marfshealth.Tracker) Option { return func(mgr *Manager) { mgr.health = h } }

// WithRefCacheSize overrides the per-stream reference-path cache
// capacity (default 256).
func WithRefCacheSize(n int) Option { return func(mgr *Manager) { mgr.refCacheSize = n } }

// New builds a Manager over already-open MDAL/DAL backends.
func New(cfg *config.Config, log *marfslog.Logger, md mdal.MDAL, da dal.DAL, opts ...Option) *Manager {
	if log == nil {
		log = marfslog.Nop()
	}
	m := &Manager{
		cfg:          cfg,
		log:          log,
		md:           md,
		da:           da,
		breakers:     circuit.NewManager(circuit.Config{}),
		retryer:      marfsretry.New(marfsretry.DefaultConfig()),
		refCacheSize: 256,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOptions parameterizes one invocation of RunPass.
type RunOptions struct {
	// Namespace restricts the pass to one namespace; empty means every
	// namespace in the config.
	Namespace string
	// DryRun is the inverse of the CLI's -d flag: when true, the manager
	// only counts what would be collected, never deleting or unlinking
	// anything.
	DryRun bool
	// NProd/NCons override the config's worker-pool sizing for this
	// invocation (e.g. a CLI -t flag); zero keeps the config value.
	NProd, NCons int
}

// Report is RunPass's output: per-namespace summaries plus the
// reduced, cluster-wide total.
type Report struct {
	Namespaces []marfshealth.NamespaceSummary
	Total      streamwalker.Counts
	Duration   time.Duration
}

// RunPass executes one full resource-manager pass: partition the
// target namespaces across worker ranks, run each rank's namespaces in
// its own goroutine (standing in for a real per-rank process), and
// reduce every rank's counts into one cluster-wide total.
func (m *Manager) RunPass(ctx context.Context, opts RunOptions) (Report, error) {
	start := time.Now()
	namespaces, err := m.selectNamespaces(opts.Namespace)
	if err != nil {
		return Report{}, err
	}

	plan, err := cluster.Partition(namespaces, m.cfg.WorkerPool.NRanks)
	if err != nil {
		return Report{}, err
	}

	var (
		summariesMu sync.Mutex
		summaries   []marfshealth.NamespaceSummary
		perRankMu   sync.Mutex
		perRank     = map[int]streamwalker.Counts{}
		wg          sync.WaitGroup
	)

	for r := 0; r < plan.WorkerRanks(); r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			var rankTotal streamwalker.Counts
			for _, ns := range plan.NamespacesFor(r) {
				summary, counts, err := m.runNamespace(ctx, ns, opts)
				if err != nil {
					m.log.Errorf("resourcemgr: rank %d namespace %q failed: %v", r, ns, err)
					continue
				}
				rankTotal = rankTotal.Merge(counts)
				summariesMu.Lock()
				summaries = append(summaries, summary)
				summariesMu.Unlock()
			}
			perRankMu.Lock()
			perRank[r] = rankTotal
			perRankMu.Unlock()
		}()
	}
	wg.Wait()

	total := cluster.Reduce(streamwalker.Counts{}, perRank, plan.WorkerRanks())
	if m.metrics != nil {
		m.metrics.RecordGC(total.DelObjs, total.DelFiles, total.VolFiles)
		m.metrics.RecordRepack(total.RpckFiles, total.RpckBytes)
		m.metrics.RecordRebuild(total.RbldObjs, total.RbldBytes)
		m.metrics.ObservePassDuration(opts.Namespace, time.Since(start))
	}

	return Report{Namespaces: summaries, Total: total, Duration: time.Since(start)}, nil
}

func (m *Manager) selectNamespaces(filter string) ([]string, error) {
	if filter != "" {
		if _, ok := m.cfg.Namespaces[filter]; !ok {
			return nil, marfserr.Newf(marfserr.NotFound, "resourcemgr: namespace %q not found in config", filter)
		}
		return []string{filter}, nil
	}
	names := make([]string, 0, len(m.cfg.Namespaces))
	for name := range m.cfg.Namespaces {
		names = append(names, name)
	}
	return names, nil
}

// runNamespace runs one namespace's producer/consumer pass to
// completion: replay any log left behind by an interrupted prior pass,
// scan its reference tree, walk every stream found, execute (or, under
// DryRun, merely count) the resulting GC/repack/rebuild operations,
// then write quota usage back through the MDAL.
func (m *Manager) runNamespace(ctx context.Context, name string, opts RunOptions) (marfshealth.NamespaceSummary, streamwalker.Counts, error) {
	nsCfg, ok := m.cfg.Namespaces[name]
	if !ok {
		return marfshealth.NamespaceSummary{}, streamwalker.Counts{}, marfserr.Newf(marfserr.NotFound, "resourcemgr: unknown namespace %q", name)
	}
	repoCfg, ok := m.cfg.Repositories[nsCfg.Repository]
	if !ok {
		return marfshealth.NamespaceSummary{}, streamwalker.Counts{}, marfserr.Newf(marfserr.NotFound, "resourcemgr: namespace %q references unknown repository %q", name, nsCfg.Repository)
	}
	repo := repoCfg.ToRepoConfig()
	// NamespaceConfig.ToThresholds reports ages in seconds, not cutoffs
	// (so the config package stays wall-clock-free and testable); the
	// streamwalker wants an absolute ctime cutoff, so resolve it here,
	// at the moment the pass actually starts.
	th := effectiveThresholds(nsCfg.ToThresholds(), time.Now())

	mc, err := m.md.NewCtxt(ctx, nsCfg.MetadataPath)
	if err != nil {
		return marfshealth.NamespaceSummary{}, streamwalker.Counts{}, marfserr.Wrap(marfserr.InternalError, err, "resourcemgr: opening namespace metadata context")
	}
	defer mc.Close()

	dc, err := m.da.NewCtxt(ctx, repo.Erasure.N+repo.Erasure.E, dal.Location{})
	if err != nil {
		return marfshealth.NamespaceSummary{}, streamwalker.Counts{}, marfserr.Wrap(marfserr.InternalError, err, "resourcemgr: opening namespace DAL context")
	}
	defer dc.Close()

	logPath := filepath.Join(nsCfg.MetadataPath, ".rsrcmgr.log")
	rlog, err := resourcelog.Open(logPath, resourcelog.ModeModify)
	if err != nil {
		return marfshealth.NamespaceSummary{}, streamwalker.Counts{}, marfserr.Wrap(marfserr.InternalError, err, "resourcemgr: opening resource log")
	}
	defer rlog.Close()
	if !opts.DryRun {
		if err := m.replayPriorPass(ctx, mc, dc, repo, rlog, logPath); err != nil {
			m.log.Warnf("resourcemgr: namespace %q: recovery replay: %v", name, err)
		}
	}

	nProd, nCons := m.cfg.WorkerPool.NProd, m.cfg.WorkerPool.NCons
	if opts.NProd > 0 {
		nProd = opts.NProd
	}
	if opts.NCons > 0 {
		nCons = opts.NCons
	}
	if nProd < 1 {
		nProd = 1
	}
	if nCons < 1 {
		nCons = 1
	}

	q := workqueue.New(nProd * 4)
	var prodWG sync.WaitGroup
	prodErrs := make(chan error, nProd)
	for i := 0; i < nProd; i++ {
		prodWG.Add(1)
		go func(shard, of int) {
			defer prodWG.Done()
			if err := m.produce(ctx, mc, q, shard, of); err != nil {
				prodErrs <- err
			}
		}(i, nProd)
	}
	go func() {
		prodWG.Wait()
		close(prodErrs)
		q.Close()
	}()

	var (
		countsMu sync.Mutex
		counts   streamwalker.Counts
	)
	stats := q.Drain(ctx, nCons, func(ctx context.Context, item workqueue.Item) error {
		c, err := m.consume(ctx, mc, dc, repo, th, rlog, item, opts.DryRun)
		countsMu.Lock()
		counts = counts.Merge(c)
		countsMu.Unlock()
		return err
	})
	m.log.Debugf("resourcemgr: namespace %q drained %d items (%d failed)", name, stats.Processed, stats.Failed)

	for err := range prodErrs {
		m.log.Warnf("resourcemgr: namespace %q producer error: %v", name, err)
	}

	if err := m.md.SetDataUsage(ctx, mc, mdal.DataUsage{BytesUsed: counts.ByteUsage}); err != nil {
		m.log.Warnf("resourcemgr: namespace %q: writing back data usage: %v", name, err)
	}
	if err := m.md.SetInodeUsage(ctx, mc, mdal.InodeUsage{FilesUsed: counts.FileUsage}); err != nil {
		m.log.Warnf("resourcemgr: namespace %q: writing back inode usage: %v", name, err)
	}
	if m.metrics != nil {
		m.metrics.SetQuotaUsage(name, counts.FileUsage, counts.ByteUsage)
	}

	summary := marfshealth.NamespaceSummary{
		Namespace:      name,
		FilesInspected: counts.FileCount,
		BytesInspected: counts.ByteCount,
		ObjectsGC:      counts.DelObjs,
		RefsGC:         counts.DelFiles,
		VolatileFiles:  counts.VolFiles,
		RepackFiles:    counts.RpckFiles,
		RepackBytes:    counts.RpckBytes,
		RebuildObjects: counts.RbldObjs,
		RebuildBytes:   counts.RbldBytes,
		DryRun:         opts.DryRun,
	}
	return summary, counts, nil
}

// replayPriorPass re-runs spec.md §4.5's recovery rule at the start of
// every non-dry-run namespace pass: an op logged as started but never completed by
// a prior, interrupted run is cleaned up and re-queued as brand-new
// work for this pass, rather than trusted or silently skipped. The
// namespace's own metadata root doubles as the log's home (one fixed,
// well-known name per namespace), so a restarted manager always finds
// its predecessor's leftovers in the same place.
func (m *Manager) replayPriorPass(ctx context.Context, mc mdal.Ctxt, dc dal.Ctxt, repo datastream.RepoConfig, rlog *resourcelog.Log, logPath string) error {
	incomplete, err := marfsrecovery.Replay(logPath)
	if err != nil {
		return err
	}
	if len(incomplete) == 0 {
		return nil
	}
	cleanup := func(ctx context.Context, op resourcelog.Op) error {
		// Partial state left by an aborted DELETE-OBJ/REPACK/REBUILD is
		// whatever the DAL/MDAL drivers themselves already guarantee is
		// torn down on Abort; nothing further to remove here before
		// the op is replayed in full below.
		return nil
	}
	requeue := func(ctx context.Context, op resourcelog.Op) error {
		return m.executeOp(ctx, mc, dc, repo, rlog, op.ClientTag, op.StreamID, op, false)
	}
	return marfsrecovery.Recover(ctx, m.log, incomplete, cleanup, requeue)
}

// produce scans shard slice `shard` of `of` of the namespace's
// reference tree (a trivial round-robin partition by scan position, so
// several producer goroutines can scan disjoint parts of one namespace
// in parallel) and submits a work item for every fileno-zero stream
// root it finds.
func (m *Manager) produce(ctx context.Context, mc mdal.Ctxt, q *workqueue.Queue, shard, of int) error {
	scanner, err := m.md.OpenScanner(ctx, mc, "")
	if err != nil {
		return marfserr.Wrap(marfserr.InternalError, err, "resourcemgr: opening reference-tree scanner")
	}
	defer scanner.Close(ctx)

	var i int
	for {
		entry, err := scanner.Scan(ctx)
		if err != nil {
			return marfserr.Wrap(marfserr.InternalError, err, "resourcemgr: scanning reference tree")
		}
		if entry == nil {
			return nil
		}
		if i%of != shard {
			i++
			continue
		}
		i++

		fileno, kind, err := tagging.ParseMetaInfo(path.Base(entry.Name))
		if err != nil || kind != tagging.EntryFile || fileno != 0 {
			continue
		}

		f, err := m.md.OpenRef(ctx, mc, entry.Name, mdal.OReadOnly, 0)
		if err != nil {
			continue
		}
		raw, xerr := f.Fgetxattr(ctx, tagging.FTAGName)
		f.Close(ctx)
		if xerr != nil {
			continue
		}
		ftag, perr := tagging.FTAGFromStr(string(raw))
		if perr != nil {
			continue
		}

		if err := q.Submit(ctx, workqueue.Item{Type: workqueue.ItemStreamRoot, RefPath: entry.Name, FTAG: ftag}); err != nil {
			return err
		}
	}
}

// consume walks one stream to completion, executing every op chain the
// walker emits along the way, and returns the walker's final Counts.
func (m *Manager) consume(ctx context.Context, mc mdal.Ctxt, dc dal.Ctxt, repo datastream.RepoConfig, th streamwalker.Thresholds, rlog *resourcelog.Log, item workqueue.Item, dryRun bool) (streamwalker.Counts, error) {
	itemMC, err := mc.Duplicate()
	if err != nil {
		return streamwalker.Counts{}, marfserr.Wrap(marfserr.InternalError, err, "resourcemgr: duplicating metadata context")
	}
	defer itemMC.Close()

	cache := refcache.New(m.refCacheSize)
	walker := streamwalker.New(m.md, itemMC, repo, cache, item.FTAG.ClientTag, item.FTAG.StreamID, th)

	for {
		gcOps, repackOps, rebuildOps, done, err := walker.Iterate(ctx)
		if err != nil {
			return walker.Counts(), err
		}
		for _, ops := range [][]resourcelog.Op{gcOps, repackOps, rebuildOps} {
			for _, op := range ops {
				if execErr := m.executeOp(ctx, itemMC, dc, repo, rlog, item.FTAG.ClientTag, item.FTAG.StreamID, op, dryRun); execErr != nil {
					m.log.Warnf("resourcemgr: %s op fileno=%d objno=%d failed: %v", op.Type, op.FileNo, op.ObjNo, execErr)
				}
			}
		}
		if done {
			break
		}
	}
	return walker.Counts(), nil
}

// executeOp logs op as started, carries it out against the DAL/MDAL
// (skipped under dryRun, in which case the op is recorded as a no-op
// completion purely for counting purposes), then logs its completion.
// DAL calls go through the Manager-wide circuit breaker for the op's
// target location (keyed by pool, shared across namespaces) and through the shared retryer, so a transient
// disconnect mid-pass is retried rather than aborting the whole run.
func (m *Manager) executeOp(ctx context.Context, mc mdal.Ctxt, dc dal.Ctxt, repo datastream.RepoConfig, rlog *resourcelog.Log, clientTag, streamID string, op resourcelog.Op, dryRun bool) error {
	op.ClientTag = clientTag
	op.StreamID = streamID
	id, err := rlog.StartOp(op)
	if err != nil {
		return err
	}
	op.ID = id

	var opErr error
	if !dryRun {
		switch op.Type {
		case resourcelog.OpDeleteObj:
			opErr = m.deleteObject(ctx, dc, repo, clientTag, streamID, op.ObjNo)
		case resourcelog.OpDeleteRef:
			refPath := refPathFor(repo.RefTree, clientTag, streamID, op.FileNo)
			opErr = m.md.UnlinkRef(ctx, mc, refPath)
		case resourcelog.OpRebuild, resourcelog.OpRepack:
			// Repack/rebuild execution (writing a replacement packed
			// object, or re-striping a damaged one) belongs to the
			// datastream engine's write path, not the resource
			// manager; this pass only records the candidate so a
			// follow-on repack/rebuild tool can act on it.
		}
	}

	errCode := ""
	if opErr != nil {
		errCode = string(marfserr.CodeOf(opErr))
	}
	if _, err := rlog.ProcessOp(op, errCode); err != nil && opErr == nil {
		return err
	}
	if m.health != nil {
		loc := datastream.LocationFor(repo, op.ObjNo)
		if opErr != nil {
			m.health.RecordError(loc.Pool, opErr)
		} else {
			m.health.RecordSuccess(loc.Pool)
		}
	}
	return opErr
}

func (m *Manager) deleteObject(ctx context.Context, dc dal.Ctxt, repo datastream.RepoConfig, clientTag, streamID string, objNo int64) error {
	ftag := &tagging.FTAG{ClientTag: clientTag, StreamID: streamID, ObjNo: objNo}
	objectName := ftag.ObjectName()
	loc := datastream.LocationFor(repo, objNo)
	breaker := m.breakers.Get(loc.Pool)
	return breaker.Execute(ctx, func(ctx context.Context) error {
		return m.retryer.Do(ctx, func(ctx context.Context) error {
			return m.da.Delete(ctx, dc, objectName, loc)
		})
	})
}

// effectiveThresholds turns NamespaceConfig.ToThresholds's ages (in
// seconds) into the absolute ctime cutoffs streamwalker.Thresholds
// expects, anchored at now. A zero age is left at zero, preserving
// streamwalker's "0 disables this operation class" convention.
func effectiveThresholds(ages streamwalker.Thresholds, now time.Time) streamwalker.Thresholds {
	cutoff := func(age int64) int64 {
		if age == 0 {
			return 0
		}
		return now.Unix() - age
	}
	return streamwalker.Thresholds{
		GC:      cutoff(ages.GC),
		Repack:  cutoff(ages.Repack),
		Rebuild: cutoff(ages.Rebuild),
	}
}

// refPathFor reconstructs the reference path for fileno within one
// stream, the same way streamwalker derives it internally — so the
// resource manager can locate a ref to unlink purely from a logged
// op's (ClientTag, StreamID, FileNo), without keeping the walker that
// produced it around.
func refPathFor(shape tagging.RefTreeShape, clientTag, streamID string, fileno int64) string {
	probe := &tagging.FTAG{ClientTag: clientTag, StreamID: streamID, FileNo: fileno}
	return tagging.RefTreeJoin(shape, clientTag, streamID, fileno, probe.MetaPath())
}
