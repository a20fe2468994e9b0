// Package metrics exposes Prometheus counters and histograms for the
// datastream engine's operations and the resource manager's GC/rebuild/
// repack passes (SPEC_FULL.md component 17).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config tunes whether metrics are collected and where they're served.
type Config struct {
	Enabled bool
	Port    int
	Path    string
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Port == 0 {
		c.Port = 9090
	}
	return c
}

// Collector owns the registry and every metric this module records.
type Collector struct {
	config Config

	registry *prometheus.Registry
	server   *http.Server

	streamOps      *prometheus.CounterVec
	streamOpLatency *prometheus.HistogramVec

	gcObjectsDeleted   prometheus.Counter
	gcRefsDeleted      prometheus.Counter
	gcVolatileFiles    prometheus.Counter
	repackOpsTotal     prometheus.Counter
	repackBytesTotal   prometheus.Counter
	rebuildOpsTotal    prometheus.Counter
	rebuildBytesTotal  prometheus.Counter

	passDuration *prometheus.HistogramVec
	nsQuotaFiles *prometheus.GaugeVec
	nsQuotaBytes *prometheus.GaugeVec
}

// New builds a Collector. If cfg.Enabled is false, every recording method
// is a safe no-op and Start never binds a listening socket.
func New(cfg Config) *Collector {
	cfg = cfg.withDefaults()
	if !cfg.Enabled {
		return &Collector{config: cfg}
	}

	reg := prometheus.NewRegistry()
	c := &Collector{
		config:   cfg,
		registry: reg,
		streamOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "datastream", Name: "operations_total",
			Help: "Count of datastream engine operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		streamOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marfs", Subsystem: "datastream", Name: "operation_seconds",
			Help:    "Datastream engine operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		gcObjectsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "gc", Name: "objects_deleted_total",
			Help: "Objects deleted by garbage collection.",
		}),
		gcRefsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "gc", Name: "refs_deleted_total",
			Help: "Reference files deleted by garbage collection.",
		}),
		gcVolatileFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "gc", Name: "volatile_files_total",
			Help: "Unlinked files observed but too recent to collect.",
		}),
		repackOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "repack", Name: "operations_total",
			Help: "Repack operations queued.",
		}),
		repackBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "repack", Name: "bytes_total",
			Help: "Bytes covered by queued repack operations.",
		}),
		rebuildOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "rebuild", Name: "operations_total",
			Help: "Rebuild operations queued.",
		}),
		rebuildBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marfs", Subsystem: "rebuild", Name: "bytes_total",
			Help: "Bytes covered by queued rebuild operations.",
		}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marfs", Subsystem: "resourcemgr", Name: "pass_duration_seconds",
			Help:    "Resource-manager pass duration by namespace.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"namespace"}),
		nsQuotaFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marfs", Subsystem: "quota", Name: "files_used",
			Help: "Per-namespace file-count quota usage written back after a pass.",
		}, []string{"namespace"}),
		nsQuotaBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marfs", Subsystem: "quota", Name: "bytes_used",
			Help: "Per-namespace byte quota usage written back after a pass.",
		}, []string{"namespace"}),
	}

	reg.MustRegister(
		c.streamOps, c.streamOpLatency,
		c.gcObjectsDeleted, c.gcRefsDeleted, c.gcVolatileFiles,
		c.repackOpsTotal, c.repackBytesTotal,
		c.rebuildOpsTotal, c.rebuildBytesTotal,
		c.passDuration, c.nsQuotaFiles, c.nsQuotaBytes,
	)
	return c
}

// Start binds the /metrics HTTP endpoint in the background. A disabled
// collector returns immediately without binding anything.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		_ = c.server.ListenAndServe()
	}()
	return nil
}

// Stop shuts down the metrics HTTP endpoint, if one was started.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordStreamOp records one datastream engine operation's outcome and
// latency.
func (c *Collector) RecordStreamOp(op string, elapsed time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.streamOps.WithLabelValues(op, outcome).Inc()
	c.streamOpLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordGC folds one streamwalker pass's GC-related counts in.
func (c *Collector) RecordGC(delObjs, delFiles, volFiles int64) {
	if !c.config.Enabled {
		return
	}
	c.gcObjectsDeleted.Add(float64(delObjs))
	c.gcRefsDeleted.Add(float64(delFiles))
	c.gcVolatileFiles.Add(float64(volFiles))
}

// RecordRepack folds one streamwalker pass's repack counts in.
func (c *Collector) RecordRepack(files, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.repackOpsTotal.Add(float64(files))
	c.repackBytesTotal.Add(float64(bytes))
}

// RecordRebuild folds one streamwalker pass's rebuild counts in.
func (c *Collector) RecordRebuild(objs, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.rebuildOpsTotal.Add(float64(objs))
	c.rebuildBytesTotal.Add(float64(bytes))
}

// ObservePassDuration records how long a namespace's resource-manager
// pass took.
func (c *Collector) ObservePassDuration(namespace string, elapsed time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.passDuration.WithLabelValues(namespace).Observe(elapsed.Seconds())
}

// SetQuotaUsage records the quota counters written back for namespace.
func (c *Collector) SetQuotaUsage(namespace string, filesUsed, bytesUsed int64) {
	if !c.config.Enabled {
		return
	}
	c.nsQuotaFiles.WithLabelValues(namespace).Set(float64(filesUsed))
	c.nsQuotaBytes.WithLabelValues(namespace).Set(float64(bytesUsed))
}
