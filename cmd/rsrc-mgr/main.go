// Command rsrc-mgr runs one resource-manager pass (spec.md §4.7/§6):
// partition the configured namespaces, walk every stream, collect,
// repack-flag and rebuild-flag as directed, then print one summary line
// per namespace to stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marfs-core/marfs/internal/config"
	"github.com/marfs-core/marfs/internal/dal"
	"github.com/marfs-core/marfs/internal/dal/s3"
	"github.com/marfs-core/marfs/internal/mdal"
	"github.com/marfs-core/marfs/internal/metrics"
	"github.com/marfs-core/marfs/internal/resourcemgr"
	"github.com/marfs-core/marfs/pkg/marfshealth"
	"github.com/marfs-core/marfs/pkg/marfslog"
)

var (
	configPath string
	verbose    bool
	doDelete   bool
	namespace  string
	threads    string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "marfs-rsrc_mgr",
		Short:         "Run a MarFS resource-manager pass over one or more namespaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	defaultConfigPath := os.Getenv("MARFS_CONFIG_PATH")
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the resource manager's YAML config (default: $MARFS_CONFIG_PATH)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging, overriding the config's log_level")
	cmd.Flags().BoolVarP(&doDelete, "delete", "d", false, "actually delete/unlink GC candidates instead of only counting them")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "restrict the pass to one namespace (default: every namespace in the config)")
	cmd.Flags().StringVarP(&threads, "threads", "t", "", "override worker-pool sizing as nprod:ncons (default: the config's worker_pool values)")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("rsrc-mgr: -c/--config is required (or set MARFS_CONFIG_PATH)")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("rsrc-mgr: loading config: %w", err)
	}

	log, err := newLogger(cfg.Global, verbose)
	if err != nil {
		return fmt.Errorf("rsrc-mgr: building logger: %w", err)
	}

	nProd, nCons, err := parseThreads(threads)
	if err != nil {
		return err
	}

	da, err := newDAL(cmd.Context(), cfg.DAL, log)
	if err != nil {
		return fmt.Errorf("rsrc-mgr: building DAL driver: %w", err)
	}
	md := mdal.NewMemDriver()

	mc := metrics.New(metrics.Config{Enabled: cfg.Global.MetricsPort != 0, Port: cfg.Global.MetricsPort})
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := mc.Start(ctx); err != nil {
		return fmt.Errorf("rsrc-mgr: starting metrics endpoint: %w", err)
	}

	health := marfshealth.NewTracker(marfshealth.DefaultConfig())
	if cfg.Global.HealthPort != 0 {
		if err := marfshealth.NewServer(health, cfg.Global.HealthPort).Start(ctx); err != nil {
			return fmt.Errorf("rsrc-mgr: starting health endpoint: %w", err)
		}
	}

	mgr := resourcemgr.New(cfg, log, md, da,
		resourcemgr.WithMetrics(mc),
		resourcemgr.WithHealth(health),
	)

	report, err := mgr.RunPass(ctx, resourcemgr.RunOptions{
		Namespace: namespace,
		DryRun:    !doDelete,
		NProd:     nProd,
		NCons:     nCons,
	})
	if err != nil {
		return fmt.Errorf("rsrc-mgr: pass failed: %w", err)
	}

	return marfshealth.WriteOverallSummary(os.Stdout, report.Namespaces)
}

func newLogger(g config.GlobalConfig, verbose bool) (*marfslog.Logger, error) {
	level := marfslog.INFO
	if g.LogLevel != "" {
		parsed, err := marfslog.ParseLevel(g.LogLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	if verbose {
		level = marfslog.DEBUG
	}
	format := marfslog.FormatText
	if g.LogFormat == "json" {
		format = marfslog.FormatJSON
	}
	lcfg := marfslog.Config{Level: level, Format: format}
	if g.LogFile != "" {
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		lcfg.Output = f
	}
	return marfslog.New(lcfg)
}

func newDAL(ctx context.Context, cfg config.DALConfig, log *marfslog.Logger) (dal.DAL, error) {
	switch cfg.Driver {
	case "", "memory":
		return dal.NewMemDriver(), nil
	case "s3":
		return s3.New(ctx, cfg.S3, log)
	default:
		return nil, fmt.Errorf("unknown dal.driver %q", cfg.Driver)
	}
}

// parseThreads parses a "nprod:ncons" override string into its two
// halves; an empty string leaves both zero, which RunOptions treats as
// "use the config's worker_pool values".
func parseThreads(spec string) (nProd, nCons int, err error) {
	if spec == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rsrc-mgr: -t expects nprod:ncons, got %q", spec)
	}
	nProd, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("rsrc-mgr: invalid producer count in -t %q: %w", spec, err)
	}
	nCons, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("rsrc-mgr: invalid consumer count in -t %q: %w", spec, err)
	}
	return nProd, nCons, nil
}
