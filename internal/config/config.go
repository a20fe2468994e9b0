// Package config loads the resource manager's own YAML tuning file:
// logging/metrics/health ports, per-repository object-size and packing
// defaults, per-namespace threshold overrides, worker-pool sizing, and
// DAL backend selection (SPEC_FULL.md component 10). It is distinct
// from, and does not replace, the namespace/repository XML tree the
// real MarFS mount reads — this file owns only this module's own
// tuning knobs and CLI/test bootstrapping.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/marfs-core/marfs/internal/dal/s3"
	"github.com/marfs-core/marfs/internal/datastream"
	"github.com/marfs-core/marfs/internal/streamwalker"
	"github.com/marfs-core/marfs/internal/tagging"
	"github.com/marfs-core/marfs/pkg/marfserr"
	"github.com/marfs-core/marfs/pkg/marfslog"
)

// Config is the root of the resource manager's YAML config file.
type Config struct {
	Global       GlobalConfig                `yaml:"global"`
	WorkerPool   WorkerPoolConfig             `yaml:"worker_pool"`
	DAL          DALConfig                    `yaml:"dal"`
	Repositories map[string]RepositoryConfig  `yaml:"repositories"`
	Namespaces   map[string]NamespaceConfig   `yaml:"namespaces"`
}

// GlobalConfig carries the logging/metrics/health knobs shared by every
// namespace a pass touches.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// WorkerPoolConfig sizes the resource manager's per-namespace thread
// queue (spec.md §4.7 item 3) and the cluster rank count (§4.7 item 2).
type WorkerPoolConfig struct {
	NProd  int `yaml:"n_prod"`
	NCons  int `yaml:"n_cons"`
	NRanks int `yaml:"n_ranks"`
}

func (w WorkerPoolConfig) withDefaults() WorkerPoolConfig {
	if w.NProd <= 0 {
		w.NProd = 2
	}
	if w.NCons <= 0 {
		w.NCons = 4
	}
	if w.NRanks <= 0 {
		w.NRanks = 2
	}
	return w
}

// DALConfig selects and configures the backend data abstraction layer
// driver. Driver is "memory" or "s3"; S3 is only consulted when Driver
// is "s3".
type DALConfig struct {
	Driver string     `yaml:"driver"`
	S3     *s3.Config `yaml:"s3"`
}

// RepositoryConfig is the per-repository tuning spec.md §4.1/§4.4 refer
// to: target packed-object size, packing cap, erasure shape and
// reference-tree shape.
type RepositoryConfig struct {
	ObjSize  int64 `yaml:"obj_size"`
	ObjFiles int   `yaml:"obj_files"`

	Erasure struct {
		N        int `yaml:"n"`
		E        int `yaml:"e"`
		O        int `yaml:"o"`
		PartSize int `yaml:"part_size"`
	} `yaml:"erasure"`

	RefTree struct {
		Breadth int `yaml:"breadth"`
		Depth   int `yaml:"depth"`
		Digits  int `yaml:"digits"`
	} `yaml:"ref_tree"`
}

// ToRepoConfig converts the YAML shape into the datastream engine's
// RepoConfig.
func (r RepositoryConfig) ToRepoConfig() datastream.RepoConfig {
	return datastream.RepoConfig{
		ObjSize:  r.ObjSize,
		ObjFiles: r.ObjFiles,
		Erasure: tagging.Erasure{
			N: r.Erasure.N, E: r.Erasure.E, O: r.Erasure.O, PartSize: r.Erasure.PartSize,
		},
		RefTree: tagging.RefTreeShape{
			Breadth: r.RefTree.Breadth, Depth: r.RefTree.Depth, Digits: r.RefTree.Digits,
		},
	}
}

// NamespaceConfig names the namespace's metadata root, the repository
// it stores data in, and its GC/repack/rebuild threshold overrides. A
// zero threshold disables that class of resource-manager operation
// exactly as spec.md §4.6 specifies.
type NamespaceConfig struct {
	MetadataPath     string        `yaml:"metadata_path"`
	Repository       string        `yaml:"repository"`
	GCThreshold      time.Duration `yaml:"gc_threshold"`
	RepackThreshold  time.Duration `yaml:"repack_threshold"`
	RebuildThreshold time.Duration `yaml:"rebuild_threshold"`
}

// ToThresholds converts the YAML durations into streamwalker.Thresholds
// holding ages in seconds; the resource manager turns these ages into the
// absolute ctime cutoffs the walker compares against.
func (n NamespaceConfig) ToThresholds() streamwalker.Thresholds {
	return streamwalker.Thresholds{
		GC:      int64(n.GCThreshold.Seconds()),
		Repack:  int64(n.RepackThreshold.Seconds()),
		Rebuild: int64(n.RebuildThreshold.Seconds()),
	}
}

// Load reads and parses path, filling in worker-pool defaults for any
// zero-valued fields, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "config: reading "+path)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, marfserr.Wrap(marfserr.InvalidArgument, err, "config: parsing "+path)
	}
	c.WorkerPool = c.WorkerPool.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field invariants Load cannot catch field by
// field: every namespace must name a repository that exists, and the
// chosen DAL driver must be one this module actually implements.
func (c *Config) Validate() error {
	if _, err := marfslog.ParseLevel(orDefault(c.Global.LogLevel, "INFO")); err != nil {
		return marfserr.Wrap(marfserr.InvalidArgument, err, "config: global.log_level")
	}
	if c.Global.MetricsPort != 0 && c.Global.MetricsPort == c.Global.HealthPort {
		return marfserr.New(marfserr.InvalidArgument, "config: metrics_port and health_port must differ")
	}
	switch c.DAL.Driver {
	case "", "memory", "s3":
	default:
		return marfserr.Newf(marfserr.InvalidArgument, "config: unknown dal.driver %q", c.DAL.Driver)
	}
	if c.DAL.Driver == "s3" && (c.DAL.S3 == nil || c.DAL.S3.Bucket == "") {
		return marfserr.New(marfserr.InvalidArgument, "config: dal.s3.bucket is required when dal.driver is s3")
	}
	for ns, nc := range c.Namespaces {
		if nc.Repository == "" {
			return marfserr.Newf(marfserr.InvalidArgument, "config: namespace %q has no repository", ns)
		}
		if _, ok := c.Repositories[nc.Repository]; !ok {
			return marfserr.Newf(marfserr.InvalidArgument, "config: namespace %q references unknown repository %q", ns, nc.Repository)
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// MarshalForDebug renders the config back to YAML, mainly for -v
// startup logging.
func (c *Config) MarshalForDebug() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("config: marshal: %w", err)
	}
	return string(data), nil
}
