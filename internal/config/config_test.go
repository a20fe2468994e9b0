package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
global:
  log_level: DEBUG
  metrics_port: 9100
  health_port: 9101
worker_pool:
  n_prod: 3
  n_cons: 6
  n_ranks: 4
dal:
  driver: memory
repositories:
  repo1:
    obj_size: 1073741824
    obj_files: 4096
    erasure:
      n: 10
      e: 2
      o: 0
      part_size: 65536
    ref_tree:
      breadth: 100
      depth: 3
      digits: 3
namespaces:
  ns1:
    metadata_path: /marfs/md/ns1
    repository: repo1
    gc_threshold: 12h
    repack_threshold: 24h
    rebuild_threshold: 0s
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "marfs.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesRepositoriesAndNamespaces(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	repo, ok := cfg.Repositories["repo1"]
	if !ok {
		t.Fatalf("expected repo1 to be parsed")
	}
	if repo.ObjSize != 1073741824 || repo.Erasure.N != 10 {
		t.Fatalf("unexpected repository fields: %+v", repo)
	}

	ns, ok := cfg.Namespaces["ns1"]
	if !ok {
		t.Fatalf("expected ns1 to be parsed")
	}
	if ns.GCThreshold != 12*time.Hour {
		t.Fatalf("expected gc_threshold 12h, got %v", ns.GCThreshold)
	}

	th := ns.ToThresholds()
	if th.GC != int64((12 * time.Hour).Seconds()) {
		t.Fatalf("expected GC threshold in seconds, got %d", th.GC)
	}
	if th.Rebuild != 0 {
		t.Fatalf("expected rebuild threshold 0 (disabled), got %d", th.Rebuild)
	}
}

func TestLoadFillsWorkerPoolDefaultsWhenZero(t *testing.T) {
	path := writeTemp(t, `
dal:
  driver: memory
repositories:
  repo1:
    obj_size: 1
namespaces:
  ns1:
    repository: repo1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerPool.NProd == 0 || cfg.WorkerPool.NCons == 0 || cfg.WorkerPool.NRanks == 0 {
		t.Fatalf("expected worker pool defaults to be filled in, got %+v", cfg.WorkerPool)
	}
}

func TestValidateRejectsNamespaceWithUnknownRepository(t *testing.T) {
	path := writeTemp(t, `
dal:
  driver: memory
namespaces:
  ns1:
    repository: does-not-exist
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a namespace referencing an unknown repository")
	}
}

func TestValidateRejectsSamePortForMetricsAndHealth(t *testing.T) {
	path := writeTemp(t, `
global:
  metrics_port: 9100
  health_port: 9100
dal:
  driver: memory
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject identical metrics_port/health_port")
	}
}

func TestValidateRejectsS3DriverWithoutBucket(t *testing.T) {
	path := writeTemp(t, `
dal:
  driver: s3
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject dal.driver=s3 with no bucket configured")
	}
}

func TestRepositoryConfigToRepoConfig(t *testing.T) {
	rc := RepositoryConfig{ObjSize: 100, ObjFiles: 8}
	rc.Erasure.N = 4
	rc.RefTree.Depth = 2

	repoCfg := rc.ToRepoConfig()
	if repoCfg.ObjSize != 100 || repoCfg.Erasure.N != 4 || repoCfg.RefTree.Depth != 2 {
		t.Fatalf("unexpected conversion: %+v", repoCfg)
	}
}
