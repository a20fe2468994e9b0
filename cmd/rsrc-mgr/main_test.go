package main

import "testing"

func TestParseThreadsEmptyLeavesDefaults(t *testing.T) {
	nProd, nCons, err := parseThreads("")
	if err != nil {
		t.Fatalf("parseThreads: %v", err)
	}
	if nProd != 0 || nCons != 0 {
		t.Fatalf("expected both zero for an empty override, got %d:%d", nProd, nCons)
	}
}

func TestParseThreadsParsesBothHalves(t *testing.T) {
	nProd, nCons, err := parseThreads("3:8")
	if err != nil {
		t.Fatalf("parseThreads: %v", err)
	}
	if nProd != 3 || nCons != 8 {
		t.Fatalf("expected 3:8, got %d:%d", nProd, nCons)
	}
}

func TestParseThreadsRejectsMissingColon(t *testing.T) {
	if _, _, err := parseThreads("4"); err == nil {
		t.Fatalf("expected an error for a spec with no colon")
	}
}

func TestParseThreadsRejectsNonNumeric(t *testing.T) {
	if _, _, err := parseThreads("x:2"); err == nil {
		t.Fatalf("expected an error for a non-numeric producer count")
	}
	if _, _, err := parseThreads("2:x"); err == nil {
		t.Fatalf("expected an error for a non-numeric consumer count")
	}
}

func TestNewRootCmdDefaultsConfigFromEnv(t *testing.T) {
	t.Setenv("MARFS_CONFIG_PATH", "/etc/marfs/rsrc-mgr.yaml")
	configPath = ""
	cmd := newRootCmd()
	got, err := cmd.Flags().GetString("config")
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "/etc/marfs/rsrc-mgr.yaml" {
		t.Fatalf("expected config flag to default from $MARFS_CONFIG_PATH, got %q", got)
	}
}
