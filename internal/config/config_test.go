package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrain.CounterCap != 6 || cfg.Retrain.EscalationStreak != 5 || cfg.Retrain.OnCap != "reset" {
		t.Fatalf("unexpected retrain defaults: %+v", cfg.Retrain)
	}
	if cfg.Defaults.ProductionTime != 10000 || cfg.Defaults.A != 50 || cfg.Defaults.Target != 3.0 {
		t.Fatalf("unexpected defaults: %+v", cfg.Defaults)
	}
	if cfg.TrainLog.SampleCount != 2 || cfg.Memory.BucketPrecision != 2 {
		t.Fatalf("unexpected trainlog/memory defaults: %+v %+v", cfg.TrainLog, cfg.Memory)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
ensemble_dir: /data/ens
ensemble_num: 4
engine:
  addr: md-host:7000
  timeout: 2h
retrain:
  rule: at_most
  on_cap: abort
memory:
  bucket_precision: 3
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnsembleDir != "/data/ens" || cfg.EnsembleNum != 4 {
		t.Fatalf("top-level keys not applied: %+v", cfg)
	}
	if cfg.Engine.Addr != "md-host:7000" || cfg.Engine.Timeout != 2*time.Hour {
		t.Fatalf("engine not applied: %+v", cfg.Engine)
	}
	if cfg.Retrain.Rule != "at_most" || cfg.Retrain.OnCap != "abort" || cfg.Retrain.CounterCap != 6 {
		t.Fatalf("retrain merge wrong: %+v", cfg.Retrain)
	}
	if cfg.Memory.BucketPrecision != 3 || !cfg.Memory.InheritPrevious {
		t.Fatalf("memory merge wrong: %+v", cfg.Memory)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "ensemble_num: 4\n")
	t.Setenv("BRER_ENSEMBLE_NUM", "9")
	t.Setenv("BRER_RETRAIN_SAMPLE_THRESHOLD", "250")
	t.Setenv("BRER_MEMORY_RESET", "true")
	t.Setenv("BRER_NOT_A_KEY", "ignored")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnsembleNum != 9 {
		t.Fatalf("expected env ensemble_num 9, got %d", cfg.EnsembleNum)
	}
	if cfg.Retrain.SampleThreshold != 250 || !cfg.Memory.Reset {
		t.Fatalf("env not applied: %+v %+v", cfg.Retrain, cfg.Memory)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	t.Setenv("BRER_ENSEMBLE_NUM", "9")
	cfg, err := Load("", map[string]any{"ensemble_num": 2, "ensemble_dir": "/x"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnsembleNum != 2 || cfg.EnsembleDir != "/x" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"rule":    "retrain:\n  rule: sideways\n",
		"cap":     "retrain:\n  counter_cap: 0\n",
		"streak":  "retrain:\n  escalation_streak: 6\n",
		"shrunk":  "retrain:\n  counter_cap: 3\n",
		"tau":     "defaults:\n  tau: 0\n",
		"level":   "log:\n  level: loud\n",
		"column":  "trainlog:\n  alpha_column: -1\n",
		"no_addr": "engine:\n  addr: \"\"\n",
	}
	for name, content := range cases {
		if _, err := Load(writeYAML(t, content), nil); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if _, err := Load(writeYAML(t, "ensemble_num: [\n"), nil); err == nil {
		t.Error("expected YAML parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("retrain.sample_threshold"); got != "BRER_RETRAIN_SAMPLE_THRESHOLD" {
		t.Fatalf("unexpected env var %q", got)
	}
}

func TestDerived(t *testing.T) {
	cfg := Default()
	cfg.EnsembleDir = "/ens"
	cfg.Defaults.Tau = 25
	if g := cfg.GeneralParams(3); g.EnsembleNum != 3 || g.Tau != 25 || g.Phase != "training" {
		t.Fatalf("unexpected general params: %+v", g)
	}
	if got := cfg.LedgerPath(); got != filepath.Join("/ens", "brer.db") {
		t.Fatalf("unexpected ledger path %q", got)
	}
	cfg.Ledger.Path = ""
	if cfg.LedgerPath() != "" {
		t.Fatal("empty ledger path should stay empty")
	}
	if !strings.HasSuffix(cfg.Layout().StatePath(3), filepath.Join("mem_3", "state.json")) {
		t.Fatalf("unexpected layout: %s", cfg.Layout().StatePath(3))
	}
}
