package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	in := t.TempDir()
	path := writeConfig(t, "input_dir: "+in+"\noutput_dir: /tmp/out\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if !cfg.ParallelProcessing {
		t.Error("ParallelProcessing = false, want true by default")
	}
	if cfg.Classifier != ClassifierLegacy {
		t.Errorf("Classifier = %q, want %q", cfg.Classifier, ClassifierLegacy)
	}
	if cfg.Engine.Strategy != "hi_res" {
		t.Errorf("Engine.Strategy = %q, want hi_res", cfg.Engine.Strategy)
	}
	if got := cfg.LedgerPath(); got != filepath.Join("/tmp/out", "error_log.json") {
		t.Errorf("LedgerPath() = %q", got)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	in := t.TempDir()
	body := `input_dir: ` + in + `
output_dir: out
num_workers: 2
batch_size: 5
retry_attempts: 4
retry_delay: 2s
parallel_processing: false
classifier: strict
lease:
  timeout: 30s
  redeliver: false
`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.RetryDelay)
	}
	if cfg.ParallelProcessing {
		t.Error("ParallelProcessing = true, want false")
	}
	if cfg.EffectiveWorkers() != 1 {
		t.Errorf("EffectiveWorkers() = %d, want 1 when parallel processing is off", cfg.EffectiveWorkers())
	}
	if cfg.Lease.Timeout != 30*time.Second || cfg.Lease.Redeliver {
		t.Errorf("Lease = %+v, want 30s without redelivery", cfg.Lease)
	}
	if cfg.Lease.MaxDeliveries != 3 {
		t.Errorf("Lease.MaxDeliveries = %d, want default 3", cfg.Lease.MaxDeliveries)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadConfig() error = nil, want error for missing file")
	}
}

func TestValidate(t *testing.T) {
	in := t.TempDir()
	file := filepath.Join(in, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing input", func(c *Config) { c.InputDir = "" }, true},
		{"missing output", func(c *Config) { c.OutputDir = "" }, true},
		{"input absent", func(c *Config) { c.InputDir = filepath.Join(in, "missing") }, true},
		{"input is file", func(c *Config) { c.InputDir = file }, true},
		{"bad classifier", func(c *Config) { c.Classifier = "fuzzy" }, true},
		{"bad duplicate policy", func(c *Config) { c.OnDuplicate = "suffix" }, true},
		{"bad dispatch", func(c *Config) { c.Dispatch = "push" }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero retries", func(c *Config) { c.RetryAttempts = 0 }, true},
		{"extension without dot", func(c *Config) { c.InputExtension = "pdf" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.InputDir = in
			cfg.OutputDir = t.TempDir()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWorker_IgnoresInputDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	if err := cfg.ValidateWorker(); err != nil {
		t.Errorf("ValidateWorker() error = %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil without input_dir")
	}
}

func TestClampWorkers(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		numCPU    int
		reserved  int
		parallel  bool
		want      int
	}{
		{"unset uses limit", 0, 8, 1, true, 7},
		{"within limit", 3, 8, 1, true, 3},
		{"above limit clamps", 16, 8, 2, true, 6},
		{"tiny host keeps one", 4, 1, 1, true, 1},
		{"sequential", 4, 8, 1, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampWorkers(tt.requested, tt.numCPU, tt.reserved, tt.parallel); got != tt.want {
				t.Errorf("clampWorkers() = %d, want %d", got, tt.want)
			}
		})
	}
}
