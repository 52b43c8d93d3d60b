// Package models defines data structures for configuration and engine output.
package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config.yaml"

	ClassifierLegacy = "legacy"
	ClassifierStrict = "strict"

	OnDuplicateFail      = "fail"
	OnDuplicateOverwrite = "overwrite"

	DispatchLocal       = "local"
	DispatchDistributed = "distributed"
)

// EngineConfig describes how to reach the partitioning engine.
type EngineConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Strategy     string        `yaml:"strategy"`
	OCRLanguages []string      `yaml:"ocr_languages"`
	Timeout      time.Duration `yaml:"timeout"`
	// CacheDir enables the engine response cache. CacheTTL zero never expires.
	CacheDir string        `yaml:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NATSConfig holds the distributed transport settings.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Subject       string `yaml:"subject"`
	ResultSubject string `yaml:"result_subject"`
	Embedded      bool   `yaml:"embedded"`
	Listen        string `yaml:"listen"`
}

// LeaseConfig controls redelivery of work handed to remote workers.
type LeaseConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	Redeliver     bool          `yaml:"redeliver"`
	MaxDeliveries int           `yaml:"max_deliveries"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

// Config is the run configuration, loaded once at startup.
type Config struct {
	InputDir           string        `yaml:"input_dir"`
	OutputDir          string        `yaml:"output_dir"`
	InputExtension     string        `yaml:"input_extension"`
	Classifier         string        `yaml:"classifier"`
	OnDuplicate        string        `yaml:"on_duplicate"`
	NumWorkers         int           `yaml:"num_workers"`
	ReservedCPUs       int           `yaml:"reserved_cpus"`
	BatchSize          int           `yaml:"batch_size"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	ParallelProcessing bool          `yaml:"parallel_processing"`
	Dispatch           string        `yaml:"dispatch"`
	SkipDirs           []string      `yaml:"skip_dirs"`
	Preflight          bool          `yaml:"preflight"`
	DetectLanguages    bool          `yaml:"detect_languages"`
	Engine             EngineConfig  `yaml:"engine"`
	NATS               NATSConfig    `yaml:"nats"`
	Lease              LeaseConfig   `yaml:"lease"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	HistoryDB          string        `yaml:"history_db"`
}

// DefaultConfig returns a Config with every optional key filled in.
func DefaultConfig() *Config {
	return &Config{
		InputExtension:     ".pdf",
		Classifier:         ClassifierLegacy,
		OnDuplicate:        OnDuplicateFail,
		ReservedCPUs:       1,
		BatchSize:          10,
		RetryAttempts:      3,
		ParallelProcessing: true,
		Dispatch:           DispatchLocal,
		SkipDirs:           []string{"Split_PDFs"},
		Preflight:          true,
		Engine: EngineConfig{
			URL:          "http://localhost:8000",
			Strategy:     "hi_res",
			OCRLanguages: []string{"eng"},
			Timeout:      10 * time.Minute,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Subject:       "pbp.work",
			ResultSubject: "pbp.result",
			Listen:        "0.0.0.0:4222",
		},
		Lease: LeaseConfig{
			Timeout:       15 * time.Minute,
			Redeliver:     true,
			MaxDeliveries: 3,
			IdleTimeout:   time.Hour,
		},
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.Engine.APIKey == "" {
		cfg.Engine.APIKey = os.Getenv("UNSTRUCTURED_API_KEY")
	}
	if v := os.Getenv("PBP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	return cfg, nil
}

// Validate reports the first configuration problem that must abort a run.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return errors.New("config: input_dir is required")
	}
	info, err := os.Stat(c.InputDir)
	if err != nil {
		return fmt.Errorf("config: input_dir %s: %w", c.InputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: input_dir %s is not a directory", c.InputDir)
	}
	return c.ValidateWorker()
}

// ValidateWorker is Validate without the input directory checks. Remote
// workers receive absolute paths and never walk the input tree.
func (c *Config) ValidateWorker() error {
	if c.OutputDir == "" {
		return errors.New("config: output_dir is required")
	}

	switch c.Classifier {
	case ClassifierLegacy, ClassifierStrict:
	default:
		return fmt.Errorf("config: unknown classifier %q (use %s or %s)", c.Classifier, ClassifierLegacy, ClassifierStrict)
	}
	switch c.OnDuplicate {
	case OnDuplicateFail, OnDuplicateOverwrite:
	default:
		return fmt.Errorf("config: unknown on_duplicate %q (use %s or %s)", c.OnDuplicate, OnDuplicateFail, OnDuplicateOverwrite)
	}
	switch c.Dispatch {
	case DispatchLocal, DispatchDistributed:
	default:
		return fmt.Errorf("config: unknown dispatch %q (use %s or %s)", c.Dispatch, DispatchLocal, DispatchDistributed)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("config: retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.ReservedCPUs < 0 {
		return fmt.Errorf("config: reserved_cpus must not be negative, got %d", c.ReservedCPUs)
	}
	if !strings.HasPrefix(c.InputExtension, ".") {
		c.InputExtension = "." + c.InputExtension
	}
	return nil
}

// EffectiveWorkers clamps the configured worker count to the host's
// parallelism minus the reserved margin, never below one.
func (c *Config) EffectiveWorkers() int {
	return clampWorkers(c.NumWorkers, runtime.NumCPU(), c.ReservedCPUs, c.ParallelProcessing)
}

func clampWorkers(requested, numCPU, reserved int, parallel bool) int {
	if !parallel {
		return 1
	}
	limit := numCPU - reserved
	if limit < 1 {
		limit = 1
	}
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// LedgerPath is the error ledger file in the output root.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.OutputDir, "error_log.json")
}

// ReportPath is the plain-text run summary in the output root.
func (c *Config) ReportPath() string {
	return filepath.Join(c.OutputDir, "summary_report.txt")
}

// LogPath is the run log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.OutputDir, "logs", "pdf_processing.log")
}

// HistoryPath is the sqlite run history database.
func (c *Config) HistoryPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(c.OutputDir, "pbp-history.db")
}
