// Package config holds billsim configuration, loaded from a YAML file
// with environment-variable overrides. A .env file in the working
// directory is honored before the environment is read.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors so the CLI can exit with a
// distinct status code.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all billsim configuration.
type Config struct {
	// Paths configures the bill XML source tree.
	Paths PathsConfig `yaml:"paths"`

	// Search configures the external full-text engine.
	Search SearchConfig `yaml:"search"`

	// Database configures the relational store.
	Database DatabaseConfig `yaml:"database"`

	// Comparator configures the external pairwise comparator.
	Comparator ComparatorConfig `yaml:"comparator"`

	// Pipeline configures the comparison run.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PathsConfig configures the on-disk bill layout.
type PathsConfig struct {
	// DataRoot is the root of the congress data directory.
	DataRoot string `yaml:"data_root"`

	// Layout selects the directory layout: "flat" or "nested".
	Layout string `yaml:"layout"`
}

// SearchConfig configures the search-engine client.
type SearchConfig struct {
	BaseURL   string `yaml:"base_url"`
	Index     string `yaml:"index"`      // nested section index
	IndexFull string `yaml:"index_full"` // full-bill index
	Timeout   string `yaml:"timeout"`

	// MaxConns bounds concurrent requests to the engine.
	MaxConns int `yaml:"max_conns"`

	// ScoreMode is the nested score mode: avg, max or sum.
	ScoreMode string `yaml:"score_mode"`

	// MinScore overrides the length-adaptive score floor when positive.
	MinScore int `yaml:"min_score"`

	// MaxBillsSection bounds results per section query.
	MaxBillsSection int `yaml:"max_bills_section"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ComparatorConfig configures the comparematrix subprocess.
type ComparatorConfig struct {
	Binary  string `yaml:"binary"`
	Timeout string `yaml:"timeout"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	// Workers bounds the comparison worker pool. Zero means the lesser
	// of the CPU count and the search connection bound.
	Workers int `yaml:"workers"`

	// TopK bounds how many similar bills are fed to the comparator.
	TopK int `yaml:"top_k"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataRoot: "/usr/local/share/xcongress/data",
			Layout:   "flat",
		},
		Search: SearchConfig{
			BaseURL:         "http://localhost:9200",
			Index:           "billsim",
			IndexFull:       "bill_full",
			Timeout:         "30s",
			MaxConns:        5,
			ScoreMode:       "max",
			MinScore:        0,
			MaxBillsSection: 100,
		},
		Database: DatabaseConfig{
			Path: "data/billsim.db",
		},
		Comparator: ComparatorConfig{
			Binary:  "comparematrix",
			Timeout: "60s",
		},
		Pipeline: PipelineConfig{
			Workers: 0,
			TopK:    20,
		},
	}
}

// Load loads configuration from a YAML file and applies .env and
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: failed to read config: %v", ErrInvalid, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalid, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PATH_TO_CONGRESSDATA_DIR"); v != "" {
		c.Paths.DataRoot = v
	}
	if v := os.Getenv("BILLSIM_PATH_LAYOUT"); v != "" {
		c.Paths.Layout = v
	}
	if v := os.Getenv("BILLSIM_ES_URL"); v != "" {
		c.Search.BaseURL = v
	}
	if v := os.Getenv("BILLSIM_INDEX_SECTIONS"); v != "" {
		c.Search.Index = v
	}
	if v := os.Getenv("BILLSIM_INDEX_BILL_FULL"); v != "" {
		c.Search.IndexFull = v
	}
	if v := os.Getenv("BILLSIM_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("COMPAREMATRIX_CMD"); v != "" {
		c.Comparator.Binary = v
	}
}

// GetSearchTimeout returns the search client timeout as a duration.
func (c *Config) GetSearchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetComparatorTimeout returns the comparator wall-clock timeout.
func (c *Config) GetComparatorTimeout() time.Duration {
	d, err := time.ParseDuration(c.Comparator.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetWorkers returns the worker pool size. Unset, it is the lesser of
// the CPU count and the search connection bound, so workers never
// queue behind the client semaphore.
func (c *Config) GetWorkers() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	n := runtime.NumCPU()
	if c.Search.MaxConns > 0 && c.Search.MaxConns < n {
		n = c.Search.MaxConns
	}
	return n
}

// ValidLayouts lists the supported path layouts.
var ValidLayouts = []string{"flat", "nested"}

// ValidScoreModes lists the supported nested score modes.
var ValidScoreModes = []string{"avg", "max", "sum"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLayout := false
	for _, l := range ValidLayouts {
		if c.Paths.Layout == l {
			validLayout = true
			break
		}
	}
	if !validLayout {
		return fmt.Errorf("%w: invalid path layout: %s (valid: %v)", ErrInvalid, c.Paths.Layout, ValidLayouts)
	}

	validMode := false
	for _, m := range ValidScoreModes {
		if c.Search.ScoreMode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("%w: invalid score mode: %s (valid: %v)", ErrInvalid, c.Search.ScoreMode, ValidScoreModes)
	}

	if c.Search.BaseURL == "" {
		return fmt.Errorf("%w: search base URL not configured", ErrInvalid)
	}
	if c.Search.MaxBillsSection <= 0 {
		return fmt.Errorf("%w: max_bills_section must be positive", ErrInvalid)
	}
	return nil
}
