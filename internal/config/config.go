// Package config provides configuration management for kiln.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultHTTPPort       = 37900
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = 200 * time.Millisecond
	DefaultBackoffCap     = 5 * time.Second
	DefaultStageTimeout   = 30 * time.Second
	DefaultWorkersPerType = 4
	DefaultMinInfoTokens  = 24
	DefaultCacheTTL       = 6 * time.Hour
	DefaultPromoteMargin  = 0.01
	DefaultReconcileEvery = 2 * time.Minute
	DefaultRetrainEvery   = 6 * time.Hour
)

// RetryPolicy bounds stage retries. One policy applies to every stage;
// there is no per-call-site tuning.
type RetryPolicy struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// Backoff returns the delay before the attempt-th retry (0-based),
// doubling from BackoffBase and capped at BackoffCap.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Config is the top-level kiln configuration.
type Config struct {
	HTTPPort int    `yaml:"http_port"`
	DataDir  string `yaml:"data_dir"`

	// Ledger connection. When PostgresDSN is empty the ledger falls back to
	// an embedded SQLite database under DataDir.
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
	MaxConns    int    `yaml:"max_conns"`

	// Graph store (FalkorDB) and cache (Redis) addresses.
	GraphAddr string        `yaml:"graph_addr"`
	GraphName string        `yaml:"graph_name"`
	RedisAddr string        `yaml:"redis_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// Vector store HTTP endpoint and collection.
	VectorBaseURL    string `yaml:"vector_base_url"`
	VectorCollection string `yaml:"vector_collection"`

	// Pipeline behaviour.
	Retry          RetryPolicy    `yaml:"retry"`
	StageTimeout   time.Duration  `yaml:"stage_timeout"`
	WorkersPerType map[string]int `yaml:"workers_per_type"`
	MinInfoTokens  int            `yaml:"min_info_tokens"`
	ReconcileEvery time.Duration  `yaml:"reconcile_every"`

	// Drop directory for file-based ingestion; empty disables the watcher.
	WatchDir string `yaml:"watch_dir"`

	// Quality scoring weights.
	Scoring ScoringWeights `yaml:"scoring"`

	// Prediction engine. RetrainEvery of zero disables scheduled retraining.
	PromoteMargin float64       `yaml:"promote_margin"`
	RetrainEvery  time.Duration `yaml:"retrain_every"`
}

// ScoringWeights holds the relative weights of the quality score signals.
type ScoringWeights struct {
	Structure float64 `yaml:"structure"`
	Entities  float64 `yaml:"entities"`
	Reuse     float64 `yaml:"reuse"`
	Recency   float64 `yaml:"recency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:         DefaultHTTPPort,
		DataDir:          defaultDataDir(),
		MaxConns:         4,
		GraphAddr:        "localhost:6379",
		GraphName:        "kiln",
		RedisAddr:        "localhost:6379",
		CacheTTL:         DefaultCacheTTL,
		VectorBaseURL:    "http://localhost:8000",
		VectorCollection: "kiln_patterns",
		Retry: RetryPolicy{
			MaxRetries:  DefaultMaxRetries,
			BackoffBase: DefaultBackoffBase,
			BackoffCap:  DefaultBackoffCap,
		},
		StageTimeout:   DefaultStageTimeout,
		WorkersPerType: map[string]int{},
		MinInfoTokens:  DefaultMinInfoTokens,
		ReconcileEvery: DefaultReconcileEvery,
		Scoring: ScoringWeights{
			Structure: 0.40,
			Entities:  0.25,
			Reuse:     0.25,
			Recency:   0.10,
		},
		PromoteMargin: DefaultPromoteMargin,
		RetrainEvery:  DefaultRetrainEvery,
	}
}

// Load reads the YAML config at path, filling gaps with defaults.
// A missing file is not an error; env overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KILN_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("KILN_GRAPH_ADDR"); v != "" {
		cfg.GraphAddr = v
	}
	if v := os.Getenv("KILN_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("KILN_VECTOR_URL"); v != "" {
		cfg.VectorBaseURL = v
	}
	if v := os.Getenv("KILN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

func (c *Config) normalize() {
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "kiln.db")
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.BackoffBase <= 0 {
		c.Retry.BackoffBase = DefaultBackoffBase
	}
	if c.Retry.BackoffCap <= 0 {
		c.Retry.BackoffCap = DefaultBackoffCap
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	if c.MinInfoTokens <= 0 {
		c.MinInfoTokens = DefaultMinInfoTokens
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = DefaultReconcileEvery
	}
	if c.PromoteMargin <= 0 {
		c.PromoteMargin = DefaultPromoteMargin
	}
}

// WorkersFor returns the pool size for a source type, falling back to the
// shared default so one noisy source cannot starve the others.
func (c *Config) WorkersFor(sourceType string) int {
	if n, ok := c.WorkersPerType[sourceType]; ok && n > 0 {
		return n
	}
	return DefaultWorkersPerType
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kiln"
	}
	return filepath.Join(home, ".kiln")
}
