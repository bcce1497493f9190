package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"volatility-prover/consistency"
	"volatility-prover/fixed"
	"volatility-prover/infrastructure/logger"
	"volatility-prover/market"
	"volatility-prover/volatility"
)

// AppConfig holds the main runtime configuration. The file may be YAML or
// JSON; JSON documents are valid YAML.
type AppConfig struct {
	Env         string             `yaml:"env"`
	Circuit     CircuitConfig      `yaml:"circuit"`
	Consistency consistency.Policy `yaml:"consistency"`
	Backend     BackendConfig      `yaml:"backend"`
	Batch       BatchConfig        `yaml:"batch"`
	Log         logger.Config      `yaml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Server      ServerConfig       `yaml:"server"`
	Store       StoreConfig        `yaml:"store"`
	Watch       WatchConfig        `yaml:"watch"`
	Ingest      IngestConfig       `yaml:"ingest"`
}

// CircuitConfig 保存 setup 时固定的电路参数（样本数、精度、迭代次数、规模）。
type CircuitConfig struct {
	SampleCount int    `yaml:"sampleCount"`
	Scale       uint8  `yaml:"scale"`
	Iterations  int    `yaml:"iterations"`
	Degree      int    `yaml:"degree"`
	DeltaMode   string `yaml:"deltaMode"` // tick | logprice
}

type BackendConfig struct {
	Kind       string        `yaml:"kind"`
	KeyDir     string        `yaml:"keyDir"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type StoreConfig struct {
	DatabaseURL string        `yaml:"databaseURL"`
	RedisURL    string        `yaml:"redisURL"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
}

type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

type IngestConfig struct {
	ProviderURI string `yaml:"providerURI"`
	Pool        string `yaml:"pool"`
}

// Default returns the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Circuit: CircuitConfig{
			SampleCount: 8192,
			Scale:       24,
			Iterations:  fixed.DefaultIterations,
			Degree:      17,
			DeltaMode:   string(market.DeltaTick),
		},
		Consistency: consistency.Policy{Tolerance: consistency.DefaultTolerance},
		Backend: BackendConfig{
			Kind:       "local",
			KeyDir:     "keys",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: 500 * time.Millisecond,
		},
		Batch:   BatchConfig{Concurrency: 4},
		Log:     logger.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ""},
		Server:  ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Store:   StoreConfig{CacheTTL: 5 * time.Minute},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Load reads config from path over Default() and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides endpoints from env vars if present.
// An empty path starts from Default().
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("PROVIDER_URI"); v != "" {
		cfg.Ingest.ProviderURI = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	return cfg, Validate(cfg)
}

// Params returns the calculator parameters of the circuit section.
func (c CircuitConfig) Params() volatility.Params {
	return volatility.Params{Scale: fixed.Scale(c.Scale), Iterations: c.Iterations}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Circuit.SampleCount < 2 {
		return ErrInvalid(fmt.Sprintf("circuit.sampleCount must be >= 2, got %d", cfg.Circuit.SampleCount))
	}
	if err := cfg.Circuit.Params().Validate(); err != nil {
		return fmt.Errorf("circuit: %w", err)
	}
	if cfg.Circuit.Degree < 1 || cfg.Circuit.Degree > 30 {
		return ErrInvalid(fmt.Sprintf("circuit.degree must be within [1, 30], got %d", cfg.Circuit.Degree))
	}
	if _, err := market.ParseDeltaMode(cfg.Circuit.DeltaMode); err != nil {
		return fmt.Errorf("circuit.deltaMode: %w", err)
	}
	if cfg.Backend.Kind != "local" {
		return ErrInvalid(fmt.Sprintf("backend.kind %q is not supported", cfg.Backend.Kind))
	}
	if cfg.Backend.MaxRetries < 0 {
		return ErrInvalid("backend.maxRetries must be >= 0")
	}
	if cfg.Backend.Timeout < 0 || cfg.Backend.RetryDelay < 0 {
		return ErrInvalid("backend.timeout/retryDelay must be >= 0")
	}
	if cfg.Batch.Concurrency < 1 {
		return ErrInvalid("batch.concurrency must be >= 1")
	}
	return nil
}
