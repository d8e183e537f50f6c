// Package config loads runtime configuration and the static realm registry.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultCallTimeout         = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultRetryDelay          = 1 * time.Second
	DefaultRateLimitRPS        = 10.0
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultReceiptTimeout      = 5 * time.Minute
	DefaultTickInterval        = 30 * time.Second
	DefaultClaimsEvery         = 10
	DefaultHeadsEvery          = 5
	DefaultServerAddr          = ":8080"
	DefaultProofCacheSize      = 64
	DefaultRealmsFile          = "realms.yaml"
	DefaultMetricsNamespace    = "realm_ledger"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Tick triggers.
const (
	TriggerTicker = "ticker"
	TriggerHeads  = "heads"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the runtime configuration of the tick runner and the server.
type Config struct {
	Chain            ChainConfig   `yaml:"chain"`
	Storage          StorageConfig `yaml:"storage"`
	Tick             TickConfig    `yaml:"tick"`
	Server           ServerConfig  `yaml:"server"`
	Log              LogConfig     `yaml:"log"`
	RealmsFile       string        `yaml:"realms_file"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
}

// ChainConfig configures RPC access and the signing account.
type ChainConfig struct {
	RPCURL              string   `yaml:"rpc_url"`
	WSURL               string   `yaml:"ws_url"`
	PrivateKey          string   `yaml:"private_key"`
	PrivateKeyFile      string   `yaml:"private_key_file"`
	ChainID             int64    `yaml:"chain_id"`
	CallTimeout         Duration `yaml:"call_timeout"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryDelay          Duration `yaml:"retry_delay"`
	RateLimitRPS        float64  `yaml:"rate_limit_rps"`
	ReceiptPollInterval Duration `yaml:"receipt_poll_interval"`
	ReceiptTimeout      Duration `yaml:"receipt_timeout"`
	UseCheckpoints      bool     `yaml:"use_checkpoints"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // optional history archive
}

// TickConfig controls the compute/publish cadence.
type TickConfig struct {
	Interval    Duration `yaml:"interval"`
	ClaimsEvery int      `yaml:"claims_every"` // claims + pushes run when step % ClaimsEvery == 0
	Trigger     string   `yaml:"trigger"`
	HeadsEvery  int      `yaml:"heads_every"` // with the heads trigger: one tick per N new blocks
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	ProofCacheSize int    `yaml:"proof_cache_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns a configuration with defaults applied and no file loaded.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and expands environment variables.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand ${VAR} environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.resolvePrivateKey(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv lets the conventional environment variables override the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		c.Chain.WSURL = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		c.Chain.PrivateKey = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("REALMS_FILE"); v != "" {
		c.RealmsFile = v
	}
}

func (c *Config) applyDefaults() {
	if c.Chain.CallTimeout.Duration == 0 {
		c.Chain.CallTimeout.Duration = DefaultCallTimeout
	}
	if c.Chain.MaxRetries == 0 {
		c.Chain.MaxRetries = DefaultMaxRetries
	}
	if c.Chain.RetryDelay.Duration == 0 {
		c.Chain.RetryDelay.Duration = DefaultRetryDelay
	}
	if c.Chain.RateLimitRPS == 0 {
		c.Chain.RateLimitRPS = DefaultRateLimitRPS
	}
	if c.Chain.ReceiptPollInterval.Duration == 0 {
		c.Chain.ReceiptPollInterval.Duration = DefaultReceiptPollInterval
	}
	if c.Chain.ReceiptTimeout.Duration == 0 {
		c.Chain.ReceiptTimeout.Duration = DefaultReceiptTimeout
	}
	if c.Storage.Backend == "" {
		if c.Storage.PostgresDSN != "" {
			c.Storage.Backend = BackendPostgres
		} else {
			c.Storage.Backend = BackendMemory
		}
	}
	if c.Tick.Interval.Duration == 0 {
		c.Tick.Interval.Duration = DefaultTickInterval
	}
	if c.Tick.ClaimsEvery == 0 {
		c.Tick.ClaimsEvery = DefaultClaimsEvery
	}
	if c.Tick.Trigger == "" {
		c.Tick.Trigger = TriggerTicker
	}
	if c.Tick.HeadsEvery == 0 {
		c.Tick.HeadsEvery = DefaultHeadsEvery
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ProofCacheSize == 0 {
		c.Server.ProofCacheSize = DefaultProofCacheSize
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.RealmsFile == "" {
		c.RealmsFile = DefaultRealmsFile
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = DefaultMetricsNamespace
	}
}

// resolvePrivateKey reads the signing key from file when not given inline.
func (c *Config) resolvePrivateKey() error {
	c.Chain.PrivateKey = strings.TrimSpace(c.Chain.PrivateKey)
	path := strings.TrimSpace(c.Chain.PrivateKeyFile)
	if c.Chain.PrivateKey != "" || path == "" {
		return nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read private_key_file: %w", err)
	}
	c.Chain.PrivateKey = strings.TrimSpace(string(contents))
	return nil
}

// Validate checks that the configuration is internally consistent.
// Credentials are not required here; publishing checks them separately.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Tick.Trigger {
	case TriggerTicker:
	case TriggerHeads:
		if c.Chain.WSURL == "" {
			return fmt.Errorf("chain.ws_url is required for the heads trigger")
		}
	default:
		return fmt.Errorf("unknown tick trigger %q", c.Tick.Trigger)
	}
	if c.Tick.ClaimsEvery < 1 {
		return fmt.Errorf("tick.claims_every must be >= 1")
	}
	if c.Tick.HeadsEvery < 1 {
		return fmt.Errorf("tick.heads_every must be >= 1")
	}
	if c.Chain.MaxRetries < 0 {
		return fmt.Errorf("chain.max_retries must be >= 0")
	}
	if c.Chain.RateLimitRPS < 0 {
		return fmt.Errorf("chain.rate_limit_rps must be >= 0")
	}
	return nil
}

// MissingCredentials lists the publishing inputs that are not set.
func (c *ChainConfig) MissingCredentials() []string {
	var missing []string
	if strings.TrimSpace(c.RPCURL) == "" {
		missing = append(missing, "RPC_URL")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		missing = append(missing, "PRIVATE_KEY")
	}
	return missing
}
