// Package config loads the anchor configuration file.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file, and ANCHOR_* environment variables. Command-line flags are applied
// by the CLI on top of the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends.
const (
	LedgerLocal  = "local"
	LedgerKafka  = "kafka"
	StorageLocal = "local"
	StorageRedis = "redis"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANCHOR_"

// Config is the full anchor configuration.
type Config struct {
	Database string  `yaml:"database"`
	Ledger   Ledger  `yaml:"ledger"`
	Storage  Storage `yaml:"storage"`
	Mint     Mint    `yaml:"mint"`
	Sync     Sync    `yaml:"sync"`
	Metrics  Metrics `yaml:"metrics"`
}

// Ledger selects where topics and token operations live.
type Ledger struct {
	Backend     string   `yaml:"backend"`
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Operator    string   `yaml:"operator"` // account paying for messages
}

// Storage selects the content store for message documents.
type Storage struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}

// Mint tunes the token worker.
type Mint struct {
	BatchSize     int           `yaml:"batch_size"`
	Workers       int           `yaml:"workers"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Sync tunes multi-policy synchronization.
type Sync struct {
	Interval  time.Duration `yaml:"interval"`
	UserChunk int           `yaml:"user_chunk"`
}

// Metrics configures the ops endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: "anchor.db",
		Ledger: Ledger{
			Backend:     LedgerLocal,
			TopicPrefix: "anchor.",
			Operator:    "0.0.2",
		},
		Storage: Storage{Backend: StorageLocal},
		Mint: Mint{
			BatchSize:     10,
			Workers:       4,
			MaxRetries:    10,
			RetryInterval: 500 * time.Millisecond,
		},
		Sync: Sync{
			Interval:  24 * time.Hour,
			UserChunk: 10,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&c, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	switch c.Ledger.Backend {
	case LedgerLocal:
	case LedgerKafka:
		if len(c.Ledger.Brokers) == 0 {
			errs = append(errs, errors.New("ledger.brokers is required for the kafka backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend %q must be %s or %s", c.Ledger.Backend, LedgerLocal, LedgerKafka))
	}
	if c.Ledger.Operator == "" {
		errs = append(errs, errors.New("ledger.operator is required"))
	}
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be %s or %s", c.Storage.Backend, StorageLocal, StorageRedis))
	}
	if c.Mint.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("mint.batch_size must be positive, got %d", c.Mint.BatchSize))
	}
	if c.Mint.Workers <= 0 {
		errs = append(errs, fmt.Errorf("mint.workers must be positive, got %d", c.Mint.Workers))
	}
	if c.Mint.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("mint.max_retries must not be negative, got %d", c.Mint.MaxRetries))
	}
	if c.Mint.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("mint.retry_interval must be positive, got %s", c.Mint.RetryInterval))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.UserChunk <= 0 {
		errs = append(errs, fmt.Errorf("sync.user_chunk must be positive, got %d", c.Sync.UserChunk))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides c from ANCHOR_* variables.
func applyEnv(c *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.setString("DATABASE", &c.Database)
	e.setString("LEDGER_BACKEND", &c.Ledger.Backend)
	e.setList("LEDGER_BROKERS", &c.Ledger.Brokers)
	e.setString("LEDGER_TOPIC_PREFIX", &c.Ledger.TopicPrefix)
	e.setString("LEDGER_OPERATOR", &c.Ledger.Operator)
	e.setString("STORAGE_BACKEND", &c.Storage.Backend)
	e.setString("REDIS_URL", &c.Storage.RedisURL)
	e.setInt("MINT_BATCH_SIZE", &c.Mint.BatchSize)
	e.setInt("MINT_WORKERS", &c.Mint.Workers)
	e.setInt("MINT_MAX_RETRIES", &c.Mint.MaxRetries)
	e.setDuration("MINT_RETRY_INTERVAL", &c.Mint.RetryInterval)
	e.setDuration("SYNC_INTERVAL", &c.Sync.Interval)
	e.setInt("SYNC_USER_CHUNK", &c.Sync.UserChunk)
	e.setString("METRICS_ADDR", &c.Metrics.Addr)
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) setString(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) setList(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) setInt(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) setDuration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}
