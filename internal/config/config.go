// Package config collects the service configuration from defaults, an
// optional YAML file and FILEGATE_-prefixed environment variables, in that
// order of precedence.
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

// Config defines the filegate service configuration.
type Config struct {
	Bind string `yaml:"bind"`

	Ceiling   int   `yaml:"ceiling"`
	ChunkSize int64 `yaml:"chunk_size"`
	CallSize  int64 `yaml:"call_size"`
	Prefetch  int   `yaml:"prefetch"`
	BufferCap int   `yaml:"buffer_cap"`

	Retry RetryConfig `yaml:"retry"`

	ReadTimeout    time.Duration `yaml:"read_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`

	Registry    string `yaml:"registry"`
	PostgresDSN string `yaml:"postgres_dsn"`
	ScanDepth   int    `yaml:"scan_depth"`
}

// RetryConfig defines per-read retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Bind:      ":8080",
		Ceiling:   100,
		ChunkSize: 4 << 20,
		CallSize:  1 << 20,
		Prefetch:  10,
		BufferCap: 50,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
		ReadTimeout:    30 * time.Second,
		DrainTimeout:   15 * time.Second,
		SessionTimeout: time.Hour,
		Registry:       "postgres",
		ScanDepth:      100,
	}
}

// yamlConfig mirrors Config with string fields for sizes and durations.
type yamlConfig struct {
	Bind           string          `yaml:"bind"`
	Ceiling        int             `yaml:"ceiling"`
	ChunkSize      string          `yaml:"chunk_size"`
	CallSize       string          `yaml:"call_size"`
	Prefetch       int             `yaml:"prefetch"`
	BufferCap      int             `yaml:"buffer_cap"`
	Retry          yamlRetryConfig `yaml:"retry"`
	ReadTimeout    string          `yaml:"read_timeout"`
	DrainTimeout   string          `yaml:"drain_timeout"`
	SessionTimeout string          `yaml:"session_timeout"`
	Registry       string          `yaml:"registry"`
	PostgresDSN    string          `yaml:"postgres_dsn"`
	ScanDepth      int             `yaml:"scan_depth"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Bind != "" {
		cfg.Bind = yc.Bind
	}
	if yc.Ceiling != 0 {
		cfg.Ceiling = yc.Ceiling
	}
	if yc.ChunkSize != "" {
		if cfg.ChunkSize, err = ParseBytes(yc.ChunkSize); err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
	}
	if yc.CallSize != "" {
		if cfg.CallSize, err = ParseBytes(yc.CallSize); err != nil {
			return Config{}, fmt.Errorf("parse call_size: %w", err)
		}
	}
	if yc.Prefetch != 0 {
		cfg.Prefetch = yc.Prefetch
	}
	if yc.BufferCap != 0 {
		cfg.BufferCap = yc.BufferCap
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		if cfg.Retry.Backoff, err = time.ParseDuration(yc.Retry.Backoff); err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
	}
	if yc.Retry.MaxBackoff != "" {
		if cfg.Retry.MaxBackoff, err = time.ParseDuration(yc.Retry.MaxBackoff); err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
	}
	if yc.ReadTimeout != "" {
		if cfg.ReadTimeout, err = time.ParseDuration(yc.ReadTimeout); err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
	}
	if yc.DrainTimeout != "" {
		if cfg.DrainTimeout, err = time.ParseDuration(yc.DrainTimeout); err != nil {
			return Config{}, fmt.Errorf("parse drain_timeout: %w", err)
		}
	}
	if yc.SessionTimeout != "" {
		if cfg.SessionTimeout, err = time.ParseDuration(yc.SessionTimeout); err != nil {
			return Config{}, fmt.Errorf("parse session_timeout: %w", err)
		}
	}
	if yc.Registry != "" {
		cfg.Registry = yc.Registry
	}
	if yc.PostgresDSN != "" {
		cfg.PostgresDSN = yc.PostgresDSN
	}
	if yc.ScanDepth != 0 {
		cfg.ScanDepth = yc.ScanDepth
	}
	return cfg, nil
}

// LoadFromEnv overrides configuration from FILEGATE_-prefixed environment
// variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("FILEGATE_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("FILEGATE_CEILING"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_CEILING: %w", err)
		}
		c.Ceiling = n
	}
	if v := os.Getenv("FILEGATE_CHUNK_SIZE"); v != "" {
		n, err := ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = n
	}
	if v := os.Getenv("FILEGATE_CALL_SIZE"); v != "" {
		n, err := ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_CALL_SIZE: %w", err)
		}
		c.CallSize = n
	}
	if v := os.Getenv("FILEGATE_PREFETCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_PREFETCH: %w", err)
		}
		c.Prefetch = n
	}
	if v := os.Getenv("FILEGATE_BUFFER_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_BUFFER_CAP: %w", err)
		}
		c.BufferCap = n
	}
	if v := os.Getenv("FILEGATE_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("FILEGATE_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("FILEGATE_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("FILEGATE_READ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_READ_TIMEOUT: %w", err)
		}
		c.ReadTimeout = d
	}
	if v := os.Getenv("FILEGATE_DRAIN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_DRAIN_TIMEOUT: %w", err)
		}
		c.DrainTimeout = d
	}
	if v := os.Getenv("FILEGATE_SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_SESSION_TIMEOUT: %w", err)
		}
		c.SessionTimeout = d
	}
	if v := os.Getenv("FILEGATE_REGISTRY"); v != "" {
		c.Registry = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("FILEGATE_SCAN_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FILEGATE_SCAN_DEPTH: %w", err)
		}
		c.ScanDepth = n
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return errors.New("config: bind address is required")
	}
	if c.Ceiling <= 0 {
		return errors.New("config: ceiling must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.CallSize <= 0 || c.CallSize > c.ChunkSize {
		return errors.New("config: call_size must be positive and at most chunk_size")
	}
	if c.Prefetch <= 0 {
		return errors.New("config: prefetch must be positive")
	}
	if c.BufferCap <= 0 {
		return errors.New("config: buffer_cap must be positive")
	}
	switch c.Registry {
	case "postgres", "scan":
	default:
		return fmt.Errorf("config: unknown registry kind %q", c.Registry)
	}
	if c.Registry == "postgres" && c.PostgresDSN == "" {
		return errors.New("config: postgres_dsn is required for the postgres registry")
	}
	return nil
}

// ParseBytes parses a byte size such as "4MiB", "512k" or "1048576".
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	mult := int64(1)
	switch {
	case strings.HasSuffix(upper, "KIB"), strings.HasSuffix(upper, "KB"):
		mult = 1 << 10
		upper = strings.TrimSuffix(strings.TrimSuffix(upper, "KIB"), "KB")
	case strings.HasSuffix(upper, "MIB"), strings.HasSuffix(upper, "MB"):
		mult = 1 << 20
		upper = strings.TrimSuffix(strings.TrimSuffix(upper, "MIB"), "MB")
	case strings.HasSuffix(upper, "GIB"), strings.HasSuffix(upper, "GB"):
		mult = 1 << 30
		upper = strings.TrimSuffix(strings.TrimSuffix(upper, "GIB"), "GB")
	case strings.HasSuffix(upper, "K"):
		mult = 1 << 10
		upper = strings.TrimSuffix(upper, "K")
	case strings.HasSuffix(upper, "M"):
		mult = 1 << 20
		upper = strings.TrimSuffix(upper, "M")
	case strings.HasSuffix(upper, "G"):
		mult = 1 << 30
		upper = strings.TrimSuffix(upper, "G")
	case strings.HasSuffix(upper, "B"):
		upper = strings.TrimSuffix(upper, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return n * mult, nil
}
