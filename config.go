package quotaguard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultSafetyBuffer     = 0.8
	DefaultMaxMessageLength = 2000
	DefaultKeyPrefix        = "quotaguard:"
)

// Config is the top-level configuration snapshot.
type Config struct {
	Priority         []BackendID     `yaml:"priority"`
	Backends         []BackendConfig `yaml:"backends"`
	SafetyBuffer     float64         `yaml:"safety_buffer"`
	MaxMessageLength int             `yaml:"max_message_length"`
	Search           SearchConfig    `yaml:"search"`
	Store            StoreConfig     `yaml:"store"`
}

// BackendConfig configures the limits of one backend.
type BackendConfig struct {
	ID     BackendID    `yaml:"id"`
	Limits StaticLimits `yaml:",inline"`
}

// SearchConfig configures the search quota gate.
type SearchConfig struct {
	MonthlyFreeQuota int64 `yaml:"monthly_free_quota"`
}

// StoreConfig selects the counter store implementation.
type StoreConfig struct {
	Driver    string `yaml:"driver"` // memory, redis, postgres, sqlite
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	DSN       string `yaml:"dsn"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quotaguard: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data, applies defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("quotaguard: parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.SafetyBuffer == 0 {
		c.SafetyBuffer = DefaultSafetyBuffer
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = DefaultKeyPrefix
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Priority) == 0 {
		return fmt.Errorf("%w: priority must list at least one backend", ErrInvalidConfig)
	}
	if c.SafetyBuffer <= 0 || c.SafetyBuffer >= 1 {
		return fmt.Errorf("%w: safety_buffer must be in (0, 1), got %v", ErrInvalidConfig, c.SafetyBuffer)
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("%w: max_message_length must be positive, got %d", ErrInvalidConfig, c.MaxMessageLength)
	}
	if c.Search.MonthlyFreeQuota < 0 {
		return fmt.Errorf("%w: search.monthly_free_quota must not be negative", ErrInvalidConfig)
	}

	ids := make(map[BackendID]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("%w: backends[%d]: id is required", ErrInvalidConfig, i)
		}
		if ids[b.ID] {
			return fmt.Errorf("%w: duplicate backend id %q", ErrInvalidConfig, b.ID)
		}
		ids[b.ID] = true

		for _, m := range Metrics() {
			if b.Limits.Of(m) <= 0 {
				return fmt.Errorf("%w: backends[%d] (%s): %s must be positive", ErrInvalidConfig, i, b.ID, m)
			}
		}
	}

	seen := make(map[BackendID]bool, len(c.Priority))
	for i, id := range c.Priority {
		if !ids[id] {
			return fmt.Errorf("%w: priority[%d]: backend %q has no limits configured", ErrInvalidConfig, i, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: priority[%d]: backend %q listed twice", ErrInvalidConfig, i, id)
		}
		seen[id] = true
	}

	switch c.Store.Driver {
	case "", "memory", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	return nil
}

// Limits returns the static limits of a backend.
func (c Config) Limits(id BackendID) (StaticLimits, bool) {
	for _, b := range c.Backends {
		if b.ID == id {
			return b.Limits, true
		}
	}
	return StaticLimits{}, false
}
