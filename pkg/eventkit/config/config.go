// Package config loads eventkit configuration from YAML or JSON files.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML/JSON decoding from strings
// like "5m" or "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level eventkit configuration.
type Config struct {
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Bus     BusConfig     `yaml:"bus" json:"bus"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
	Suspend SuspendConfig `yaml:"suspend" json:"suspend"`
}

// CacheConfig configures the event cache.
type CacheConfig struct {
	// Mode is one of "memory", "storage_only", "write_through".
	Mode string `yaml:"mode" json:"mode"`

	// MaxSize bounds the in-memory entry count.
	MaxSize int `yaml:"max_size" json:"max_size"`

	// TTL is the entry time-to-live.
	TTL Duration `yaml:"ttl" json:"ttl"`

	// FallbackToStore enables read-through on memory misses.
	FallbackToStore bool `yaml:"fallback_to_store" json:"fallback_to_store"`
}

// BusConfig configures the event bus transport.
type BusConfig struct {
	// BufferSize is the per-subscription channel buffer.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// NonBlocking drops events instead of blocking when a
	// subscriber's buffer is full.
	NonBlocking bool `yaml:"non_blocking" json:"non_blocking"`
}

// RedisConfig configures the Redis-backed store and transport.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// KeyPrefix namespaces storage keys and pub/sub channels.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// Retention is the per-event storage TTL.
	Retention Duration `yaml:"retention" json:"retention"`
}

// SuspendConfig configures the suspension manager.
type SuspendConfig struct {
	// Timeout is the default per-suspension timeout.
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Mode:    "memory",
			MaxSize: 1000,
			TTL:     Duration(5 * time.Minute),
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "events:",
			Retention: Duration(24 * time.Hour),
		},
		Suspend: SuspendConfig{
			Timeout: Duration(30 * time.Second),
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Cache.Mode {
	case "memory", "storage_only", "write_through":
	default:
		return fmt.Errorf("invalid cache mode %q", c.Cache.Mode)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("bus buffer_size must be positive, got %d", c.Bus.BufferSize)
	}
	if c.Suspend.Timeout <= 0 {
		return fmt.Errorf("suspend timeout must be positive")
	}
	return nil
}
