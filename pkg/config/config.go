package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the proxy listen port when neither config nor the
// PORT environment variable say otherwise.
const DefaultPort = 8192

// DefaultUserAgent is sent on upstream fetches. Challenge gates serve
// different content to clients that do not look like browsers.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Config holds all gatelift configuration.
type Config struct {
	Port     int            `yaml:"port"`
	DBPath   string         `yaml:"db_path"`
	LogLevel string         `yaml:"log_level"`
	Cache    CacheConfig    `yaml:"cache"`
	Solver   SolverConfig   `yaml:"solver"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

// CacheConfig controls the per-host token cache.
type CacheConfig struct {
	// Persist writes tokens through to SQLite so they survive
	// restarts.
	Persist bool `yaml:"persist"`
	// TTL is the validity window for tokens without a declared
	// cookie expiry.
	TTL time.Duration `yaml:"ttl"`
	// PurgeInterval is how often expired entries are swept. Zero
	// disables the sweep; expiry is still enforced lazily on read.
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// SolverConfig controls the proof-of-work search.
type SolverConfig struct {
	// Workers is the nonce search fan-out. 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// MaxAttempts bounds the nonce search. 0 means the timeout is
	// the only ceiling.
	MaxAttempts uint64 `yaml:"max_attempts"`
	// Timeout aborts a solve that runs too long.
	Timeout time.Duration `yaml:"timeout"`
}

// UpstreamConfig controls outbound fetches to origin hosts.
type UpstreamConfig struct {
	// Scheme for origin requests. https in production; http is
	// useful against local test origins.
	Scheme    string        `yaml:"scheme"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	// HostRPS rate-limits requests per origin host. 0 = unlimited.
	HostRPS float64 `yaml:"host_rps"`
	Burst   int     `yaml:"burst"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		DBPath:   "gatelift.db",
		LogLevel: "info",
		Cache: CacheConfig{
			Persist:       true,
			TTL:           30 * time.Minute,
			PurgeInterval: 5 * time.Minute,
		},
		Solver: SolverConfig{
			Timeout: 60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Scheme:    "https",
			Timeout:   30 * time.Second,
			UserAgent: DefaultUserAgent,
			Burst:     5,
		},
	}
}

// Load reads a YAML config file, expands environment variables, and
// applies the PORT override. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file: run on defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}

	if cfg.Upstream.Scheme != "http" && cfg.Upstream.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream scheme %q", cfg.Upstream.Scheme)
	}
	return cfg, nil
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
