// Package config loads the querydemo configuration: a YAML file, then
// QUERYDEMO_* environment variables (optionally from .env files), then
// command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DB string `yaml:"db"`

	Cache struct {
		Provider  string `yaml:"provider"` // memory|ristretto|bigcache|redis
		Namespace string `yaml:"namespace"`
		Codec     string `yaml:"codec"`      // json|msgpack|cbor
		StaleTime string `yaml:"stale_time"` // "0" = always stale, "-1s" = never by age
		GCTime    string `yaml:"gc_time"`
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"cache"`

	Backend struct {
		Latency  string  `yaml:"latency"`
		FailRate float64 `yaml:"fail_rate"`
	} `yaml:"backend"`

	Log struct {
		Env   string `yaml:"env"` // dev|prod
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables /metrics
	} `yaml:"metrics"`
}

// Load reads path (skipped when empty), applies environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDotenv loads the given .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("QUERYDEMO_DB", &c.DB)
	str("QUERYDEMO_CACHE_PROVIDER", &c.Cache.Provider)
	str("QUERYDEMO_CACHE_NAMESPACE", &c.Cache.Namespace)
	str("QUERYDEMO_CACHE_CODEC", &c.Cache.Codec)
	str("QUERYDEMO_STALE_TIME", &c.Cache.StaleTime)
	str("QUERYDEMO_GC_TIME", &c.Cache.GCTime)
	str("QUERYDEMO_REDIS_ADDR", &c.Cache.RedisAddr)
	str("QUERYDEMO_LATENCY", &c.Backend.Latency)
	str("QUERYDEMO_LOG_ENV", &c.Log.Env)
	str("QUERYDEMO_LOG_LEVEL", &c.Log.Level)
	str("QUERYDEMO_METRICS_ADDR", &c.Metrics.Addr)

	if v := strings.TrimSpace(os.Getenv("QUERYDEMO_FAIL_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: QUERYDEMO_FAIL_RATE: %w", err)
		}
		c.Backend.FailRate = f
	}
	return nil
}

func (c *Config) defaults() {
	if c.DB == "" {
		c.DB = "querydemo.db"
	}
	if c.Cache.Provider == "" {
		c.Cache.Provider = "memory"
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "querydemo"
	}
	if c.Cache.Codec == "" {
		c.Cache.Codec = "json"
	}
	if c.Cache.StaleTime == "" {
		c.Cache.StaleTime = "30s"
	}
	if c.Cache.GCTime == "" {
		c.Cache.GCTime = "5m"
	}
	if c.Backend.Latency == "" {
		c.Backend.Latency = "200ms"
	}
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Provider {
	case "memory", "ristretto", "bigcache":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.provider %q", c.Cache.Provider))
	}
	switch c.Cache.Codec {
	case "json", "msgpack", "cbor":
	default:
		errs = append(errs, fmt.Errorf("unknown cache.codec %q", c.Cache.Codec))
	}
	for name, v := range map[string]string{
		"cache.stale_time": c.Cache.StaleTime,
		"cache.gc_time":    c.Cache.GCTime,
		"backend.latency":  c.Backend.Latency,
	} {
		if _, err := time.ParseDuration(v); err != nil && v != "0" {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Backend.FailRate < 0 || c.Backend.FailRate > 1 {
		errs = append(errs, fmt.Errorf("backend.fail_rate %v outside [0,1]", c.Backend.FailRate))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// StaleTime, GCTime and Latency are valid after Load.
func (c *Config) StaleTime() time.Duration { return mustDuration(c.Cache.StaleTime) }
func (c *Config) GCTime() time.Duration    { return mustDuration(c.Cache.GCTime) }
func (c *Config) Latency() time.Duration   { return mustDuration(c.Backend.Latency) }

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
