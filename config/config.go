// Package config loads the daemon and CLI settings from a YAML file with
// BOUNTY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bountydotnew/querykit/auth"
)

type Config struct {
	Env      string         `yaml:"env"` // development, production, test
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	RPC      RPCConfig      `yaml:"rpc"`
	Auth     AuthConfig     `yaml:"auth"`
	List     ListConfig     `yaml:"list"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects the query cache storage.
type CacheConfig struct {
	Provider  string        `yaml:"provider"`  // ristretto, bigcache, lru, redis
	GenStore  string        `yaml:"genstore"`  // local, redis
	Namespace string        `yaml:"namespace"` // key namespace, e.g. "cli"
	TTL       time.Duration `yaml:"ttl"`
	Size      int           `yaml:"size"`     // lru entries
	MaxCost   int64         `yaml:"max_cost"` // ristretto admission budget
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Driver string `yaml:"driver"` // zap, logrus, slog
	Level  string `yaml:"level"`  // debug, info, warn, error
	JSON   bool   `yaml:"json"`
}

// RPCConfig is where the CLI finds the daemon.
type RPCConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig maps bearer tokens to sessions.
type AuthConfig struct {
	Tokens map[string]auth.Session `yaml:"tokens"`
}

type ListConfig struct {
	PageSize int `yaml:"page_size"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Env:      EnvDevelopment,
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{Path: "bounty.db"},
		Cache: CacheConfig{
			Provider:  "ristretto",
			GenStore:  "local",
			Namespace: "bounty",
			TTL:       10 * time.Minute,
			Size:      4096,
			MaxCost:   1e4,
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Log:     LogConfig{Driver: "zap", Level: "info"},
		RPC:     RPCConfig{URL: "http://localhost:8080", Timeout: 15 * time.Second},
		List:    ListConfig{PageSize: 10},
		Metrics: MetricsConfig{Namespace: "bounty"},
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error when optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && optional:
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Env, "BOUNTY_ENV")
	set(&c.HTTP.Addr, "BOUNTY_HTTP_ADDR")
	set(&c.Database.Path, "BOUNTY_DATABASE_PATH")
	set(&c.Redis.Addr, "BOUNTY_REDIS_ADDR")
	set(&c.Redis.Password, "BOUNTY_REDIS_PASSWORD")
	set(&c.Cache.Provider, "BOUNTY_CACHE_PROVIDER")
	set(&c.Log.Level, "BOUNTY_LOG_LEVEL")
	set(&c.RPC.URL, "BOUNTY_RPC_URL")
	set(&c.RPC.Token, "BOUNTY_RPC_TOKEN")
}

// fillDefaults restores defaults for fields a file set to their zero value.
func (c *Config) fillDefaults() {
	d := Default()
	c.Env = coalesce(c.Env, d.Env)
	c.HTTP.Addr = coalesce(c.HTTP.Addr, d.HTTP.Addr)
	c.HTTP.ShutdownTimeout = coalesce(c.HTTP.ShutdownTimeout, d.HTTP.ShutdownTimeout)
	c.Database.Path = coalesce(c.Database.Path, d.Database.Path)
	c.Cache.Provider = coalesce(c.Cache.Provider, d.Cache.Provider)
	c.Cache.GenStore = coalesce(c.Cache.GenStore, d.Cache.GenStore)
	c.Cache.Namespace = coalesce(c.Cache.Namespace, d.Cache.Namespace)
	c.Cache.TTL = coalesce(c.Cache.TTL, d.Cache.TTL)
	c.Cache.Size = coalesce(c.Cache.Size, d.Cache.Size)
	c.Cache.MaxCost = coalesce(c.Cache.MaxCost, d.Cache.MaxCost)
	c.Log.Driver = coalesce(c.Log.Driver, d.Log.Driver)
	c.Log.Level = coalesce(c.Log.Level, d.Log.Level)
	c.RPC.URL = coalesce(c.RPC.URL, d.RPC.URL)
	c.RPC.Timeout = coalesce(c.RPC.Timeout, d.RPC.Timeout)
	c.List.PageSize = coalesce(c.List.PageSize, d.List.PageSize)
	c.Metrics.Namespace = coalesce(c.Metrics.Namespace, d.Metrics.Namespace)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		bad("env %q: want development, production or test", c.Env)
	}
	switch c.Cache.Provider {
	case "ristretto", "bigcache", "lru", "redis":
	default:
		bad("cache.provider %q: want ristretto, bigcache, lru or redis", c.Cache.Provider)
	}
	switch c.Cache.GenStore {
	case "local", "redis":
	default:
		bad("cache.genstore %q: want local or redis", c.Cache.GenStore)
	}
	if (c.Cache.Provider == "redis" || c.Cache.GenStore == "redis") && c.Redis.Addr == "" {
		bad("redis.addr is required when redis is used")
	}
	switch c.Log.Driver {
	case "zap", "logrus", "slog":
	default:
		bad("log.driver %q: want zap, logrus or slog", c.Log.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	if c.List.PageSize <= 0 {
		bad("list.page_size must be positive")
	}
	if c.Cache.Size <= 0 || c.Cache.MaxCost <= 0 {
		bad("cache.size and cache.max_cost must be positive")
	}
	for tok, s := range c.Auth.Tokens {
		if tok == "" || s.UserID == "" {
			bad("auth.tokens: every token needs a non-empty token and userId")
			break
		}
	}
	return errors.Join(errs...)
}

// Resolver builds the session resolver for the configured tokens.
func (c *Config) Resolver() auth.StaticResolver {
	r := make(auth.StaticResolver, len(c.Auth.Tokens))
	for tok, s := range c.Auth.Tokens {
		if s.Role == "" {
			s.Role = auth.RoleUser
		}
		r[tok] = s
	}
	return r
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
