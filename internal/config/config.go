// Package config loads inatq configuration from defaults, an optional config
// file, INAT_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/client"
	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/logging"
	"github.com/Sternrassler/inat-client/pkg/pagination"
	"github.com/Sternrassler/inat-client/pkg/ratelimit"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. INAT_TOKEN or
// INAT_CACHE_BACKEND.
const EnvPrefix = "INAT"

// Cache backends.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config is the complete inatq configuration.
type Config struct {
	BaseURL   string        `mapstructure:"base-url"`
	Token     string        `mapstructure:"token"`
	UserAgent string        `mapstructure:"user-agent"`
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`

	MaxResults int `mapstructure:"max-results"`
	MaxPages   int `mapstructure:"max-pages"`
	PerPage    int `mapstructure:"per-page"`

	Cache  CacheConfig `mapstructure:"cache"`
	Redis  RedisConfig `mapstructure:"redis"`
	Log    LogConfig   `mapstructure:"log"`
	Listen string      `mapstructure:"listen"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	// Backend is "badger" or "redis"
	Backend string `mapstructure:"backend"`

	// Path is the badger directory. Empty keeps the cache in memory.
	Path string `mapstructure:"path"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"base-url":      "base-url",
	"token":         "token",
	"user-agent":    "user-agent",
	"interval":      "interval",
	"timeout":       "timeout",
	"max-results":   "max-results",
	"max-pages":     "max-pages",
	"per-page":      "per-page",
	"cache-backend": "cache.backend",
	"cache-path":    "cache.path",
	"redis-addr":    "redis.addr",
	"redis-db":      "redis.db",
	"log-level":     "log.level",
	"log-pretty":    "log.pretty",
	"listen":        "listen",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base-url", inat.DefaultBaseURL)
	v.SetDefault("token", "")
	v.SetDefault("user-agent", "inatq/1.0")
	v.SetDefault("interval", ratelimit.DefaultInterval)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("max-results", 10000)
	v.SetDefault("max-pages", 50)
	v.SetDefault("per-page", 0)
	v.SetDefault("cache.backend", BackendBadger)
	v.SetDefault("cache.path", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)
	v.SetDefault("listen", ":8080")
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("base-url", inat.DefaultBaseURL, "iNaturalist API root")
	fs.String("token", "", "default bearer token")
	fs.String("user-agent", "inatq/1.0", "User-Agent header sent upstream")
	fs.Duration("interval", ratelimit.DefaultInterval, "minimum spacing between upstream calls")
	fs.Duration("timeout", 30*time.Second, "timeout of a single upstream call")
	fs.Int("max-results", 10000, "largest collection a retrieval accepts")
	fs.Int("max-pages", 50, "largest page count a retrieval accepts")
	fs.Int("per-page", 0, "per_page for queries that do not set one (0 = upstream default)")
	fs.String("cache-backend", BackendBadger, "cache backend (badger|redis)")
	fs.String("cache-path", "", "badger cache directory (empty = in memory)")
	fs.String("redis-addr", "localhost:6379", "redis address for the redis backend")
	fs.Int("redis-db", 0, "redis database for the redis backend")
	fs.String("log-level", string(logging.LevelInfo), "log level (debug|info|warn|error|disabled)")
	fs.Bool("log-pretty", false, "human-readable console logs")
	fs.String("listen", ":8080", "listen address for serve")
}

// Load reads the configuration. file may be empty; fs may be nil.
func Load(fs *pflag.FlagSet, file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base-url %q", c.BaseURL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0 (got %s)", c.Interval)
	}
	if c.MaxResults <= 0 || c.MaxPages <= 0 {
		return fmt.Errorf("max-results and max-pages must be > 0")
	}
	if c.PerPage < 0 {
		return fmt.Errorf("per-page must be >= 0 (got %d)", c.PerPage)
	}
	switch c.Cache.Backend {
	case BackendBadger:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q (want %s or %s)", c.Cache.Backend, BackendBadger, BackendRedis)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ClientConfig returns the client configuration backed by store.
func (c *Config) ClientConfig(store cache.Store) client.Config {
	cfg := client.DefaultConfig(store, c.UserAgent)
	cfg.BaseURL = c.BaseURL
	cfg.Token = c.Token
	cfg.Interval = c.Interval
	cfg.Timeout = c.Timeout
	return cfg
}

// PaginationConfig returns the retriever configuration.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		MaxResults: c.MaxResults,
		MaxPages:   c.MaxPages,
		PerPage:    c.PerPage,
	}
}

// LoggingConfig returns the logger configuration. Output stays unset so
// logging.Setup writes to stderr.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:  level,
		Pretty: c.Log.Pretty,
	}
}
