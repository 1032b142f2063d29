// Package config loads the deskq CLI configuration.
//
// Configuration comes from a single YAML file named by the --config flag or,
// when the flag is absent, the DESKQ_CONFIG environment variable. Without
// either the built-in defaults are used unchanged. Values in the file are
// merged over the defaults; ${VAR} and ${VAR:-default} are expanded in paths
// and the API base URL.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

const EnvVar = "DESKQ_CONFIG"

type Config struct {
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Hooks   HooksConfig   `yaml:"hooks"`
}

type APIConfig struct {
	// BaseURL is the REST root, e.g. https://desk.example.com/api.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxBody caps response bodies in bytes.
	MaxBody int64 `yaml:"max_body"`
}

type LogConfig struct {
	// Backend is zap, logrus or slog.
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
	// Format is console or json.
	Format string `yaml:"format"`
}

type CacheConfig struct {
	Namespace string        `yaml:"namespace"`
	GCDelay   time.Duration `yaml:"gc_delay"`
	StaleTime time.Duration `yaml:"stale_time"`

	// Store selects the persistence tier: none, memory, bigcache, ristretto,
	// redis or sqlite.
	Store      string        `yaml:"store"`
	Path       string        `yaml:"path"` // sqlite file
	PersistTTL time.Duration `yaml:"persist_ttl"`
	// GenStore is local or redis. redis is required when several processes
	// share one persistence store.
	GenStore string `yaml:"genstore"`

	MaxEntrySize int   `yaml:"max_entry_size"` // bigcache
	MaxCost      int64 `yaml:"max_cost"`       // ristretto, bytes
}

type SessionConfig struct {
	// Store is sqlite, redis or memory.
	Store           string        `yaml:"store"`
	Path            string        `yaml:"path"`
	Codec           string        `yaml:"codec"` // json or msgpack
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	TTL             time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix namespaces the keys of the redis stores.
	Prefix string `yaml:"prefix"`
}

type HooksConfig struct {
	// Events logs cache events through slog.
	Events bool `yaml:"events"`
	// Metrics records cache events as OpenTelemetry counters on the global
	// meter provider.
	Metrics bool `yaml:"metrics"`
	// QueueSize bounds the asynchronous event queue. 0 => 1024.
	QueueSize int `yaml:"queue_size"`
	// SampleEvery logs one in N discard and self-heal events.
	SampleEvery uint64 `yaml:"sample_every"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:3000/api",
			Timeout: 30 * time.Second,
			MaxBody: 8 << 20,
		},
		Log: LogConfig{Backend: "zap", Level: "info", Format: "console"},
		Cache: CacheConfig{
			Namespace:  "desk",
			GCDelay:    5 * time.Minute,
			Store:      "none",
			Path:       "${HOME}/.config/deskq/cache.db",
			PersistTTL: 24 * time.Hour,
			GenStore:   "local",
		},
		Session: SessionConfig{
			Store:           "sqlite",
			Path:            "${HOME}/.config/deskq/session.db",
			Codec:           "json",
			RefreshInterval: 25 * time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "deskq:"},
		Hooks: HooksConfig{QueueSize: 1024, SampleEvery: 100},
	}
}

// Load resolves the file from flagPath or DESKQ_CONFIG.
func Load(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidConfig, "config: read file"),
			"path", path,
		)
	}
	return Parse(data)
}

// Parse merges YAML data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "config: parse yaml")
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.API.BaseURL = expandVars(c.API.BaseURL)
	c.Cache.Path = expandPath(c.Cache.Path)
	c.Session.Path = expandPath(c.Session.Path)
}

func expandPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(expandVars(p))
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		if parts[1] == "HOME" {
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		}
		return parts[2]
	})
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %v", field, v, allowed)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url is required"))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout must not be negative"))
	}
	if c.Cache.Namespace == "" {
		errs = append(errs, fmt.Errorf("cache.namespace is required"))
	}
	errs = append(errs,
		oneOf("log.backend", c.Log.Backend, "zap", "logrus", "slog"),
		oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error"),
		oneOf("log.format", c.Log.Format, "console", "json"),
		oneOf("cache.store", c.Cache.Store, "none", "memory", "bigcache", "ristretto", "redis", "sqlite"),
		oneOf("cache.genstore", c.Cache.GenStore, "local", "redis"),
		oneOf("session.store", c.Session.Store, "sqlite", "redis", "memory"),
		oneOf("session.codec", c.Session.Codec, "json", "msgpack"),
	)
	if c.Cache.Store == "sqlite" && c.Cache.Path == "" {
		errs = append(errs, fmt.Errorf("cache.path is required for the sqlite store"))
	}
	if c.Session.Store == "sqlite" && c.Session.Path == "" {
		errs = append(errs, fmt.Errorf("session.path is required for the sqlite store"))
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "config: invalid")
	}
	return nil
}

// UsesRedis reports whether any component needs the redis client.
func (c *Config) UsesRedis() bool {
	return c.Cache.Store == "redis" || c.Cache.GenStore == "redis" || c.Session.Store == "redis"
}
