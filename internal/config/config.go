// Package config loads, validates, and hot-reloads memocache's runtime
// configuration: which backend and lock implementation the pipeline should
// use, default TTLs, and the optional admin HTTP surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for memocache.
type Config struct {
	Server ServerConfig `mapstructure:"server" toml:"server"`
	Cache  CacheConfig  `mapstructure:"cache"  toml:"cache"`
	Admin  AdminConfig  `mapstructure:"admin"  toml:"admin"`
}

// ServerConfig holds process-wide settings unrelated to caching policy.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" toml:"log_level"`
	DataDir  string `mapstructure:"data_dir"  toml:"data_dir"`
}

// CacheConfig controls the pipeline's default behavior: which backend to
// use, default TTL, key-space isolation, and distributed singleflight.
type CacheConfig struct {
	Backend          string                 `mapstructure:"backend"           toml:"backend"`
	DefaultTTL       int                    `mapstructure:"default_ttl"       toml:"default_ttl"` // seconds
	MaxMemoryEntries int                    `mapstructure:"max_memory_entries" toml:"max_memory_entries"`
	SweepInterval    time.Duration          `mapstructure:"sweep_interval"    toml:"sweep_interval"`
	KeyPrefix        string                 `mapstructure:"key_prefix"        toml:"key_prefix"`
	Namespace        string                 `mapstructure:"namespace"         toml:"namespace"`
	Redis            RedisConfig            `mapstructure:"redis"             toml:"redis"`
	DistSingleflight DistSingleflightConfig `mapstructure:"dist_singleflight" toml:"dist_singleflight"`
}

// RedisConfig configures the remote KV backend.
type RedisConfig struct {
	Addr        string `mapstructure:"addr"         toml:"addr"`
	DB          int    `mapstructure:"db"           toml:"db"`
	Password    string `mapstructure:"password"     toml:"password"`
	ValuePrefix string `mapstructure:"value_prefix" toml:"value_prefix"`
	MetaPrefix  string `mapstructure:"meta_prefix"  toml:"meta_prefix"`
}

// DistSingleflightConfig controls cross-process dedup of concurrent misses.
type DistSingleflightConfig struct {
	Enabled     bool           `mapstructure:"enabled"      toml:"enabled"`
	LockTTL     time.Duration  `mapstructure:"lock_ttl"     toml:"lock_ttl"`
	LockTimeout time.Duration  `mapstructure:"lock_timeout" toml:"lock_timeout"`
	DistLock    DistLockConfig `mapstructure:"lock"         toml:"lock"`
}

// DistLockConfig selects and configures the advisory lock implementation.
type DistLockConfig struct {
	Kind       string `mapstructure:"kind"        toml:"kind"` // "redis" or "sqlite"
	SQLitePath string `mapstructure:"sqlite_path" toml:"sqlite_path"`
}

// AdminConfig controls the optional chi-based stats/invalidation HTTP surface.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Addr    string `mapstructure:"addr"    toml:"addr"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (MEMOCACHE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.memocache/memocache.toml
//  4. ./memocache.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("MEMOCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".memocache"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("memocache")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.memocache/memocache.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".memocache")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ImportConfig reads a TOML config file and replaces the active config.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.max_memory_entries", d.Cache.MaxMemoryEntries)
	v.SetDefault("cache.sweep_interval", d.Cache.SweepInterval)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
	v.SetDefault("cache.namespace", d.Cache.Namespace)

	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.value_prefix", d.Cache.Redis.ValuePrefix)
	v.SetDefault("cache.redis.meta_prefix", d.Cache.Redis.MetaPrefix)

	v.SetDefault("cache.dist_singleflight.enabled", d.Cache.DistSingleflight.Enabled)
	v.SetDefault("cache.dist_singleflight.lock_ttl", d.Cache.DistSingleflight.LockTTL)
	v.SetDefault("cache.dist_singleflight.lock_timeout", d.Cache.DistSingleflight.LockTimeout)
	v.SetDefault("cache.dist_singleflight.lock.kind", d.Cache.DistSingleflight.DistLock.Kind)
	v.SetDefault("cache.dist_singleflight.lock.sqlite_path", d.Cache.DistSingleflight.DistLock.SQLitePath)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.addr", d.Admin.Addr)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
