package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}

	if !isValidEnum(cfg.Cache.Backend, ValidBackendKinds) {
		errs = append(errs, fmt.Sprintf("cache.backend must be one of %v, got %q", ValidBackendKinds, cfg.Cache.Backend))
	}
	if cfg.Cache.DefaultTTL < 0 {
		errs = append(errs, fmt.Sprintf("cache.default_ttl must be non-negative, got %d", cfg.Cache.DefaultTTL))
	}
	if cfg.Cache.MaxMemoryEntries < 0 {
		errs = append(errs, fmt.Sprintf("cache.max_memory_entries must be non-negative, got %d", cfg.Cache.MaxMemoryEntries))
	}
	if cfg.Cache.SweepInterval < 0 {
		errs = append(errs, "cache.sweep_interval must be non-negative")
	}

	if cfg.Cache.Backend == "redis" && cfg.Cache.Redis.Addr == "" {
		errs = append(errs, "cache.redis.addr must be set when cache.backend is \"redis\"")
	}
	if cfg.Cache.Redis.ValuePrefix == "" {
		errs = append(errs, "cache.redis.value_prefix must not be empty")
	}
	if cfg.Cache.Redis.MetaPrefix == "" {
		errs = append(errs, "cache.redis.meta_prefix must not be empty")
	}
	if cfg.Cache.Redis.ValuePrefix == cfg.Cache.Redis.MetaPrefix {
		errs = append(errs, "cache.redis.value_prefix and cache.redis.meta_prefix must differ")
	}

	if cfg.Cache.DistSingleflight.Enabled {
		if !isValidEnum(cfg.Cache.DistSingleflight.DistLock.Kind, ValidLockKinds) {
			errs = append(errs, fmt.Sprintf("cache.dist_singleflight.lock.kind must be one of %v, got %q", ValidLockKinds, cfg.Cache.DistSingleflight.DistLock.Kind))
		}
		if cfg.Cache.DistSingleflight.LockTTL <= 0 {
			errs = append(errs, "cache.dist_singleflight.lock_ttl must be positive when distributed singleflight is enabled")
		}
		if cfg.Cache.DistSingleflight.LockTimeout < 0 {
			errs = append(errs, "cache.dist_singleflight.lock_timeout must be non-negative")
		}
		if cfg.Cache.DistSingleflight.DistLock.Kind == "sqlite" && cfg.Cache.DistSingleflight.DistLock.SQLitePath == "" {
			errs = append(errs, "cache.dist_singleflight.lock.sqlite_path must be set when lock.kind is \"sqlite\"")
		}
	}

	if cfg.Admin.Enabled && cfg.Admin.Addr == "" {
		errs = append(errs, "admin.addr must be set when admin.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
