package config

import "time"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "memocache.toml"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.memocache"

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultBackend is the default backend kind when none is configured.
const DefaultBackend = "memory"

// DefaultTTLSeconds is the default entry lifetime applied when a call site
// does not override it.
const DefaultTTLSeconds = 300

// DefaultMaxMemoryEntries is the default bound on the in-memory backend's
// LRU eviction; zero disables bounded eviction.
const DefaultMaxMemoryEntries = 0

// DefaultSweepInterval is the default interval for the in-memory backend's
// background expiry sweeper.
const DefaultSweepInterval = 1 * time.Minute

// DefaultValuePrefix and DefaultMetaPrefix are the Redis key-space prefixes
// used by the remote backend, per the persisted layout contract.
const (
	DefaultValuePrefix = "memocache:v:"
	DefaultMetaPrefix  = "memocache:m"
)

// DefaultRedisAddr is the default Redis address for the remote backend.
const DefaultRedisAddr = "127.0.0.1:6379"

// DefaultRedisDB is the default Redis logical database index.
const DefaultRedisDB = 0

// DefaultDistLockTTL is the default distributed lock lease duration.
const DefaultDistLockTTL = 10 * time.Second

// DefaultDistLockTimeout is the default wait time for distributed lock
// acquisition before degrading to uncoordinated computation.
const DefaultDistLockTimeout = 3 * time.Second

// DefaultSQLiteLockPath is the default path for the sqlite-backed lock
// store, relative to the configured data directory.
const DefaultSQLiteLockPath = "locks.db"

// ValidLogLevels lists the accepted values for Server.LogLevel.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidBackendKinds lists the accepted values for Cache.Backend.
var ValidBackendKinds = []string{"memory", "redis"}

// ValidLockKinds lists the accepted values for Cache.DistSingleflight.DistLock.Kind.
var ValidLockKinds = []string{"redis", "sqlite"}

// DefaultConfig returns a fully-populated Config using the constants above.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: DefaultLogLevel,
			DataDir:  DefaultDataDir,
		},
		Cache: CacheConfig{
			Backend:          DefaultBackend,
			DefaultTTL:       DefaultTTLSeconds,
			MaxMemoryEntries: DefaultMaxMemoryEntries,
			SweepInterval:    DefaultSweepInterval,
			KeyPrefix:        "",
			Namespace:        "",
			Redis: RedisConfig{
				Addr:        DefaultRedisAddr,
				DB:          DefaultRedisDB,
				ValuePrefix: DefaultValuePrefix,
				MetaPrefix:  DefaultMetaPrefix,
			},
			DistSingleflight: DistSingleflightConfig{
				Enabled:     false,
				LockTTL:     DefaultDistLockTTL,
				LockTimeout: DefaultDistLockTimeout,
				DistLock: DistLockConfig{
					Kind:       "redis",
					SQLitePath: DefaultSQLiteLockPath,
				},
			},
		},
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7681",
		},
	}
}
