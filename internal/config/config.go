// Package config loads and validates the runtime configuration for
// dbgtoolsrv, following the teacher's viper/cobra/godotenv precedence
// (flags > env > .env file > defaults).
package config

import (
	"os"
	"time"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Mode string // "dev" or "prod"
	Addr string
	Port int

	DataDir           string
	DebuggerPath      string // explicit override; empty means search the default list
	SymbolSearchPath  string
	SymbolTimeoutMS   int
	SymbolMaxRetries  int
	WarmupDelay       time.Duration

	DefaultTimeout     time.Duration
	ExtendedTimeout    time.Duration
	HeartbeatInterval  time.Duration
	RetentionWindow    time.Duration
	RetentionInterval  time.Duration

	RecoveryBaseBackoff time.Duration
	RecoveryMaxAttempts int

	CacheMaxMemoryBytes     int64
	CacheDefaultTTL         time.Duration
	CacheCleanupInterval    time.Duration
	CachePressureThreshold  float64
	CacheMaxEvictPerCycle   int
	CachePostCleanupTarget  float64

	EnqueueRateLimit  float64
	EnqueueBurst      int

	AuditDBPath string
	AuditEnable bool

	ScriptAuthSecret string
	ScriptAuthTTL    time.Duration

	TelegramBotToken string
	TelegramChatID   int64
}

// FromEnv applies process-environment overrides that the teacher's
// profile type historically special-cased (kept narrow here: data dir
// and debugger path are the two operators most often override without
// touching flags).
func (c *Config) FromEnv() {
	if v := os.Getenv("DBGTOOLSRV_DATA"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DBGTOOLSRV_DEBUGGER_PATH"); v != "" {
		c.DebuggerPath = v
	}
}

// Validate checks invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "prod" {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "mode must be \"dev\" or \"prod\"")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "port must be in (0, 65535]")
	}
	if c.DataDir == "" {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "data directory must not be empty")
	}
	if c.DefaultTimeout <= 0 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "default timeout must be positive")
	}
	if c.ExtendedTimeout < c.DefaultTimeout {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "extended timeout must not be shorter than the default timeout")
	}
	if c.CachePressureThreshold <= 0 || c.CachePressureThreshold >= 1 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "cache pressure threshold must be in (0,1)")
	}
	if c.CachePostCleanupTarget <= 0 || c.CachePostCleanupTarget >= 1 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "cache post-cleanup target ratio must be in (0,1)")
	}
	if c.CacheMaxMemoryBytes <= 0 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "cache max memory bytes must be positive")
	}
	if c.RecoveryMaxAttempts <= 0 {
		return dbgerrors.New(dbgerrors.KindInvalidInput, "recovery max attempts must be positive")
	}
	return nil
}

// IsDev reports whether the server is running in development mode,
// where `serve` logs at debug level instead of info.
func (c *Config) IsDev() bool { return c.Mode == "dev" }

// Defaults returns a Config populated with the values this package
// treats as sane for a bare `dbgtoolsrv serve` invocation; callers
// overlay flags/env on top via viper before calling Validate.
func Defaults() *Config {
	return &Config{
		Mode:                   "dev",
		Port:                   7428,
		DataDir:                "./data",
		SymbolTimeoutMS:        10_000,
		SymbolMaxRetries:       2,
		WarmupDelay:            300 * time.Millisecond,
		DefaultTimeout:         90 * time.Second,
		ExtendedTimeout:        10 * time.Minute,
		HeartbeatInterval:      5 * time.Second,
		RetentionWindow:        30 * time.Minute,
		RetentionInterval:      time.Minute,
		RecoveryBaseBackoff:    time.Second,
		RecoveryMaxAttempts:    3,
		CacheMaxMemoryBytes:    64 << 20,
		CacheDefaultTTL:        10 * time.Minute,
		CacheCleanupInterval:   30 * time.Second,
		CachePressureThreshold: 0.85,
		CacheMaxEvictPerCycle:  256,
		CachePostCleanupTarget: 0.6,
		EnqueueRateLimit:       50,
		EnqueueBurst:           100,
		AuditEnable:            true,
		ScriptAuthTTL:          5 * time.Minute,
	}
}
