package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifier/pkg/logger"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Realtime sources.
const (
	RealtimeMemory     = "memory"     // in-process hub, single instance
	RealtimeRedis      = "redis"      // Redis pub/sub between instances
	RealtimeChangeFeed = "changefeed" // Postgres LISTEN/NOTIFY drives the local hub
)

// Config is the process level configuration. Component settings live in
// their own packages and are loaded separately.
type Config struct {
	Env       string        `env:"APP_ENV" envDefault:"development"`
	Service   string        `env:"APP_NAME" envDefault:"notifier"`
	LogLevel  slog.Level    `env:"LOG_LEVEL" envDefault:"info"` // development always logs at debug
	LogFormat logger.Format `env:"LOG_FORMAT"`                  // overrides the APP_ENV preset when set

	Storage        string        `env:"STORAGE_BACKEND" envDefault:"memory"`
	RedisEnabled   bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RealtimeSource string        `env:"REALTIME_SOURCE" envDefault:"memory"`
	UnreadCacheTTL time.Duration `env:"UNREAD_CACHE_TTL" envDefault:"5m"`
	HubBuffer      int           `env:"REALTIME_SESSION_BUFFER" envDefault:"32"`
	HubMaxTopics   int           `env:"REALTIME_MAX_TOPICS" envDefault:"10000"`

	StreamRefresh  time.Duration `env:"STREAM_REFRESH" envDefault:"30s"`
	AllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	PageSize       int           `env:"API_PAGE_SIZE" envDefault:"50"`
	MaxPageSize    int           `env:"API_MAX_PAGE_SIZE" envDefault:"200"`

	EmailEnabled    bool              `env:"EMAIL_ENABLED" envDefault:"true"`
	RecipientQuery  string            `env:"EMAIL_RECIPIENT_QUERY"`                   // postgres lookup of a user's address
	StaticRecipient map[string]string `env:"EMAIL_RECIPIENTS" envKeyValSeparator:"="` // user=address pairs for the memory backend

	PushIcon  string `env:"PUSH_ICON"`
	PushBadge string `env:"PUSH_BADGE"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// Validate checks the backend combinations.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage)
	}
	switch c.RealtimeSource {
	case RealtimeMemory:
	case RealtimeRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("REALTIME_SOURCE=%s requires REDIS_ENABLED", c.RealtimeSource)
		}
	case RealtimeChangeFeed:
		if c.Storage != StoragePostgres {
			return fmt.Errorf("REALTIME_SOURCE=%s requires STORAGE_BACKEND=%s", c.RealtimeSource, StoragePostgres)
		}
	default:
		return fmt.Errorf("unknown REALTIME_SOURCE %q", c.RealtimeSource)
	}
	return nil
}

func (c Config) loggerOptions() []logger.Option {
	opts := []logger.Option{logger.WithEnvironment(c.Env, c.Service)}
	if c.Env == logger.EnvProduction || c.Env == logger.EnvStaging {
		opts = append(opts, logger.WithLevel(c.LogLevel))
	}
	if c.LogFormat != "" {
		opts = append(opts, logger.WithFormat(c.LogFormat))
	}
	return opts
}
