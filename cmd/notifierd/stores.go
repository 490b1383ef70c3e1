package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifier/pkg/config"
	"github.com/dmitrymomot/notifier/pkg/digest"
	"github.com/dmitrymomot/notifier/pkg/email"
	"github.com/dmitrymomot/notifier/pkg/httpserver"
	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/pg"
	"github.com/dmitrymomot/notifier/pkg/pgstore"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
	"github.com/dmitrymomot/notifier/pkg/redis"
)

// stores are the persistence adapters selected by Config.
type stores struct {
	notifications notifications.Storage
	unread        notifications.UnreadCache
	preferences   preferences.Store
	subscriptions push.Store
	markers       digest.MarkerStore
	recipients    email.RecipientResolver
	checks        []httpserver.Check

	pool        *pgxpool.Pool
	redis       *goredis.Client
	redisPrefix string
}

func (s *stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg Config, log *slog.Logger) (*stores, error) {
	s := &stores{
		notifications: notifications.NewMemoryStorage(),
		unread:        notifications.NewMemoryUnreadCache(),
		preferences:   preferences.NewMemoryStore(),
		subscriptions: push.NewMemoryStore(),
		markers:       digest.NewMemoryMarkerStore(),
		recipients:    email.StaticResolver(cfg.StaticRecipient),
	}

	if cfg.Storage == StoragePostgres {
		if err := s.openPostgres(ctx, cfg, log); err != nil {
			s.Close()
			return nil, err
		}
	}
	if cfg.RedisEnabled {
		if err := s.openRedis(ctx, cfg, log); err != nil {
			s.Close()
			return nil, err
		}
	}

	log.LogAttrs(ctx, slog.LevelInfo, "stores ready",
		slog.String("storage", cfg.Storage),
		slog.Bool("redis", cfg.RedisEnabled),
	)
	return s, nil
}

func (s *stores) openPostgres(ctx context.Context, cfg Config, log *slog.Logger) error {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return fmt.Errorf("load postgres config: %w", err)
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	s.pool = pool

	if pgCfg.AutoMigrate {
		migrateLog := log.With(logger.Component("migrations"))
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, pgCfg, migrateLog); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}

	s.notifications = pgstore.NewNotificationStorage(pool)
	s.preferences = pgstore.NewPreferenceStore(pool)
	s.subscriptions = pgstore.NewSubscriptionStore(pool)
	s.markers = pgstore.NewMarkerStore(pool)
	if len(cfg.StaticRecipient) == 0 {
		s.recipients = pgstore.NewRecipientDirectory(pool, cfg.RecipientQuery)
	}
	s.checks = append(s.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
	return nil
}

func (s *stores) openRedis(ctx context.Context, cfg Config, log *slog.Logger) error {
	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return fmt.Errorf("load redis config: %w", err)
	}

	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	s.redis = client
	s.redisPrefix = redisCfg.KeyPrefix

	s.unread = redis.NewUnreadCache(client, redisCfg.KeyPrefix)
	if cfg.Storage != StoragePostgres {
		// postgres markers win when both backends are configured
		s.markers = redis.NewDigestMarkers(client, redisCfg.KeyPrefix)
	}
	s.checks = append(s.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})

	log.LogAttrs(ctx, slog.LevelDebug, "redis connected", slog.String("prefix", redisCfg.KeyPrefix))
	return nil
}
