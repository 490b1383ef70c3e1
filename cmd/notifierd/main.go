// Command notifierd runs the notification service: the HTTP API, realtime
// streams, push and email delivery, and the digest scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifier/pkg/api"
	"github.com/dmitrymomot/notifier/pkg/config"
	"github.com/dmitrymomot/notifier/pkg/digest"
	"github.com/dmitrymomot/notifier/pkg/dispatch"
	"github.com/dmitrymomot/notifier/pkg/email"
	"github.com/dmitrymomot/notifier/pkg/httpserver"
	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/metrics"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/pgstore"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
	"github.com/dmitrymomot/notifier/pkg/realtime"
	"github.com/dmitrymomot/notifier/pkg/redis"
	"github.com/dmitrymomot/notifier/pkg/requestid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "notifierd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	log := logger.New(append(cfg.loggerOptions(), logger.WithContextExtractors(api.UserIDExtractor, requestid.LoggerExtractor))...)
	logger.SetAsDefault(log)

	var mt *metrics.Metrics
	if cfg.MetricsEnabled {
		var err error
		if mt, err = metrics.New(metrics.Options{}); err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	repo := notifications.NewRepository(st.notifications,
		notifications.WithUnreadCache(st.unread),
		notifications.WithCacheTTL(cfg.UnreadCacheTTL),
		notifications.WithRepositoryLogger(log.With(logger.Component("notifications"))),
	)
	prefs := preferences.NewManager(st.preferences,
		preferences.WithManagerLogger(log.With(logger.Component("preferences"))),
	)

	rt, err := openRealtime(ctx, cfg, st, repo, mt, log)
	if err != nil {
		return err
	}
	defer func() { _ = rt.hub.Close() }()

	dispatchOpts := []dispatch.Option{
		dispatch.WithRealtime(rt.publisher),
		dispatch.WithPushAssets(cfg.PushIcon, cfg.PushBadge),
		dispatch.WithLogger(log.With(logger.Component("dispatch"))),
		dispatch.WithMetrics(mt),
	}
	apiOpts := []api.Option{
		api.WithLogger(log.With(logger.Component("api"))),
		api.WithReadinessChecks(st.checks...),
		api.WithPageSize(cfg.PageSize, cfg.MaxPageSize),
		api.WithStreamRefresh(cfg.StreamRefresh),
		api.WithAllowedOrigins(cfg.AllowedOrigins...),
	}
	if mt != nil {
		apiOpts = append(apiOpts, api.WithMetrics(mt))
	}
	deps := api.Deps{
		Notifications: repo,
		Preferences:   prefs,
		Streams:       rt.hub,
	}

	var pushCfg push.Config
	if err := config.Load(&pushCfg); err != nil {
		return err
	}
	if pushCfg.Enabled() {
		transport, err := push.NewWebPushTransport(pushCfg)
		if err != nil {
			return fmt.Errorf("init web push: %w", err)
		}
		pm := push.NewManagerFromConfig(pushCfg, st.subscriptions, transport,
			push.WithManagerLogger(log.With(logger.Component("push"))),
			push.WithMetrics(mt),
		)
		dispatchOpts = append(dispatchOpts, dispatch.WithPush(pm))
		apiOpts = append(apiOpts, api.WithVAPIDPublicKey(pushCfg.VAPIDPublicKey))
		deps.Subscriptions = pm
	} else {
		log.LogAttrs(ctx, slog.LevelWarn, "VAPID keys not configured, push delivery disabled")
	}

	var notifier *email.Notifier
	if cfg.EmailEnabled {
		if notifier, err = openEmail(st.recipients, log); err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithEmail(notifier))
	}

	dispatcher := dispatch.New(repo, prefs, dispatchOpts...)
	deps.Dispatcher = dispatcher

	var digestCfg digest.Config
	if err := config.Load(&digestCfg); err != nil {
		return err
	}
	var scheduler *digest.Scheduler
	if digestCfg.Enabled && notifier != nil {
		job := digest.NewJob(prefs, repo, st.markers, notifier,
			digest.WithClaimTTL(digestCfg.ClaimTTL),
			digest.WithConcurrency(digestCfg.Concurrency),
			digest.WithSendHour(digestCfg.SendHour),
			digest.WithJobLogger(log.With(logger.Component("digest"))),
			digest.WithJobMetrics(mt),
		)
		scheduler = digest.NewSchedulerFromConfig(digestCfg, job,
			digest.WithSchedulerLogger(log.With(logger.Component("digest"))),
		)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start digest scheduler: %w", err)
		}
	}

	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))
	handler := api.New(deps, apiOpts...).Routes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, handler)
	})
	if rt.relay != nil {
		g.Go(func() error {
			return rt.relay.Run(gctx)
		})
	}
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpCfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop digest scheduler: %w", err))
		}
	}
	// in-flight deliveries get until the deadline, then they are cancelled
	_ = dispatcher.Wait(shutdownCtx)
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain dispatcher: %w", err))
	}

	log.LogAttrs(shutdownCtx, slog.LevelInfo, "notifier stopped")
	return errors.Join(errs...)
}

type realtimeStack struct {
	hub       realtime.Hub
	publisher realtime.Publisher
	relay     *realtime.Relay
}

func openRealtime(ctx context.Context, cfg Config, st *stores, repo *notifications.Repository, mt *metrics.Metrics, log *slog.Logger) (realtimeStack, error) {
	hubLog := log.With(logger.Component("realtime"))
	hubOpts := []realtime.MemoryHubOption{
		realtime.WithBufferSize(cfg.HubBuffer),
		realtime.WithMaxTopics(cfg.HubMaxTopics),
		realtime.WithHubLogger(hubLog),
		realtime.WithHubMetrics(mt),
	}

	switch cfg.RealtimeSource {
	case RealtimeRedis:
		hub, err := redis.NewHub(ctx, st.redis,
			redis.WithHubPrefix(st.redisPrefix),
			redis.WithHubLogger(hubLog),
			redis.WithLocalHub(hubOpts...),
		)
		if err != nil {
			return realtimeStack{}, fmt.Errorf("init redis hub: %w", err)
		}
		return realtimeStack{hub: hub, publisher: hub}, nil

	case RealtimeChangeFeed:
		hub := realtime.NewMemoryHub(hubOpts...)
		feed := pgstore.NewChangeFeed(st.pool, pgstore.WithChangeFeedLogger(hubLog))
		relay := realtime.NewRelay(feed, repo, hub, realtime.WithRelayLogger(hubLog))
		// inserts reach the hub through the relay only
		return realtimeStack{hub: hub, publisher: realtime.NopPublisher{}, relay: relay}, nil
	}

	hub := realtime.NewMemoryHub(hubOpts...)
	return realtimeStack{hub: hub, publisher: hub}, nil
}

func openEmail(resolver email.RecipientResolver, log *slog.Logger) (*email.Notifier, error) {
	var emailCfg email.Config
	if err := config.Load(&emailCfg); err != nil {
		return nil, err
	}

	emailLog := log.With(logger.Component("email"))
	var sender email.EmailSender
	if emailCfg.PostmarkEnabled() {
		client, err := email.NewPostmarkClient(emailCfg, email.WithPostmarkLogger(emailLog))
		if err != nil {
			return nil, fmt.Errorf("init postmark: %w", err)
		}
		sender = client
	} else {
		emailLog.Warn("postmark not configured, writing emails to disk", slog.String("dir", emailCfg.DevDir))
		sender = email.NewDevSender(emailCfg.DevDir, email.WithDevLogger(emailLog))
	}

	return email.NewNotifier(sender, resolver, email.WithAppURL(emailCfg.AppURL), email.WithNotifierLogger(emailLog)), nil
}
