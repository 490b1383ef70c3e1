package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifier/pkg/dispatch"
	"github.com/dmitrymomot/notifier/pkg/httpserver"
	"github.com/dmitrymomot/notifier/pkg/metrics"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
	"github.com/dmitrymomot/notifier/pkg/realtime"
	"github.com/dmitrymomot/notifier/pkg/requestid"
)

// Notifications is the per-user notification inbox.
type Notifications interface {
	Get(ctx context.Context, userID, id string) (notifications.Notification, error)
	List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID, id string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Dispatcher turns domain events into notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, e dispatch.Event) (notifications.Notification, error)
}

// Preferences reads and updates notification preferences.
type Preferences interface {
	Get(ctx context.Context, userID string) (preferences.Preference, error)
	Update(ctx context.Context, userID string, patch preferences.Patch) (preferences.Preference, error)
}

// Subscriptions manages browser push subscriptions.
type Subscriptions interface {
	Register(ctx context.Context, userID, endpoint string, keys push.Keys) (push.Subscription, error)
	Unregister(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string) ([]push.Subscription, error)
}

// Streams opens realtime sessions.
type Streams interface {
	Subscribe(ctx context.Context, userID string) realtime.Subscription
}

// Deps are the services behind the routes. Subscriptions and Streams may be
// nil, in which case their routes answer 404.
type Deps struct {
	Notifications Notifications
	Dispatcher    Dispatcher
	Preferences   Preferences
	Subscriptions Subscriptions
	Streams       Streams
}

// API holds the HTTP handlers.
type API struct {
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics
	checks  []httpserver.Check

	defaultLimit   int
	maxLimit       int
	refresh        time.Duration
	allowedOrigins []string
	vapidPublicKey string
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records request metrics and exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithReadinessChecks sets the dependencies probed by /readyz.
func WithReadinessChecks(checks ...httpserver.Check) Option {
	return func(a *API) {
		a.checks = append(a.checks, checks...)
	}
}

// WithPageSize sets the default and maximum page size of list endpoints.
func WithPageSize(def, maxSize int) Option {
	return func(a *API) {
		if def > 0 {
			a.defaultLimit = def
		}
		if maxSize >= a.defaultLimit {
			a.maxLimit = maxSize
		}
	}
}

// WithStreamRefresh sets how often streams re-send the unread count, which
// also keeps idle connections alive.
func WithStreamRefresh(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.refresh = d
		}
	}
}

// WithAllowedOrigins lists origins allowed to open a WebSocket in addition to
// the request host itself.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) {
		a.allowedOrigins = append(a.allowedOrigins, origins...)
	}
}

// WithVAPIDPublicKey exposes the key browsers need to subscribe.
func WithVAPIDPublicKey(key string) Option {
	return func(a *API) {
		a.vapidPublicKey = key
	}
}

// New creates the API.
func New(deps Deps, opts ...Option) *API {
	a := &API{
		deps:         deps,
		logger:       slog.Default(),
		defaultLimit: 50,
		maxLimit:     200,
		refresh:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(a.observe)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(a.logger, 5*time.Second, a.checks...))
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Post("/events", a.createEvent)

	r.Group(func(r chi.Router) {
		r.Use(a.requireUser)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.listNotifications)
			r.Get("/unread-count", a.unreadCount)
			r.Post("/read-all", a.markAllRead)
			r.Get("/ws", a.websocketStream)
			r.Get("/stream", a.signalStream)
			r.Get("/{id}", a.getNotification)
			r.Post("/{id}/read", a.markRead)
			r.Delete("/{id}", a.deleteNotification)
		})

		r.Route("/push", func(r chi.Router) {
			r.Get("/public-key", a.vapidKey)
			r.Get("/subscriptions", a.listSubscriptions)
			r.Post("/subscriptions", a.registerSubscription)
			r.Delete("/subscriptions/{id}", a.unregisterSubscription)
		})

		r.Get("/preferences", a.getPreferences)
		r.Patch("/preferences", a.updatePreferences)
	})

	return r
}
