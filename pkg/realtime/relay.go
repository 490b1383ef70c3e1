package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// Change identifies a freshly inserted notification.
type Change struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// ChangeFeed streams inserts until ctx is done. Run returns ctx.Err() on
// cancellation and any other error when the feed breaks.
type ChangeFeed interface {
	Run(ctx context.Context, handle func(context.Context, Change)) error
}

// Loader reads a notification by owner and id.
type Loader interface {
	Get(ctx context.Context, userID, id string) (notifications.Notification, error)
}

// Relay publishes every notification announced by a change feed to a local
// publisher.
type Relay struct {
	feed   ChangeFeed
	loader Loader
	pub    Publisher
	logger *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the relay logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRelay creates a relay from feed to pub.
func NewRelay(feed ChangeFeed, loader Loader, pub Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		feed:   feed,
		loader: loader,
		pub:    pub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until ctx is done or the feed fails.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.LogAttrs(ctx, slog.LevelInfo, "realtime relay started")
	err := r.feed.Run(ctx, r.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Relay) handle(ctx context.Context, c Change) {
	n, err := r.loader.Get(ctx, c.UserID, c.ID)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, notifications.ErrNotFound) {
			// deleted before we got to it
			level = slog.LevelDebug
		}
		r.logger.LogAttrs(ctx, level, "relay could not load notification",
			logger.UserID(c.UserID),
			logger.NotificationID(c.ID),
			logger.Error(err),
		)
		return
	}

	if err := r.pub.Publish(ctx, n.UserID, n); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "relay publish failed",
			logger.UserID(n.UserID),
			logger.NotificationID(n.ID),
			logger.Error(err),
		)
	}
}
