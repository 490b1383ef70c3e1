package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/realtime"
)

// InsertChannel is the channel the notifications insert trigger notifies on.
const InsertChannel = "notification_inserted"

// ChangeFeed implements realtime.ChangeFeed with LISTEN on a dedicated pool
// connection. A dropped connection is re-established after the reconnect
// delay; notifications sent while disconnected are lost.
type ChangeFeed struct {
	pool      *pgxpool.Pool
	channel   string
	reconnect time.Duration
	logger    *slog.Logger
}

// ChangeFeedOption configures a ChangeFeed.
type ChangeFeedOption func(*ChangeFeed)

// WithChannel overrides the LISTEN channel.
func WithChannel(name string) ChangeFeedOption {
	return func(f *ChangeFeed) {
		if name != "" {
			f.channel = name
		}
	}
}

// WithReconnectDelay sets the pause before re-listening after a failure.
func WithReconnectDelay(d time.Duration) ChangeFeedOption {
	return func(f *ChangeFeed) {
		if d > 0 {
			f.reconnect = d
		}
	}
}

// WithChangeFeedLogger sets the logger.
func WithChangeFeedLogger(l *slog.Logger) ChangeFeedOption {
	return func(f *ChangeFeed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewChangeFeed creates a feed over pool.
func NewChangeFeed(pool *pgxpool.Pool, opts ...ChangeFeedOption) *ChangeFeed {
	f := &ChangeFeed{
		pool:      pool,
		channel:   InsertChannel,
		reconnect: 2 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ realtime.ChangeFeed = (*ChangeFeed)(nil)

// Run listens until ctx is done and returns ctx.Err().
func (f *ChangeFeed) Run(ctx context.Context, handle func(context.Context, realtime.Change)) error {
	for {
		err := f.listen(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.LogAttrs(ctx, slog.LevelWarn, "change feed interrupted, reconnecting",
			logger.Component("pgstore.changefeed"),
			logger.Error(err),
			logger.Duration(f.reconnect),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnect):
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context, handle func(context.Context, realtime.Change)) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if !conn.Conn().IsClosed() {
			unlistenCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
			cancel()
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return err
	}
	f.logger.LogAttrs(ctx, slog.LevelDebug, "listening for notification inserts",
		slog.String("channel", f.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var c realtime.Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil || c.ID == "" || c.UserID == "" {
			f.logger.LogAttrs(ctx, slog.LevelWarn, "malformed change payload",
				logger.Error(errors.Join(errors.New("pgstore: bad payload"), err)),
				slog.String("payload", n.Payload),
			)
			continue
		}
		handle(ctx, c)
	}
}
