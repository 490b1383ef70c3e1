package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/realtime"
)

// Hub is a realtime.Hub shared by every instance. Publish goes through Redis
// pub/sub; each instance relays what it receives to its local sessions.
// Delivery is at most once: messages published while an instance is not
// subscribed are not replayed.
type Hub struct {
	db     redis.UniversalClient
	prefix string
	local  *realtime.MemoryHub
	logger *slog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*hubConfig)

type hubConfig struct {
	prefix    string
	logger    *slog.Logger
	localOpts []realtime.MemoryHubOption
}

// WithHubPrefix sets the key prefix of the pub/sub channels.
func WithHubPrefix(p string) HubOption {
	return func(c *hubConfig) {
		c.prefix = orDefaultPrefix(p)
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(c *hubConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLocalHub passes options to the in-process hub that holds the sessions.
func WithLocalHub(opts ...realtime.MemoryHubOption) HubOption {
	return func(c *hubConfig) {
		c.localOpts = append(c.localOpts, opts...)
	}
}

// NewHub subscribes to the user channel pattern and starts relaying. It fails
// when the subscription cannot be confirmed.
func NewHub(ctx context.Context, client redis.UniversalClient, opts ...HubOption) (*Hub, error) {
	cfg := hubConfig{prefix: "notifier:", logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Hub{
		db:     client,
		prefix: cfg.prefix,
		local:  realtime.NewMemoryHub(append([]realtime.MemoryHubOption{realtime.WithHubLogger(cfg.logger)}, cfg.localOpts...)...),
		logger: cfg.logger,
		done:   make(chan struct{}),
	}

	h.pubsub = client.PSubscribe(ctx, h.channel("*"))
	if _, err := h.pubsub.Receive(ctx); err != nil {
		_ = h.pubsub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	go h.run(runCtx)
	return h, nil
}

var _ realtime.Hub = (*Hub)(nil)

func (h *Hub) channel(userID string) string {
	return h.prefix + "user:" + userID
}

// Publish sends n to every instance.
func (h *Hub) Publish(ctx context.Context, userID string, n notifications.Notification) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return realtime.ErrHubClosed
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return h.db.Publish(ctx, h.channel(userID), raw).Err()
}

// Subscribe opens a session on this instance.
func (h *Hub) Subscribe(ctx context.Context, userID string) realtime.Subscription {
	return h.local.Subscribe(ctx, userID)
}

// Sessions returns the number of sessions userID has on this instance.
func (h *Hub) Sessions(userID string) int {
	return h.local.Sessions(userID)
}

// Close stops relaying and ends local sessions.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	err := h.pubsub.Close()
	<-h.done
	return errors.Join(err, h.local.Close())
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	userPrefix := h.channel("")
	for msg := range h.pubsub.Channel() {
		userID, ok := strings.CutPrefix(msg.Channel, userPrefix)
		if !ok || userID == "" {
			continue
		}
		var n notifications.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			h.logger.LogAttrs(ctx, slog.LevelWarn, "malformed realtime message",
				logger.UserID(userID),
				logger.Error(err),
			)
			continue
		}
		if err := h.local.Publish(ctx, userID, n); err != nil && !errors.Is(err, realtime.ErrHubClosed) {
			h.logger.LogAttrs(ctx, slog.LevelWarn, "local realtime publish failed",
				logger.UserID(userID),
				logger.Error(err),
			)
		}
	}
}
