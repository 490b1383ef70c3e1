package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/metrics"
	"github.com/dmitrymomot/notifier/pkg/notifications"
)

const (
	DefaultBufferSize = 32
	DefaultMaxTopics  = 10_000
)

// MemoryHub is an in-process Hub. All methods are safe for concurrent use.
type MemoryHub struct {
	topics     *topicLRU
	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

// MemoryHubOption configures a MemoryHub.
type MemoryHubOption func(*memoryHubConfig)

type memoryHubConfig struct {
	bufferSize int
	maxTopics  int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// WithBufferSize sets the per-session buffer. A session that falls this many
// messages behind is dropped.
func WithBufferSize(n int) MemoryHubOption {
	return func(c *memoryHubConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithMaxTopics bounds the number of users with open sessions. When exceeded,
// the least recently used topic and its sessions are closed.
func WithMaxTopics(n int) MemoryHubOption {
	return func(c *memoryHubConfig) {
		if n > 0 {
			c.maxTopics = n
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(l *slog.Logger) MemoryHubOption {
	return func(c *memoryHubConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHubMetrics records dropped sessions.
func WithHubMetrics(m *metrics.Metrics) MemoryHubOption {
	return func(c *memoryHubConfig) {
		c.metrics = m
	}
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(opts ...MemoryHubOption) *MemoryHub {
	cfg := memoryHubConfig{
		bufferSize: DefaultBufferSize,
		maxTopics:  DefaultMaxTopics,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryHub{
		topics:     newTopicLRU(cfg.maxTopics),
		bufferSize: cfg.bufferSize,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
	}
}

func (h *MemoryHub) Subscribe(ctx context.Context, userID string) Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		sess *Session
		t    *topic
	)
	sess = NewSession(h.bufferSize, func() { h.leave(t, sess) })

	if h.closed {
		_ = sess.Close()
		return sess
	}

	for {
		var evicted *topic
		t, evicted = h.topics.getOrCreate(userID)
		if evicted != nil {
			h.closeTopic(evicted)
		}
		if t.add(sess) {
			break
		}
		// lost a race with removeIfEmpty; the next lookup creates a fresh topic
	}

	sess.BindContext(ctx)
	return sess
}

func (h *MemoryHub) Publish(ctx context.Context, userID string, n notifications.Notification) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	t, ok := h.topics.get(userID)
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	for _, s := range t.publish(n) {
		if s.Closed() {
			continue
		}
		h.metrics.RecordRealtimeDrop()
		h.logger.LogAttrs(ctx, slog.LevelDebug, "dropping slow realtime session",
			logger.UserID(userID),
			logger.NotificationID(n.ID),
		)
		_ = s.Close()
	}
	return nil
}

// Sessions returns the number of open sessions of userID.
func (h *MemoryHub) Sessions(userID string) int {
	t, ok := h.topics.get(userID)
	if !ok {
		return 0
	}
	return t.size()
}

// Topics returns the number of users with open sessions.
func (h *MemoryHub) Topics() int {
	return h.topics.len()
}

// Close ends every session. Further publishes fail with ErrHubClosed.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	for _, t := range h.topics.drain() {
		h.closeTopic(t)
	}
	return nil
}

func (h *MemoryHub) leave(t *topic, s *Session) {
	if t == nil {
		return
	}
	if t.remove(s) {
		h.topics.removeIfEmpty(t)
	}
}

func (h *MemoryHub) closeTopic(t *topic) {
	for _, s := range t.close() {
		_ = s.Close()
	}
}
