package realtime

import (
	"context"
	"errors"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("realtime: hub is closed")

// Publisher delivers a notification to the recipient's sessions.
type Publisher interface {
	Publish(ctx context.Context, userID string, n notifications.Notification) error
}

// Subscription is a single realtime session.
type Subscription interface {
	// C yields notifications in publish order. It is closed when the
	// session ends for any reason.
	C() <-chan notifications.Notification
	// Close ends the session. It is idempotent.
	Close() error
}

// Hub routes notifications to per-user sessions.
type Hub interface {
	Publisher
	// Subscribe opens a session for userID that ends when ctx is done or
	// Close is called.
	Subscribe(ctx context.Context, userID string) Subscription
	Close() error
}

// NopPublisher discards every notification. It is used when realtime
// delivery is driven by a change feed instead of the dispatcher.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, notifications.Notification) error { return nil }
