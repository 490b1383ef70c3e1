package notifications

import (
	"context"
	"time"
)

// Storage persists notification rows. Implementations return ErrNotFound
// for rows that are missing or owned by a different user; any other error is
// treated by the Repository as the store being unavailable.
type Storage interface {
	Create(ctx context.Context, n Notification) error
	Get(ctx context.Context, userID, id string) (Notification, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)

	// MarkRead flips a single row to read. It reports whether the row changed.
	MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error)

	// MarkAllRead flips every unread, non-expired row of the user and
	// returns how many rows changed.
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)

	Delete(ctx context.Context, userID, id string) error
	UnreadSummary(ctx context.Context, userID string, at time.Time) (UnreadSummary, error)
}

// ListOptions filters and pages a user's notifications.
// Results are ordered by CreatedAt, newest first.
type ListOptions struct {
	UnreadOnly     bool
	IncludeExpired bool
	Limit          int        // 0 = no limit
	Offset         int
	Since          *time.Time // inclusive lower bound on CreatedAt
	Until          *time.Time // exclusive upper bound on CreatedAt

	// AsOf is the instant used to evaluate expiry. Zero means time.Now().
	AsOf time.Time
}

func (o ListOptions) asOf() time.Time {
	if o.AsOf.IsZero() {
		return time.Now()
	}
	return o.AsOf
}

// Matches reports whether n passes the filters of o. Storages that filter in
// memory use it so every implementation agrees on the semantics.
func (o ListOptions) Matches(n Notification) bool {
	at := o.asOf()
	if !o.IncludeExpired && n.IsExpired(at) {
		return false
	}
	if o.UnreadOnly && !n.CountsAsUnread(at) {
		return false
	}
	if o.Since != nil && n.CreatedAt.Before(*o.Since) {
		return false
	}
	if o.Until != nil && !n.CreatedAt.Before(*o.Until) {
		return false
	}
	return true
}
