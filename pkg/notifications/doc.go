// Package notifications owns the notification record and the repository
// that keeps read/unread state consistent.
//
// The package is split in three layers:
//
//   - Storage persists rows (MemoryStorage here, pgstore.NotificationStorage for Postgres).
//   - UnreadCache memoizes per-user unread counts (MemoryUnreadCache here, redis.UnreadCache for Redis).
//   - Repository is the entry point used by the dispatcher and the HTTP API.
//     It assigns identifiers and timestamps, serializes mutations per user
//     and invalidates the cached count on every create, read and delete.
//
// The unread count of a user always equals the number of rows returned by
// List with UnreadOnly set: unread rows whose ExpiresAt is unset or still in
// the future. Expired rows are kept in storage but excluded from counts,
// from default listings and from digests.
//
//	repo := notifications.NewRepository(notifications.NewMemoryStorage())
//	n, err := repo.Create(ctx, notifications.Notification{
//	    UserID:   "user-1",
//	    Type:     notifications.TypeAssignment,
//	    Priority: notifications.PriorityMedium,
//	    Title:    "Essay due tomorrow",
//	})
//	count, err := repo.UnreadCount(ctx, "user-1")
package notifications
