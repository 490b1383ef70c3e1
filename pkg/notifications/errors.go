package notifications

import "errors"

var (
	// ErrNotFound is returned when a notification does not exist, was
	// deleted, or belongs to another user.
	ErrNotFound = errors.New("notifications: notification not found")

	// ErrStoreUnavailable wraps any failure of the backing store. Callers may
	// retry at their discretion.
	ErrStoreUnavailable = errors.New("notifications: store unavailable")

	// ErrDuplicateID is returned by storages asked to create a row whose ID
	// exists or existed before.
	ErrDuplicateID = errors.New("notifications: duplicate notification id")

	ErrUserIDRequired  = errors.New("notifications: user id is required")
	ErrInvalidType     = errors.New("notifications: invalid notification type")
	ErrInvalidPriority = errors.New("notifications: invalid notification priority")
)
