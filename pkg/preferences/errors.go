package preferences

import "errors"

var (
	// ErrNotFound is returned by a Store when the user has no row yet.
	ErrNotFound = errors.New("preferences: not found")

	// ErrStoreUnavailable wraps any failure of the backing store.
	ErrStoreUnavailable = errors.New("preferences: store unavailable")

	ErrUserIDRequired   = errors.New("preferences: user id is required")
	ErrInvalidTimezone  = errors.New("preferences: invalid timezone")
	ErrInvalidQuietHour = errors.New("preferences: invalid quiet hours")
)
