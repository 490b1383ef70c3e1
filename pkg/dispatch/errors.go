package dispatch

import "errors"

var (
	// ErrUnknownEvent is returned for an event kind with no route. Nothing is persisted.
	ErrUnknownEvent = errors.New("dispatch: unknown event kind")

	// ErrDispatcherClosed is returned by Dispatch after Shutdown.
	ErrDispatcherClosed = errors.New("dispatch: dispatcher is shut down")

	ErrUserIDRequired = errors.New("dispatch: user id is required")
)
