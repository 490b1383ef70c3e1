package digest

import "errors"

var (
	ErrUnknownPeriod  = errors.New("digest: unknown period")
	ErrMarkerNotFound = errors.New("digest: marker not found")
	ErrSchedulerState = errors.New("digest: scheduler already started")
)
