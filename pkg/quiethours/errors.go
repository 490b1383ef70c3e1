package quiethours

import "errors"

var (
	ErrInvalidTimeOfDay = errors.New("quiethours: invalid time of day, expected HH:MM")
	ErrInvalidTimezone  = errors.New("quiethours: unknown timezone")
)
