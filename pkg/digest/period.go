package digest

import (
	"time"

	"github.com/dmitrymomot/notifier/pkg/preferences"
)

// Period is a digest cadence.
type Period = preferences.DigestPeriod

const (
	Daily  = preferences.DigestDaily
	Weekly = preferences.DigestWeekly
)

// Window returns the last complete local day or ISO week (Monday 00:00) that
// ends at or before now in loc. start is inclusive, end exclusive.
func Window(period Period, now time.Time, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch period {
	case Daily:
		return midnight.AddDate(0, 0, -1), midnight, nil
	case Weekly:
		// days since Monday
		offset := (int(midnight.Weekday()) + 6) % 7
		end = midnight.AddDate(0, 0, -offset)
		return end.AddDate(0, 0, -7), end, nil
	}
	return time.Time{}, time.Time{}, ErrUnknownPeriod
}

// DueAt returns the local time at which the window ending at end should be
// delivered: hour o'clock on the day the window ends, in end's location.
func DueAt(end time.Time, hour int) time.Time {
	return time.Date(end.Year(), end.Month(), end.Day(), hour, 0, 0, 0, end.Location())
}
