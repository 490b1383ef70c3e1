package quiethours

import (
	"sync"
	"time"

	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// Window is a quiet period in local time. Start is inclusive, End exclusive.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// ParseWindow builds a window from two "HH:MM" strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Empty reports whether the window never suppresses anything.
func (w Window) Empty() bool {
	return w.Start == w.End
}

// Contains reports whether the local time of day t falls inside the window.
func (w Window) Contains(t TimeOfDay) bool {
	if w.Start <= w.End {
		return w.Start <= t && t < w.End
	}
	// wraps midnight
	return t >= w.Start || t < w.End
}

// Reason explains a Decision.
type Reason string

const (
	ReasonNotConfigured Reason = "not_configured"
	ReasonOutsideWindow Reason = "outside_window"
	ReasonInsideWindow  Reason = "inside_window"
	ReasonHighPriority  Reason = "high_priority"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	SuppressPush bool
	Reason       Reason
}

// Evaluate decides whether push delivery at instant at must be suppressed for
// a user with window w in timezone tz. A nil window never suppresses. An
// unknown timezone is evaluated as UTC.
func Evaluate(w *Window, tz string, at time.Time, priority notifications.Priority) Decision {
	if w == nil || w.Empty() {
		return Decision{Reason: ReasonNotConfigured}
	}
	if priority == notifications.PriorityHigh {
		return Decision{Reason: ReasonHighPriority}
	}
	if !w.Contains(Of(at.In(Location(tz)))) {
		return Decision{Reason: ReasonOutsideWindow}
	}
	return Decision{SuppressPush: true, Reason: ReasonInsideWindow}
}

var locations sync.Map // tz name -> *time.Location

// LoadLocation resolves an IANA timezone name. The empty name is UTC.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}
	if v, ok := locations.Load(tz); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, ErrInvalidTimezone
	}
	locations.Store(tz, loc)
	return loc, nil
}

// Location is LoadLocation falling back to UTC.
func Location(tz string) *time.Location {
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
