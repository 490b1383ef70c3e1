package dispatch

import (
	"maps"
	"time"

	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
)

// EventKind names a domain event.
type EventKind string

const (
	EventAssignmentDue      EventKind = "assignment_due"
	EventGradePosted        EventKind = "grade_posted"
	EventMessageReceived    EventKind = "message_received"
	EventSystemAnnouncement EventKind = "system_announcement"
)

// Event is a domain event addressed to one user.
type Event struct {
	Kind      EventKind              `json:"kind"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title,omitempty"`
	Message   string                 `json:"message"`
	ActionURL string                 `json:"action_url,omitempty"`
	Priority  notifications.Priority `json:"priority,omitempty"` // overrides the route priority when set
	Metadata  map[string]any         `json:"metadata,omitempty"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
}

// Route is the static mapping of an event kind.
type Route struct {
	Category     preferences.Category
	Priority     notifications.Priority
	Type         notifications.Type
	DefaultTitle string
}

var defaultRoutes = map[EventKind]Route{
	EventAssignmentDue: {
		Category:     preferences.CategoryAssignments,
		Priority:     notifications.PriorityMedium,
		Type:         notifications.TypeAssignment,
		DefaultTitle: "Assignment due",
	},
	EventGradePosted: {
		Category:     preferences.CategoryGrades,
		Priority:     notifications.PriorityMedium,
		Type:         notifications.TypeSuccess,
		DefaultTitle: "New grade posted",
	},
	EventMessageReceived: {
		Category:     preferences.CategoryMessages,
		Priority:     notifications.PriorityLow,
		Type:         notifications.TypeMessage,
		DefaultTitle: "New message",
	},
	EventSystemAnnouncement: {
		Category:     preferences.CategorySystem,
		Priority:     notifications.PriorityHigh,
		Type:         notifications.TypeSystem,
		DefaultTitle: "Announcement",
	},
}

// Routes returns a copy of the built-in route table.
func Routes() map[EventKind]Route {
	return maps.Clone(defaultRoutes)
}

// Lookup returns the route for kind.
func Lookup(kind EventKind) (Route, bool) {
	r, ok := defaultRoutes[kind]
	return r, ok
}

func (e Event) notification(r Route) notifications.Notification {
	title := e.Title
	if title == "" {
		title = r.DefaultTitle
	}
	priority := r.Priority
	if e.Priority != "" {
		priority = e.Priority
	}
	return notifications.Notification{
		UserID:    e.UserID,
		Type:      r.Type,
		Priority:  priority,
		Title:     title,
		Message:   e.Message,
		ActionURL: e.ActionURL,
		Metadata:  e.Metadata,
		ExpiresAt: e.ExpiresAt,
	}
}
