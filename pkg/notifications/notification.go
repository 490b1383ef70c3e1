package notifications

import (
	"fmt"
	"strings"
	"time"
)

// Type is the display category of a notification.
type Type string

const (
	TypeInfo       Type = "info"
	TypeSuccess    Type = "success"
	TypeWarning    Type = "warning"
	TypeError      Type = "error"
	TypeAssignment Type = "assignment"
	TypeMessage    Type = "message"
	TypeSystem     Type = "system"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError, TypeAssignment, TypeMessage, TypeSystem:
		return true
	}
	return false
}

// Priority decides whether a notification may bypass quiet hours.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// Notification is a per-user notification record.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      Type           `json:"type"`
	Priority  Priority       `json:"priority"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"action_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// IsExpired reports whether the notification has expired at the given instant.
func (n Notification) IsExpired(at time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(at)
}

// CountsAsUnread reports whether the notification contributes to the unread
// count at the given instant.
func (n Notification) CountsAsUnread(at time.Time) bool {
	return !n.Read && !n.IsExpired(at)
}

// UnreadSummary is the storage answer to an unread count query.
// NextExpiry is the earliest ExpiresAt among the counted rows, if any; a
// cached count is only valid until then.
type UnreadSummary struct {
	Count      int
	NextExpiry *time.Time
}
